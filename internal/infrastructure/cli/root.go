// Package cli exposes the agent pipeline as a cobra command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/doeshing/shai-agent/internal/app"
	"github.com/doeshing/shai-agent/internal/application/routing"
	"github.com/doeshing/shai-agent/internal/domain"
)

const (
	defaultUserID     = "local"
	defaultAuditLimit = 20
	defaultTimeout    = 5 * time.Minute
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose bool
	Version string
	In      io.Reader
	Out     io.Writer
	Err     io.Writer
	// Interactive enables confirmation prompts and the spinner. Without it
	// every proposed action is denied.
	Interactive bool
	// Build overrides container construction.
	Build func(context.Context, app.Options) (*app.Container, error)
}

// session holds state shared by the commands of one invocation.
type session struct {
	opts       Options
	configPath string
	lines      *LineReader
	spinner    *Spinner
	container  *app.Container
}

// NewRootCmd wires the cobra root command. The container is built on first
// use, so commands that need no configuration work without one.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Build == nil {
		opts.Build = app.BuildContainer
	}
	s := &session{opts: opts, lines: NewLineReader(opts.In)}
	if opts.Interactive {
		s.spinner = NewSpinner(opts.Err)
	}

	askCmd := newAskCommand(s)

	root := &cobra.Command{
		Use:     "shai-agent [message]",
		Short:   "Conversational assistant with confirmed local actions",
		Long:    "shai-agent answers questions and, after your confirmation, writes files, installs packages and runs allow-listed commands in the project directory.",
		Version: opts.Version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return askCmd.RunE(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.In)
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	root.PersistentFlags().StringVar(&s.configPath, "config", "", "Path to config.yaml (default $SHAI_AGENT_CONFIG or ~/.shai-agent/config.yaml)")
	root.PersistentFlags().BoolVar(&s.opts.Verbose, "verbose", opts.Verbose, "Print routing details and debug logs")
	root.Flags().AddFlagSet(askCmd.Flags())

	root.AddCommand(
		askCmd,
		newChatCommand(s),
		newRouteCommand(),
		newAuditCommand(s),
		newDoctorCommand(s),
	)
	return root
}

// withContainer builds the container, runs fn and releases the container.
func (s *session) withContainer(ctx context.Context, fn func(*app.Container) error) error {
	container, err := s.build(ctx)
	if err != nil {
		return err
	}
	runErr := fn(container)
	return errors.Join(runErr, s.close())
}

func (s *session) build(ctx context.Context) (*app.Container, error) {
	appOpts := app.Options{ConfigPath: s.configPath, Verbose: s.opts.Verbose}
	if s.opts.Interactive {
		appOpts.Confirmer = NewPrompter(s.lines, s.opts.Out, s.spinner)
	}
	container, err := s.opts.Build(ctx, appOpts)
	if err != nil {
		return nil, fmt.Errorf("initialise: %w", err)
	}
	s.container = container
	return container, nil
}

func (s *session) close() error {
	if s.container == nil {
		return nil
	}
	err := s.container.Close()
	s.container = nil
	return err
}

// process runs one message with the spinner shown while waiting.
func (s *session) process(ctx context.Context, container *app.Container, req domain.ProcessRequest) domain.ProcessResponse {
	if s.spinner != nil {
		s.spinner.Start()
		defer s.spinner.Stop()
	}
	return container.Pipeline.ProcessMessage(ctx, req)
}

type requestFlags struct {
	model        string
	user         string
	conversation string
	timeout      time.Duration
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Force the model tier (small or large)")
	cmd.Flags().StringVar(&f.user, "user", defaultUserID, "User id for pending confirmations")
	cmd.Flags().StringVar(&f.conversation, "conversation", "", "Conversation id (default: random)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", defaultTimeout, "Overall time limit per message")
}

func (f *requestFlags) validate() error {
	if f.model == "" {
		return nil
	}
	if _, ok := domain.ParseOverride(f.model); !ok {
		return fmt.Errorf("--model must be %q or %q", domain.TierSmall, domain.TierLarge)
	}
	return nil
}

func (f *requestFlags) conversationID() string {
	if f.conversation != "" {
		return f.conversation
	}
	return uuid.NewString()
}

func newAskCommand(s *session) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			return s.withContainer(cmd.Context(), func(container *app.Container) error {
				ctx := cmd.Context()
				if flags.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, flags.timeout)
					defer cancel()
				}
				resp := s.process(ctx, container, domain.ProcessRequest{
					Message:        strings.Join(args, " "),
					UserID:         flags.user,
					ConversationID: flags.conversationID(),
					Options:        domain.ProcessOptions{ModelOverride: flags.model},
				})
				RenderResponse(cmd.OutOrStdout(), resp, s.opts.Verbose)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newChatCommand(s *session) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			return s.withContainer(cmd.Context(), func(container *app.Container) error {
				return s.chat(cmd.Context(), cmd.OutOrStdout(), container, flags)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (s *session) chat(ctx context.Context, out io.Writer, container *app.Container, flags requestFlags) error {
	conversationID := flags.conversationID()
	var history []domain.ConversationTurn
	fmt.Fprintln(out, "Type a message, or \"exit\" to quit.")

	for {
		fmt.Fprint(out, "> ")
		line, err := s.lines.Next(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			return nil
		}

		msgCtx := ctx
		cancel := context.CancelFunc(func() {})
		if flags.timeout > 0 {
			msgCtx, cancel = context.WithTimeout(ctx, flags.timeout)
		}
		resp := s.process(msgCtx, container, domain.ProcessRequest{
			Message:        message,
			History:        history,
			UserID:         flags.user,
			ConversationID: conversationID,
			Options:        domain.ProcessOptions{ModelOverride: flags.model},
		})
		cancel()

		RenderResponse(out, resp, s.opts.Verbose)
		history = domain.AppendTurns(history,
			domain.ConversationTurn{Role: domain.RoleUser, Content: message},
			domain.ConversationTurn{Role: domain.RoleAssistant, Content: resp.Response},
		)
	}
}

func newRouteCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "route [message]",
		Short: "Show how a message would be routed without calling a model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			decision := routing.NewRouter().Route(message, domain.RouteOptions{ModelOverride: model})
			features := routing.Measure(message)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "policy:    %s\n", decision.Policy)
			fmt.Fprintf(out, "tier:      %s\n", decision.Tier)
			fmt.Fprintf(out, "words:     %d\n", features.Words)
			fmt.Fprintf(out, "chars:     %d\n", features.Chars)
			fmt.Fprintf(out, "sentences: %d\n", features.Sentences)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Force the model tier (small or large)")
	return cmd
}

func newAuditCommand(s *session) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recently executed actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withContainer(cmd.Context(), func(container *app.Container) error {
				entries, err := container.AuditLog.Recent(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("read audit log: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No actions recorded yet.")
					return nil
				}
				for _, entry := range entries {
					renderAuditEntry(out, entry)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultAuditLimit, "Max entries to show")
	return cmd
}

func newDoctorCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose environment setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withContainer(cmd.Context(), func(container *app.Container) error {
				report, err := container.DoctorService.Run(cmd.Context())
				// Display report even if there were errors
				renderHealthReport(cmd.OutOrStdout(), report)
				if err != nil {
					return fmt.Errorf("diagnostics completed with errors: %w", err)
				}
				return nil
			})
		},
	}
}
