package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/app"
	"github.com/doeshing/shai-agent/internal/application/chain"
	"github.com/doeshing/shai-agent/internal/application/contextassembly"
	"github.com/doeshing/shai-agent/internal/application/pipeline"
	"github.com/doeshing/shai-agent/internal/application/routing"
	"github.com/doeshing/shai-agent/internal/application/safety"
	"github.com/doeshing/shai-agent/internal/application/toolcall"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/pkg/logger"
	"github.com/doeshing/shai-agent/internal/ports"
)

const question = "Could you explain what the build script in this repository does?"

type echoCompleter struct {
	mu    sync.Mutex
	calls [][]domain.ConversationTurn
}

func (c *echoCompleter) Complete(_ context.Context, turns []domain.ConversationTurn, tier domain.ModelTier, _ ports.CompleteOptions) (domain.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, turns)
	last, _ := domain.LastTurn(turns, domain.RoleUser)
	return domain.Completion{Content: "echo: " + last.Content, ModelLabel: string(tier) + "-model"}, nil
}

type emptyContext struct{}

func (emptyContext) Build(context.Context, string, contextassembly.BuildOptions) domain.ContextResult {
	return domain.ContextResult{}
}

type refusingGate struct{}

func (refusingGate) Run(context.Context, domain.SessionKey, domain.ToolCall, domain.Action, string) (safety.Outcome, error) {
	return safety.Outcome{}, errors.New("not expected")
}

type silentChainer struct{}

func (silentChainer) Chain(context.Context, chain.Input) string { return "" }

func fakeBuild(completer *echoCompleter, seen *app.Options) func(context.Context, app.Options) (*app.Container, error) {
	return func(_ context.Context, opts app.Options) (*app.Container, error) {
		if seen != nil {
			*seen = opts
		}
		return &app.Container{
			Pipeline: &pipeline.Service{
				Router:    routing.NewRouter(),
				Context:   emptyContext{},
				Completer: completer,
				Parser:    toolcall.NewParser(),
				Validator: toolcall.NewValidator(),
				Gate:      refusingGate{},
				Chainer:   silentChainer{},
				Logger:    logger.NewStd(false),
			},
		}, nil
	}
}

func run(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts.Out = &out
	opts.Err = &bytes.Buffer{}
	if opts.In == nil {
		opts.In = strings.NewReader("")
	}
	root := NewRootCmd(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRouteCommandNeedsNoConfiguration(t *testing.T) {
	opts := Options{Build: func(context.Context, app.Options) (*app.Container, error) {
		t.Fatal("route must not build the container")
		return nil, nil
	}}

	out, err := run(t, opts, "route", "--model", "large", "hi")
	require.NoError(t, err)
	require.Contains(t, out, "policy:    "+string(domain.PolicyManualOverride))
	require.Contains(t, out, "tier:      large")
	require.Contains(t, out, "words:     1")
}

func TestAskRendersReply(t *testing.T) {
	completer := &echoCompleter{}
	var seen app.Options

	out, err := run(t, Options{Build: fakeBuild(completer, &seen)}, "ask", question)
	require.NoError(t, err)
	require.Equal(t, "echo: "+question+"\n", out)
	require.Nil(t, seen.Confirmer, "non-interactive runs must not prompt")
}

func TestRootArgumentsAreAsked(t *testing.T) {
	completer := &echoCompleter{}

	out, err := run(t, Options{Build: fakeBuild(completer, nil), Verbose: true}, "--model", "small", question)
	require.NoError(t, err)
	require.Contains(t, out, "echo: "+question)
	require.Contains(t, out, "policy: "+string(domain.PolicyManualOverride))
	require.Contains(t, out, "model: small-model")
}

func TestAskRejectsUnknownTier(t *testing.T) {
	_, err := run(t, Options{Build: fakeBuild(&echoCompleter{}, nil)}, "ask", "--model", "huge", question)
	require.ErrorContains(t, err, "--model")
}

func TestBuildFailureIsReported(t *testing.T) {
	opts := Options{Build: func(context.Context, app.Options) (*app.Container, error) {
		return nil, errors.New("bad yaml")
	}}

	_, err := run(t, opts, "ask", question)
	require.ErrorContains(t, err, "initialise: bad yaml")
}

func TestChatKeepsHistory(t *testing.T) {
	completer := &echoCompleter{}
	in := strings.NewReader(question + "\n\nAnd which tests does it run before packaging?\nexit\nignored\n")

	out, err := run(t, Options{Build: fakeBuild(completer, nil), In: in}, "chat")
	require.NoError(t, err)
	require.Contains(t, out, "echo: "+question)
	require.Len(t, completer.calls, 2)
	require.Len(t, completer.calls[0], 1)
	second := completer.calls[1]
	require.Len(t, second, 3)
	require.Equal(t, domain.RoleUser, second[0].Role)
	require.Equal(t, question, second[0].Content)
	require.Equal(t, domain.RoleAssistant, second[1].Role)
	require.Equal(t, "echo: "+question, second[1].Content)
}

func TestChatEndsAtEOF(t *testing.T) {
	completer := &echoCompleter{}
	out, err := run(t, Options{Build: fakeBuild(completer, nil), In: strings.NewReader(question + "\n")}, "chat")
	require.NoError(t, err)
	require.Contains(t, out, "echo: ")
	require.Len(t, completer.calls, 1)
}

func confirmationFor(params map[string]any) domain.ActionConfirmation {
	return domain.ActionConfirmation{
		ActionID: "a-1",
		ToolCall: domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: params},
		State:    domain.ConfirmationPending,
	}
}

func TestPrompterRequiresExplicitYes(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "\n", want: false},
		{input: "n\n", want: false},
		{input: "sure\n", want: false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(NewLineReader(strings.NewReader(tt.input)), &out, nil)

			decision, err := p.RequestConfirmation(context.Background(), confirmationFor(map[string]any{"filePath": "notes.md"}))
			require.NoError(t, err)
			require.Equal(t, tt.want, decision.Confirmed)
			require.Equal(t, confirmedByCLI, decision.ConfirmedBy)
			require.Contains(t, out.String(), "writeFile")
			require.Contains(t, out.String(), "filePath: notes.md")
		})
	}
}

func TestPrompterTruncatesLongValues(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(NewLineReader(strings.NewReader("n\n")), &out, nil)

	_, err := p.RequestConfirmation(context.Background(), confirmationFor(map[string]any{"content": strings.Repeat("x", 500)}))
	require.NoError(t, err)
	require.Contains(t, out.String(), "... (500 characters)")
	require.NotContains(t, out.String(), strings.Repeat("x", previewRunes+1))
}

func TestPrompterStopsWaitingWhenContextEnds(t *testing.T) {
	blocked, writer := io.Pipe()
	defer writer.Close()
	p := NewPrompter(NewLineReader(blocked), &bytes.Buffer{}, NewSpinner(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.RequestConfirmation(ctx, confirmationFor(nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpinnerRestarts(t *testing.T) {
	var out bytes.Buffer
	s := NewSpinner(&out)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
	s.Start()
	s.Stop()
	require.Contains(t, out.String(), "\r\033[K")
}

func TestRenderResponseReportsFailedAction(t *testing.T) {
	var out bytes.Buffer
	RenderResponse(&out, domain.ProcessResponse{
		Response:     "The writeFile action failed: disk full",
		Policy:       domain.PolicyCodeComplex,
		Model:        "large-model",
		RequestID:    "req-1",
		ToolExecuted: &domain.ToolExecutionSummary{Tool: domain.ToolWriteFile, DurationMS: 12},
	}, true)

	text := out.String()
	require.Contains(t, text, "(writeFile failed)")
	require.Contains(t, text, "request: req-1")
	require.Contains(t, text, "duration: 12ms")
}
