package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/doeshing/shai-agent/internal/application/chain"
	"github.com/doeshing/shai-agent/internal/application/contextassembly"
	"github.com/doeshing/shai-agent/internal/application/routing"
	"github.com/doeshing/shai-agent/internal/application/safety"
	"github.com/doeshing/shai-agent/internal/application/toolcall"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/audit"
	"github.com/doeshing/shai-agent/internal/infrastructure/confirmation"
	"github.com/doeshing/shai-agent/internal/infrastructure/executor"
	"github.com/doeshing/shai-agent/internal/infrastructure/security"
	"github.com/doeshing/shai-agent/internal/pkg/logger"
	"github.com/doeshing/shai-agent/internal/ports"
)

type reply struct {
	content string
	err     error
}

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []reply
	tiers   []domain.ModelTier
	opts    []ports.CompleteOptions
}

func (c *scriptedCompleter) Complete(_ context.Context, _ []domain.ConversationTurn, tier domain.ModelTier, opts ports.CompleteOptions) (domain.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = append(c.tiers, tier)
	c.opts = append(c.opts, opts)
	if len(c.replies) == 0 {
		return domain.Completion{}, errors.New("no scripted reply")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	if next.err != nil {
		return domain.Completion{}, next.err
	}
	return domain.Completion{Content: next.content, ModelLabel: "test/" + string(tier)}, nil
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tiers)
}

type staticContext struct{ text string }

func (s staticContext) Build(context.Context, string, contextassembly.BuildOptions) domain.ContextResult {
	return domain.ContextResult{Text: s.text, Degraded: []string{contextassembly.SourceNameKnowledge}}
}

type countingRunner struct {
	mu    sync.Mutex
	specs []ports.ProcessSpec
}

func (r *countingRunner) Run(_ context.Context, spec ports.ProcessSpec) (ports.ProcessResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return ports.ProcessResult{Stdout: "ok"}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

type fixture struct {
	service   *Service
	completer *scriptedCompleter
	runner    *countingRunner
	audit     *audit.MemoryLog
	root      string
}

func newFixture(t *testing.T, confirmer ports.Confirmer, replies ...reply) fixture {
	t.Helper()
	log := logger.NewZapFrom(zaptest.NewLogger(t))

	rules, err := security.DefaultRules()
	require.NoError(t, err)
	guardrail, err := security.NewGuardrailFromRules(rules)
	require.NoError(t, err)

	runner := &countingRunner{}
	auditLog := audit.NewMemoryLog(50)
	sandbox, err := executor.NewSandbox(executor.Config{Root: t.TempDir()}, guardrail, runner, auditLog, log)
	require.NoError(t, err)

	gate, err := safety.NewGate(confirmation.NewMemoryStore(), confirmer, sandbox, log, safety.Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	completer := &scriptedCompleter{replies: replies}
	service := &Service{
		Router:    routing.NewRouter(),
		Context:   staticContext{text: "[main.go:1]\npackage main"},
		Completer: completer,
		Parser:    toolcall.NewParser(),
		Validator: toolcall.NewValidator(),
		Gate:      gate,
		Chainer:   chain.NewChainer(completer, log),
		Logger:    log,
		Tools:     toolcall.Definitions(),
	}
	require.NoError(t, service.Validate())
	return fixture{service: service, completer: completer, runner: runner, audit: auditLog, root: sandbox.Root()}
}

type approve struct{}

func (approve) RequestConfirmation(context.Context, domain.ActionConfirmation) (domain.ConfirmationDecision, error) {
	return domain.ConfirmationDecision{Confirmed: true, ConfirmedBy: "tester"}, nil
}

func process(f fixture, message string) domain.ProcessResponse {
	return f.service.ProcessMessage(context.Background(), domain.ProcessRequest{
		Message:        message,
		UserID:         "u1",
		ConversationID: "c1",
	})
}

func TestGreetingSkipsModel(t *testing.T) {
	f := newFixture(t, approve{})

	resp := process(f, "გამარჯობა")

	require.True(t, resp.Success)
	require.Equal(t, domain.PolicyGreeting, resp.Policy)
	require.Equal(t, ModelNone, resp.Model)
	require.Contains(t, CannedGreetings[chain.Georgian], resp.Response)
	require.NotEmpty(t, resp.RequestID)
	require.Zero(t, f.completer.calls())
}

func TestPlainAnswer(t *testing.T) {
	f := newFixture(t, approve{}, reply{content: "A goroutine is a lightweight thread."})

	resp := process(f, "what is a goroutine?")

	require.True(t, resp.Success)
	require.Equal(t, domain.PolicySimpleQA, resp.Policy)
	require.Equal(t, "test/small", resp.Model)
	require.Equal(t, "A goroutine is a lightweight thread.", resp.Response)
	require.Nil(t, resp.ToolExecuted)
	require.Equal(t, "[main.go:1]\npackage main", f.completer.opts[0].Context)
	require.Len(t, f.completer.opts[0].Tools, 3)
}

func TestCodeQuestionUsesLargeTier(t *testing.T) {
	f := newFixture(t, approve{}, reply{content: "Check the variable is defined."})

	resp := process(f, "I get TypeError: x is undefined")

	require.Equal(t, domain.PolicyCodeComplex, resp.Policy)
	require.Equal(t, []domain.ModelTier{domain.TierLarge}, f.completer.tiers)
}

func TestConfirmedWriteIsExecutedAndChained(t *testing.T) {
	f := newFixture(t, approve{},
		reply{content: "```json\n{\"tool_name\":\"writeFile\",\"parameters\":{\"filePath\":\"notes.md\",\"content\":\"hello\"}}\n```"},
		reply{content: "I saved notes.md for you."},
	)

	resp := process(f, "save hello into notes.md")

	require.True(t, resp.Success)
	require.Equal(t, "I saved notes.md for you.", resp.Response)
	require.NotNil(t, resp.ToolExecuted)
	require.Equal(t, domain.ToolWriteFile, resp.ToolExecuted.Tool)
	require.True(t, resp.ToolExecuted.Success)

	data, err := os.ReadFile(filepath.Join(f.root, "notes.md"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, 1, f.audit.Len())
}

func TestTraversalWriteIsRejected(t *testing.T) {
	f := newFixture(t, approve{},
		reply{content: `{"tool_name":"writeFile","parameters":{"filePath":"../../etc/passwd","content":"x"}}`},
		reply{err: errors.New("chain unavailable")},
	)

	resp := process(f, "overwrite the passwd file")

	require.False(t, resp.Success)
	require.NotNil(t, resp.ToolExecuted)
	require.False(t, resp.ToolExecuted.Success)
	require.Contains(t, resp.Response, "The writeFile action failed")

	entries, err := f.audit.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Success)
	_, err = os.Stat(filepath.Join(filepath.Dir(filepath.Dir(f.root)), "etc", "passwd"))
	require.True(t, os.IsNotExist(err))
}

func TestDestructiveCommandNeverSpawns(t *testing.T) {
	f := newFixture(t, approve{},
		reply{content: `{"tool_name":"executeCommand","parameters":{"command":"rm","args":["-rf","/"]}}`},
		reply{content: "I refused to run that."},
	)

	resp := process(f, "clean everything")

	require.False(t, resp.Success)
	require.Equal(t, "I refused to run that.", resp.Response)
	require.Zero(t, f.runner.count())
}

func TestConfirmationTimeoutDoesNotExecute(t *testing.T) {
	f := newFixture(t, confirmation.NewAsyncConfirmer(nil),
		reply{content: `{"tool_name":"executeCommand","parameters":{"command":"ls"}}`},
	)

	resp := process(f, "list the files")

	require.False(t, resp.Success)
	require.Equal(t, message(chain.English, msgTimedOut), resp.Response)
	require.Nil(t, resp.ToolExecuted)
	require.Zero(t, f.runner.count())
	require.Zero(t, f.audit.Len())
}

func TestDeniedActionIsNotPerformed(t *testing.T) {
	f := newFixture(t, confirmation.DenyAll{},
		reply{content: `{"tool_name":"installPackage","parameters":{"packageName":"lodash"}}`},
	)

	resp := process(f, "დააინსტალირე lodash")

	require.False(t, resp.Success)
	require.Equal(t, message(chain.Georgian, msgDenied), resp.Response)
	require.Zero(t, f.runner.count())
}

func TestUnderstandingFailures(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  messageKey
	}{
		{"unknown tool", `{"tool_name":"deleteFile","parameters":{"filePath":"a"}}`, msgNotUnderstood},
		{"placeholder path", `{"tool_name":"writeFile","parameters":{"filePath":"<path>","content":"x"}}`, msgNotUnderstood},
		{"two actions", "```json\n{\"tool_name\":\"executeCommand\",\"parameters\":{\"command\":\"ls\"}}\n```\n```json\n{\"tool_name\":\"executeCommand\",\"parameters\":{\"command\":\"pwd\"}}\n```", msgMultipleActions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, approve{}, reply{content: tc.reply})

			resp := process(f, "do the thing")

			require.False(t, resp.Success)
			require.Equal(t, message(chain.English, tc.want), resp.Response)
			require.Zero(t, f.audit.Len())
		})
	}
}

func TestModelFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want messageKey
	}{
		{"auth", &domain.ModelError{Kind: domain.ModelErrorAuth}, msgMisconfigured},
		{"transient", &domain.ModelError{Kind: domain.ModelErrorServer}, msgUnavailable},
		{"bad native arguments", &domain.ToolValidationError{Tool: domain.ToolWriteFile, Reason: "bad"}, msgNotUnderstood},
		{"other", errors.New("no model configured for tier small"), msgInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, approve{}, reply{err: tc.err})

			resp := process(f, "what is a goroutine?")

			require.False(t, resp.Success)
			require.Equal(t, message(chain.English, tc.want), resp.Response)
		})
	}
}

type panickingRouter struct{}

func (panickingRouter) Route(string, domain.RouteOptions) domain.RoutingDecision {
	panic("boom")
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t, approve{})
	f.service.Router = panickingRouter{}

	resp := f.service.ProcessMessage(context.Background(), domain.ProcessRequest{
		Message: "hello there",
		Options: domain.ProcessOptions{RequestID: "req-42"},
	})

	require.False(t, resp.Success)
	require.Equal(t, "req-42", resp.RequestID)
	require.Equal(t, message(chain.English, msgInternal), resp.Response)
}

func TestMissingDependencies(t *testing.T) {
	resp := (&Service{}).ProcessMessage(context.Background(), domain.ProcessRequest{Message: "hi"})
	require.NotEmpty(t, resp.Response)
	require.Error(t, (&Service{}).Validate())
}

func TestEmptyAnswerIsReplaced(t *testing.T) {
	f := newFixture(t, approve{}, reply{content: "   "})

	resp := process(f, "what is a goroutine?")

	require.Equal(t, message(chain.English, msgEmptyAnswer), resp.Response)
}

func TestOverrideForcesTier(t *testing.T) {
	f := newFixture(t, approve{}, reply{content: "hi from large"})

	resp := f.service.ProcessMessage(context.Background(), domain.ProcessRequest{
		Message: "hello",
		Options: domain.ProcessOptions{ModelOverride: "large"},
	})

	require.Equal(t, domain.PolicyManualOverride, resp.Policy)
	require.Equal(t, "hi from large", resp.Response)
	require.Equal(t, []domain.ModelTier{domain.TierLarge}, f.completer.tiers)
}
