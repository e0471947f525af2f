package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/confirmation"
	"github.com/doeshing/shai-agent/internal/pkg/logger"
	"github.com/doeshing/shai-agent/internal/ports"
)

type countingExecutor struct {
	mu       sync.Mutex
	requests []domain.ExecutionRequest
}

func (e *countingExecutor) Execute(_ context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return domain.ExecutionResult{Success: true, Result: "done"}
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

type fixedConfirmer struct {
	decision domain.ConfirmationDecision
	err      error
}

func (c fixedConfirmer) RequestConfirmation(context.Context, domain.ActionConfirmation) (domain.ConfirmationDecision, error) {
	return c.decision, c.err
}

var (
	testSession = domain.SessionKey{UserID: "user", ConversationID: "conv"}
	testCall    = domain.ToolCall{
		ToolName:       domain.ToolExecuteCommand,
		Parameters:     map[string]any{"command": "ls"},
		IdempotencyKey: "idem-1",
	}
	testAction = domain.ExecuteCommandAction{Command: "ls"}
)

func newTestGate(t *testing.T, confirmer ports.Confirmer, timeout time.Duration) (*Gate, *countingExecutor, *confirmation.MemoryStore) {
	t.Helper()
	store := confirmation.NewMemoryStore()
	executor := &countingExecutor{}
	gate, err := NewGate(store, confirmer, executor, logger.NewStd(false), Options{Timeout: timeout})
	require.NoError(t, err)
	return gate, executor, store
}

func TestGateExecutesConfirmedActionOnce(t *testing.T) {
	gate, executor, store := newTestGate(t, fixedConfirmer{decision: domain.ConfirmationDecision{Confirmed: true, ConfirmedBy: "alice"}}, time.Second)

	outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
	require.NoError(t, err)
	require.True(t, outcome.Executed())
	require.True(t, outcome.Result.Success)
	require.Equal(t, domain.ConfirmationConfirmed, outcome.Confirmation.State)
	require.Equal(t, "alice", outcome.Confirmation.ConfirmedBy)
	require.True(t, outcome.Confirmation.Consumed)
	require.Equal(t, 1, executor.count())

	req := executor.requests[0]
	require.Equal(t, "req-1", req.RequestID)
	require.Equal(t, "idem-1", req.IdempotencyKey)
	require.Equal(t, outcome.Confirmation.ActionID, req.ActionID)

	_, err = store.Consume(context.Background(), testSession, outcome.Confirmation.ActionID)
	require.ErrorIs(t, err, domain.ErrAlreadyConsumed)
}

func TestGateDeniedNeverExecutes(t *testing.T) {
	gate, executor, _ := newTestGate(t, fixedConfirmer{decision: domain.ConfirmationDecision{ConfirmedBy: "bob"}}, time.Second)

	outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
	require.NoError(t, err)
	require.False(t, outcome.Executed())
	require.Equal(t, domain.ConfirmationDenied, outcome.Confirmation.State)
	require.Zero(t, executor.count())
}

func TestGateConfirmerErrorDenies(t *testing.T) {
	gate, executor, _ := newTestGate(t, fixedConfirmer{err: errors.New("tty closed")}, time.Second)

	outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
	require.NoError(t, err)
	require.Equal(t, domain.ConfirmationDenied, outcome.Confirmation.State)
	require.Zero(t, executor.count())
}

func TestGateTimeoutNeverExecutes(t *testing.T) {
	defer goleak.VerifyNone(t)

	confirmer := confirmation.NewAsyncConfirmer(nil)
	gate, executor, _ := newTestGate(t, confirmer, 30*time.Millisecond)

	outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
	require.NoError(t, err)
	require.False(t, outcome.Executed())
	require.Equal(t, domain.ConfirmationTimedOut, outcome.Confirmation.State)
	require.Zero(t, executor.count())
	require.Zero(t, confirmer.Pending())
}

func TestGateOutOfBandResolve(t *testing.T) {
	defer goleak.VerifyNone(t)

	notified := make(chan domain.ActionConfirmation, 1)
	confirmer := confirmation.NewAsyncConfirmer(func(conf domain.ActionConfirmation) {
		notified <- conf
	})
	gate, executor, _ := newTestGate(t, confirmer, 5*time.Second)

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
		assert.NoError(t, err)
		done <- outcome
	}()

	pending := <-notified
	current, err := gate.Pending(context.Background(), testSession)
	require.NoError(t, err)
	require.Equal(t, domain.ConfirmationPending, current.State)

	err = gate.Resolve(context.Background(), testSession, "someone-else", domain.ConfirmationDecision{Confirmed: true})
	require.ErrorIs(t, err, domain.ErrConfirmationNotFound)

	require.NoError(t, gate.Resolve(context.Background(), testSession, pending.ActionID, domain.ConfirmationDecision{Confirmed: true, ConfirmedBy: "web"}))

	outcome := <-done
	require.True(t, outcome.Executed())
	require.Equal(t, "web", outcome.Confirmation.ConfirmedBy)
	require.Equal(t, 1, executor.count())

	err = gate.Resolve(context.Background(), testSession, pending.ActionID, domain.ConfirmationDecision{Confirmed: true})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestGateCancelledContextTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, executor, _ := newTestGate(t, confirmation.NewAsyncConfirmer(nil), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := gate.Run(ctx, testSession, testCall, testAction, "req-1")
	require.NoError(t, err)
	require.Equal(t, domain.ConfirmationTimedOut, outcome.Confirmation.State)
	require.Zero(t, executor.count())
}

func TestNewGateRequiresDependencies(t *testing.T) {
	_, err := NewGate(nil, confirmation.DenyAll{}, &countingExecutor{}, logger.NewStd(false), Options{})
	require.Error(t, err)
}

// expiringStore records the TTL of every Put and can pretend that the
// pending record expired before it was resolved.
type expiringStore struct {
	*confirmation.MemoryStore
	expired bool
	ttls    []time.Duration
}

func (s *expiringStore) Put(ctx context.Context, conf domain.ActionConfirmation, ttl time.Duration) error {
	s.ttls = append(s.ttls, ttl)
	return s.MemoryStore.Put(ctx, conf, ttl)
}

func (s *expiringStore) Resolve(ctx context.Context, key domain.SessionKey, actionID string, state domain.ConfirmationState, by string) (domain.ActionConfirmation, error) {
	if s.expired {
		return domain.ActionConfirmation{}, domain.ErrConfirmationNotFound
	}
	return s.MemoryStore.Resolve(ctx, key, actionID, state, by)
}

func TestGateRecordOutlivesTheWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	timeout := 30 * time.Millisecond
	store := &expiringStore{MemoryStore: confirmation.NewMemoryStore()}
	executor := &countingExecutor{}
	gate, err := NewGate(store, confirmation.NewAsyncConfirmer(nil), executor, logger.NewStd(false), Options{Timeout: timeout, TTL: timeout})
	require.NoError(t, err)

	outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
	require.NoError(t, err)
	require.Equal(t, domain.ConfirmationTimedOut, outcome.Confirmation.State)
	require.Equal(t, []time.Duration{timeout + domain.ConfirmationGrace}, store.ttls)

	recorded, err := store.Get(context.Background(), testSession)
	require.NoError(t, err)
	require.Equal(t, domain.ConfirmationTimedOut, recorded.State)
	require.Zero(t, executor.count())
}

func TestGateExpiredRecordKeepsTerminalState(t *testing.T) {
	tests := []struct {
		name      string
		confirmer ports.Confirmer
		want      domain.ConfirmationState
	}{
		{name: "denied", confirmer: fixedConfirmer{}, want: domain.ConfirmationDenied},
		{name: "timed out", confirmer: confirmation.NewAsyncConfirmer(nil), want: domain.ConfirmationTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &expiringStore{MemoryStore: confirmation.NewMemoryStore(), expired: true}
			executor := &countingExecutor{}
			gate, err := NewGate(store, tt.confirmer, executor, logger.NewStd(false), Options{Timeout: 20 * time.Millisecond})
			require.NoError(t, err)

			outcome, err := gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
			require.NoError(t, err)
			require.False(t, outcome.Executed())
			require.Equal(t, tt.want, outcome.Confirmation.State)
			require.Zero(t, executor.count())
		})
	}
}

func TestGateExpiredRecordBlocksConfirmedAction(t *testing.T) {
	store := &expiringStore{MemoryStore: confirmation.NewMemoryStore(), expired: true}
	executor := &countingExecutor{}
	gate, err := NewGate(store, fixedConfirmer{decision: domain.ConfirmationDecision{Confirmed: true}}, executor, logger.NewStd(false), Options{Timeout: time.Second})
	require.NoError(t, err)

	_, err = gate.Run(context.Background(), testSession, testCall, testAction, "req-1")
	require.ErrorIs(t, err, domain.ErrConfirmationNotFound)
	require.Zero(t, executor.count())
}
