// Package safety holds the human confirmation checkpoint that every
// action passes before it reaches the executor.
package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/metrics"
	"github.com/doeshing/shai-agent/internal/ports"
)

// Signaler delivers decisions that arrive out of band.
type Signaler interface {
	Signal(actionID string, decision domain.ConfirmationDecision) bool
}

// Options tunes the gate.
type Options struct {
	// Timeout bounds the wait for a decision.
	Timeout time.Duration
	// TTL is how long the confirmation record is kept.
	TTL time.Duration
}

// Outcome reports what happened to one proposed action. Result is nil
// whenever the executor was not invoked.
type Outcome struct {
	Confirmation domain.ActionConfirmation
	Result       *domain.ExecutionResult
}

// Executed reports whether the executor ran.
func (o Outcome) Executed() bool {
	return o.Result != nil
}

// Gate is the only holder of the action executor.
type Gate struct {
	store     ports.ConfirmationStore
	confirmer ports.Confirmer
	executor  ports.ActionExecutor
	logger    ports.Logger
	opts      Options
	now       func() time.Time
}

// NewGate wires the gate. The executor is not reachable through any other
// path in the application.
func NewGate(store ports.ConfirmationStore, confirmer ports.Confirmer, executor ports.ActionExecutor, logger ports.Logger, opts Options) (*Gate, error) {
	if store == nil || confirmer == nil || executor == nil || logger == nil {
		return nil, errors.New("safety.Gate dependencies not satisfied")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = domain.DefaultConfirmationTimeout
	}
	if minimum := opts.Timeout + domain.ConfirmationGrace; opts.TTL < minimum {
		opts.TTL = minimum
	}
	return &Gate{
		store:     store,
		confirmer: confirmer,
		executor:  executor,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Run records the action as pending, waits for a decision and executes the
// action only when it was confirmed. Denied and timed-out actions return a
// nil error; the returned error covers store failures only.
func (g *Gate) Run(ctx context.Context, key domain.SessionKey, call domain.ToolCall, action domain.Action, requestID string) (Outcome, error) {
	conf := domain.ActionConfirmation{
		ActionID:  uuid.NewString(),
		RequestID: requestID,
		Session:   key,
		ToolCall:  call,
		State:     domain.ConfirmationPending,
		CreatedAt: g.now().UTC(),
	}
	if err := g.store.Put(ctx, conf, g.opts.TTL); err != nil {
		return Outcome{Confirmation: conf}, fmt.Errorf("store pending confirmation: %w", err)
	}
	g.logger.Info("awaiting confirmation", map[string]interface{}{
		"request_id": requestID,
		"action_id":  conf.ActionID,
		"action":     domain.DescribeAction(action),
	})

	state, by := g.await(ctx, conf)
	resolved, err := g.store.Resolve(ctx, key, conf.ActionID, state, by)
	metrics.ObserveConfirmation(string(state))
	if err != nil {
		if state != domain.ConfirmationConfirmed && errors.Is(err, domain.ErrConfirmationNotFound) {
			// the record is gone but nothing will run either way
			g.logger.Warn("confirmation record missing at resolution", map[string]interface{}{
				"request_id": requestID,
				"action_id":  conf.ActionID,
				"state":      string(state),
			})
			conf.State = state
			return Outcome{Confirmation: conf}, nil
		}
		return Outcome{Confirmation: conf}, fmt.Errorf("resolve confirmation: %w", err)
	}
	g.logger.Info("confirmation resolved", map[string]interface{}{
		"request_id": requestID,
		"action_id":  conf.ActionID,
		"state":      string(state),
	})

	if resolved.State != domain.ConfirmationConfirmed {
		return Outcome{Confirmation: resolved}, nil
	}

	consumed, err := g.store.Consume(ctx, key, conf.ActionID)
	if err != nil {
		return Outcome{Confirmation: resolved}, fmt.Errorf("consume confirmation: %w", err)
	}

	result := g.executor.Execute(ctx, domain.ExecutionRequest{
		RequestID:      requestID,
		ActionID:       conf.ActionID,
		IdempotencyKey: call.IdempotencyKey,
		Action:         action,
	})
	return Outcome{Confirmation: consumed, Result: &result}, nil
}

// await asks the confirmer, bounded by the gate timeout. Any confirmer
// failure other than the deadline counts as a denial.
func (g *Gate) await(ctx context.Context, conf domain.ActionConfirmation) (domain.ConfirmationState, string) {
	waitCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	decision, err := g.confirmer.RequestConfirmation(waitCtx, conf)
	switch {
	case err != nil && waitCtx.Err() != nil:
		return domain.ConfirmationTimedOut, ""
	case err != nil:
		g.logger.Warn("confirmation failed", map[string]interface{}{
			"action_id": conf.ActionID,
			"error":     err.Error(),
		})
		return domain.ConfirmationDenied, ""
	case waitCtx.Err() != nil:
		// a decision that raced the deadline is not honoured
		return domain.ConfirmationTimedOut, ""
	case decision.Confirmed:
		return domain.ConfirmationConfirmed, decision.ConfirmedBy
	default:
		return domain.ConfirmationDenied, decision.ConfirmedBy
	}
}

// Resolve delivers an out-of-band decision for the pending action of a
// session. It fails when the action is unknown, already resolved, or when
// the configured confirmer cannot take out-of-band signals.
func (g *Gate) Resolve(ctx context.Context, key domain.SessionKey, actionID string, decision domain.ConfirmationDecision) error {
	conf, err := g.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if conf.ActionID != actionID {
		return fmt.Errorf("action %s: %w", actionID, domain.ErrConfirmationNotFound)
	}
	if conf.State.IsTerminal() {
		return fmt.Errorf("action %s is %s: %w", actionID, conf.State, domain.ErrAlreadyResolved)
	}
	signaler, ok := g.confirmer.(Signaler)
	if !ok {
		return errors.New("confirmer does not accept out-of-band decisions")
	}
	if !signaler.Signal(actionID, decision) {
		return fmt.Errorf("action %s is not awaiting a decision: %w", actionID, domain.ErrConfirmationNotFound)
	}
	return nil
}

// Pending returns the confirmation currently recorded for a session.
func (g *Gate) Pending(ctx context.Context, key domain.SessionKey) (domain.ActionConfirmation, error) {
	return g.store.Get(ctx, key)
}
