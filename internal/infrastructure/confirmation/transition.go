// Package confirmation keeps pending action confirmations and collects
// human decisions for them.
package confirmation

import (
	"fmt"
	"time"

	"github.com/doeshing/shai-agent/internal/domain"
)

// resolve applies a Pending -> terminal transition.
func resolve(conf domain.ActionConfirmation, actionID string, state domain.ConfirmationState, by string, now time.Time) (domain.ActionConfirmation, error) {
	if conf.ActionID != actionID {
		return domain.ActionConfirmation{}, fmt.Errorf("action %s: %w", actionID, domain.ErrConfirmationNotFound)
	}
	if !state.IsTerminal() {
		return conf, fmt.Errorf("cannot resolve to %s", state)
	}
	if conf.State != domain.ConfirmationPending {
		return conf, fmt.Errorf("action %s is %s: %w", actionID, conf.State, domain.ErrAlreadyResolved)
	}
	conf.State = state
	conf.ConfirmedBy = by
	conf.ConfirmedAt = now
	return conf, nil
}

// consume marks a confirmed action as executed. It fails on every call
// after the first.
func consume(conf domain.ActionConfirmation, actionID string) (domain.ActionConfirmation, error) {
	if conf.ActionID != actionID {
		return domain.ActionConfirmation{}, fmt.Errorf("action %s: %w", actionID, domain.ErrConfirmationNotFound)
	}
	if conf.State != domain.ConfirmationConfirmed {
		return conf, fmt.Errorf("action %s is %s: %w", actionID, conf.State, domain.ErrNotConfirmed)
	}
	if conf.Consumed {
		return conf, fmt.Errorf("action %s: %w", actionID, domain.ErrAlreadyConsumed)
	}
	conf.Consumed = true
	return conf, nil
}
