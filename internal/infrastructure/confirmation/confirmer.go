package confirmation

import (
	"context"
	"sync"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// AsyncConfirmer waits for a decision delivered out of band through
// Signal, for front ends where the answer arrives on another call.
type AsyncConfirmer struct {
	mu      sync.Mutex
	waiting map[string]chan domain.ConfirmationDecision
	notify  func(domain.ActionConfirmation)
}

// NewAsyncConfirmer creates a confirmer. notify, when set, is called once
// per request before waiting, typically to surface the prompt.
func NewAsyncConfirmer(notify func(domain.ActionConfirmation)) *AsyncConfirmer {
	return &AsyncConfirmer{
		waiting: make(map[string]chan domain.ConfirmationDecision),
		notify:  notify,
	}
}

// RequestConfirmation implements ports.Confirmer. It blocks until Signal
// is called for the action or ctx ends.
func (c *AsyncConfirmer) RequestConfirmation(ctx context.Context, conf domain.ActionConfirmation) (domain.ConfirmationDecision, error) {
	ch := make(chan domain.ConfirmationDecision, 1)
	c.mu.Lock()
	c.waiting[conf.ActionID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiting, conf.ActionID)
		c.mu.Unlock()
	}()

	if c.notify != nil {
		c.notify(conf)
	}

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return domain.ConfirmationDecision{}, ctx.Err()
	}
}

// Signal delivers a decision. It reports false when nothing is waiting
// for the action.
func (c *AsyncConfirmer) Signal(actionID string, decision domain.ConfirmationDecision) bool {
	c.mu.Lock()
	ch, ok := c.waiting[actionID]
	if ok {
		delete(c.waiting, actionID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- decision
	return true
}

// Pending returns the number of actions awaiting a decision.
func (c *AsyncConfirmer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

// DenyAll refuses every action. It is used when no human can answer,
// such as when stdin is not a terminal.
type DenyAll struct{}

func (DenyAll) RequestConfirmation(context.Context, domain.ActionConfirmation) (domain.ConfirmationDecision, error) {
	return domain.ConfirmationDecision{Confirmed: false, ConfirmedBy: "non-interactive"}, nil
}

var (
	_ ports.Confirmer = (*AsyncConfirmer)(nil)
	_ ports.Confirmer = DenyAll{}
)
