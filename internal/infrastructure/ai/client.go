package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/metrics"
	"github.com/doeshing/shai-agent/internal/ports"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryHook is called before every retry with the failure that caused it.
type RetryHook func(attempt int, err *domain.ModelError, delay time.Duration)

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithSleeper replaces the wall-clock sleeper, mostly for tests.
func WithSleeper(sleep Sleeper) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(hook RetryHook) ClientOption {
	return func(c *Client) { c.onRetry = hook }
}

// Client is the tier-aware model client. It resolves the model bound to a
// tier, prepends the rendered system prompt, bounds every attempt with a
// timeout and retries transient failures.
type Client struct {
	cfg     domain.Config
	factory ports.ProviderFactory
	logger  ports.Logger
	sleep   Sleeper
	onRetry RetryHook
}

// NewClient builds a client over the configured models.
func NewClient(cfg domain.Config, factory ports.ProviderFactory, logger ports.Logger, opts ...ClientOption) *Client {
	c := &Client{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements ports.Completer.
func (c *Client) Complete(ctx context.Context, turns []domain.ConversationTurn, tier domain.ModelTier, opts ports.CompleteOptions) (domain.Completion, error) {
	if !tier.IsCallable() {
		return domain.Completion{}, domain.ErrNoModelTier
	}
	model, err := c.cfg.ModelForTier(tier)
	if err != nil {
		return domain.Completion{}, err
	}
	provider, err := c.factory.ForModel(model)
	if err != nil {
		return domain.Completion{}, err
	}

	system, err := renderSystemPrompt(model, opts.Context)
	if err != nil {
		return domain.Completion{}, err
	}
	req := ports.ProviderRequest{
		Turns:        domain.AppendTurns(system, turns...),
		Model:        model,
		Stream:       opts.Stream,
		StreamWriter: opts.StreamWriter,
		Tools:        opts.Tools,
	}

	timeout := c.cfg.GetRequestTimeout()
	if opts.Stream {
		timeout = c.cfg.GetStreamTimeout()
	}

	start := time.Now()
	completion, err := c.withRetry(ctx, tier, func(ctx context.Context) (domain.Completion, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return provider.Generate(attemptCtx, req)
	})
	metrics.ObserveModelCall(string(tier), err, time.Since(start))
	if err != nil {
		return domain.Completion{}, err
	}
	return completion, nil
}

// withRetry runs call until it succeeds, fails permanently or the retry
// budget is spent. Auth and malformed failures are never retried.
func (c *Client) withRetry(ctx context.Context, tier domain.ModelTier, call func(context.Context) (domain.Completion, error)) (domain.Completion, error) {
	maxRetries := c.cfg.GetMaxRetries()
	for attempt := 0; ; attempt++ {
		completion, err := call(ctx)
		if err == nil {
			return completion, nil
		}

		var modelErr *domain.ModelError
		if !errors.As(err, &modelErr) || !modelErr.Transient() {
			return domain.Completion{}, err
		}
		if ctx.Err() != nil {
			return domain.Completion{}, err
		}
		if attempt >= maxRetries {
			return domain.Completion{}, fmt.Errorf("model call failed after %d attempts: %w", attempt+1, err)
		}

		delay := c.backoff(modelErr.Kind, attempt)
		metrics.ObserveModelRetry(string(modelErr.Kind))
		if c.logger != nil {
			c.logger.Warn("retrying model call", map[string]interface{}{
				"tier":     string(tier),
				"attempt":  attempt + 1,
				"kind":     string(modelErr.Kind),
				"delay_ms": delay.Milliseconds(),
			})
		}
		if c.onRetry != nil {
			c.onRetry(attempt+1, modelErr, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return domain.Completion{}, &domain.ModelError{Kind: domain.ModelErrorTimeout, Provider: modelErr.Provider, Err: err}
		}
	}
}

// backoff returns the wait before retry number attempt (zero based).
// Rate limits follow their own progressive schedule.
func (c *Client) backoff(kind domain.ModelErrorKind, attempt int) time.Duration {
	if kind == domain.ModelErrorRateLimit {
		delays := c.cfg.GetRateLimitDelays()
		if len(delays) > 0 {
			return delays[min(attempt, len(delays)-1)]
		}
	}
	return c.cfg.GetBaseBackoff() << attempt
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ports.Completer = (*Client)(nil)
