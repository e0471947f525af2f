// Package metrics registers the pipeline's prometheus collectors and exposes
// small helpers so callers never touch label ordering directly.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// routingDecisions counts routed messages by policy and tier
	routingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shai_agent_routing_decisions_total",
		Help: "Routed messages by policy and tier",
	}, []string{"policy", "tier"})

	// modelCalls counts model calls by tier and outcome
	modelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shai_agent_model_calls_total",
		Help: "Model calls by tier and outcome",
	}, []string{"tier", "outcome"})

	// modelRetries counts retried attempts by error kind
	modelRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shai_agent_model_retries_total",
		Help: "Retried model attempts by error kind",
	}, []string{"kind"})

	// modelLatency tracks end-to-end model call latency including retries
	modelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shai_agent_model_call_duration_seconds",
		Help:    "Model call duration in seconds, retries included",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
	}, []string{"tier"})

	// toolExecutions counts executed actions by tool and outcome
	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shai_agent_tool_executions_total",
		Help: "Executed actions by tool and outcome",
	}, []string{"tool", "outcome"})

	// confirmations counts gate outcomes by final state
	confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shai_agent_confirmations_total",
		Help: "Safety gate outcomes by state",
	}, []string{"state"})

	// contextTokens tracks the size of assembled context windows
	contextTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shai_agent_context_tokens",
		Help:    "Estimated tokens per assembled context window",
		Buckets: []float64{0, 100, 250, 500, 750, 1000, 1500, 2000, 4000},
	})

	// retrievalFailures counts degraded context sources
	retrievalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shai_agent_retrieval_failures_total",
		Help: "Context sources that failed and were skipped",
	}, []string{"source"})
)

// ObserveRouting records a routing decision.
func ObserveRouting(policy, tier string) {
	routingDecisions.WithLabelValues(policy, tier).Inc()
}

// ObserveModelCall records a finished model call.
func ObserveModelCall(tier string, err error, elapsed time.Duration) {
	modelCalls.WithLabelValues(tier, outcome(err == nil)).Inc()
	modelLatency.WithLabelValues(tier).Observe(elapsed.Seconds())
}

// ObserveModelRetry records one retried attempt.
func ObserveModelRetry(kind string) {
	modelRetries.WithLabelValues(kind).Inc()
}

// ObserveToolExecution records an executed action.
func ObserveToolExecution(tool string, success bool) {
	toolExecutions.WithLabelValues(tool, outcome(success)).Inc()
}

// ObserveConfirmation records a gate outcome.
func ObserveConfirmation(state string) {
	confirmations.WithLabelValues(state).Inc()
}

// ObserveContext records the size of an assembled window.
func ObserveContext(tokens int) {
	contextTokens.Observe(float64(tokens))
}

// ObserveRetrievalFailure records a skipped context source.
func ObserveRetrievalFailure(source string) {
	retrievalFailures.WithLabelValues(source).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
