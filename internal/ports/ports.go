// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and external
// adapters (infrastructure). Following the Ports and Adapters (Hexagonal) pattern,
// these interfaces allow the pipeline to remain independent of specific
// implementations like model backends, file systems, vector stores or terminals.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., Completer, FileSearcher)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"io"
	"time"

	"github.com/doeshing/shai-agent/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.shai-agent/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// Completer is the tier-aware model client used by the pipeline.
// It owns retries, backoff and response normalisation.
type Completer interface {
	Complete(ctx context.Context, turns []domain.ConversationTurn, tier domain.ModelTier, opts CompleteOptions) (domain.Completion, error)
}

// CompleteOptions tunes a single model call.
type CompleteOptions struct {
	// Context is rendered into the system prompt of the selected model.
	Context      string
	Stream       bool
	StreamWriter io.Writer
	// Tools advertises native function definitions to backends that support them.
	Tools []ToolDefinition
}

// ToolDefinition describes a tool to backends with native function calling.
type ToolDefinition struct {
	Name        string
	Description string
	// Schema is a JSON schema object for the parameters.
	Schema map[string]any
}

// ProviderFactory builds provider instances based on model definitions.
// It abstracts the creation of different backend types (http, openai, degraded).
type ProviderFactory interface {
	ForModel(domain.ModelDefinition) (Provider, error)
}

// Provider performs exactly one model call without retrying.
// Failures are reported as *domain.ModelError so the client can decide to retry.
type Provider interface {
	Name() string
	Model() domain.ModelDefinition
	Generate(context.Context, ProviderRequest) (domain.Completion, error)
}

// ProviderRequest contains all data needed for a single model call.
type ProviderRequest struct {
	Turns        []domain.ConversationTurn
	Model        domain.ModelDefinition
	Stream       bool
	StreamWriter io.Writer
	Tools        []ToolDefinition
}

// FileSearcher searches and reads files below the project root.
type FileSearcher interface {
	Search(ctx context.Context, term string, extensions []string) ([]domain.SearchHit, error)
	ReadFile(ctx context.Context, path string, maxBytes int) (string, error)
}

// KnowledgeIndex returns document fragments semantically similar to a query.
type KnowledgeIndex interface {
	SimilarChunks(ctx context.Context, query string, k int) ([]domain.KnowledgeChunk, error)
}

// ChangeFeed reports recently modified files, newest first.
type ChangeFeed interface {
	RecentChanges(ctx context.Context, limit int) ([]domain.ChangeEntry, error)
}

// Confirmer asks a human to approve a proposed action. It may block until
// the decision arrives; the caller bounds the wait with ctx.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, confirmation domain.ActionConfirmation) (domain.ConfirmationDecision, error)
}

// ConfirmationStore keeps pending confirmations keyed by session with a TTL.
type ConfirmationStore interface {
	Put(ctx context.Context, confirmation domain.ActionConfirmation, ttl time.Duration) error
	Get(ctx context.Context, key domain.SessionKey) (domain.ActionConfirmation, error)
	// Resolve moves a pending confirmation to a terminal state.
	Resolve(ctx context.Context, key domain.SessionKey, actionID string, state domain.ConfirmationState, by string) (domain.ActionConfirmation, error)
	// Consume marks a confirmed action as executed. It succeeds at most once.
	Consume(ctx context.Context, key domain.SessionKey, actionID string) (domain.ActionConfirmation, error)
	Delete(ctx context.Context, key domain.SessionKey) error
}

// ActionExecutor runs a confirmed action inside the sandbox.
type ActionExecutor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult
}

// ProcessSpec describes a child process started without a shell.
type ProcessSpec struct {
	Name           string
	Args           []string
	Dir            string
	Timeout        time.Duration
	MaxOutputBytes int
}

// ProcessResult is the captured outcome of a child process.
type ProcessResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// ProcessRunner spawns child processes.
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (ProcessResult, error)
}

// AuditLog is the append-only, capped record of attempted actions.
type AuditLog interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	// Lookup finds the entry recorded for an idempotency key.
	Lookup(ctx context.Context, idempotencyKey string) (domain.AuditEntry, bool, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// SecurityService owns the sandbox rules shared by the executor and the
// context assembler.
type SecurityService interface {
	// Evaluate scores a full command line against the danger patterns.
	Evaluate(commandLine string) (domain.RiskAssessment, error)
	CheckCommand(command string, args []string) error
	CheckPackage(name string) error
	CheckWritePath(relPath string) error
	AllowsContextPath(path string) bool
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
