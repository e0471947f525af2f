package domain

import "time"

// ConfirmationState tracks a pending action through the safety gate.
type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationDenied    ConfirmationState = "denied"
	ConfirmationTimedOut  ConfirmationState = "timed_out"
)

// IsTerminal reports whether no further transition is allowed.
func (s ConfirmationState) IsTerminal() bool {
	return s == ConfirmationConfirmed || s == ConfirmationDenied || s == ConfirmationTimedOut
}

// SessionKey scopes pending confirmations to one user conversation.
type SessionKey struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// String renders the key for storage backends.
func (k SessionKey) String() string {
	return k.UserID + "/" + k.ConversationID
}

// ActionConfirmation is the gate's record of a single proposed action.
type ActionConfirmation struct {
	ActionID    string            `json:"action_id"`
	RequestID   string            `json:"request_id"`
	Session     SessionKey        `json:"session"`
	ToolCall    ToolCall          `json:"tool_call"`
	State       ConfirmationState `json:"state"`
	ConfirmedBy string            `json:"confirmed_by,omitempty"`
	ConfirmedAt time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Consumed    bool              `json:"consumed"`
}

// ConfirmationDecision is what a confirmer reports back.
type ConfirmationDecision struct {
	Confirmed   bool
	ConfirmedBy string
}

// ExecutionResult is produced exactly once per confirmed action.
type ExecutionResult struct {
	Success    bool              `json:"success"`
	Result     string            `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditEntry is one append-only record of an attempted action.
type AuditEntry struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"request_id"`
	ActionID       string    `json:"action_id"`
	Tool           ToolName  `json:"tool"`
	Summary        string    `json:"summary"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Success        bool      `json:"success"`
	Output         string    `json:"output,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Result rebuilds the execution result recorded by the entry.
func (e AuditEntry) Result() ExecutionResult {
	return ExecutionResult{
		Success:    e.Success,
		Result:     e.Output,
		Error:      e.Error,
		DurationMS: e.DurationMS,
	}
}

// ExecutionRequest bundles a confirmed action with the identifiers the
// executor records in the audit log.
type ExecutionRequest struct {
	RequestID      string
	ActionID       string
	IdempotencyKey string
	Action         Action
}
