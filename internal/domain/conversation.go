package domain

// Role is the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of the history. History slices are only
// ever appended to; callers copy before extending.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AppendTurns returns a new history with the turns appended, leaving the
// input slice untouched.
func AppendTurns(history []ConversationTurn, turns ...ConversationTurn) []ConversationTurn {
	out := make([]ConversationTurn, 0, len(history)+len(turns))
	out = append(out, history...)
	return append(out, turns...)
}

// LastTurn returns the most recent turn with the given role.
func LastTurn(history []ConversationTurn, role Role) (ConversationTurn, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return history[i], true
		}
	}
	return ConversationTurn{}, false
}

// Usage reports token accounting returned by a model backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a normalised model response.
type Completion struct {
	Content    string
	ModelLabel string
	Usage      Usage
	// ToolCalls holds native function calls when the backend supports them.
	ToolCalls []ToolCall
}

// ProcessOptions are caller hints for a single message.
type ProcessOptions struct {
	ModelOverride string
	RequestID     string
}

// ProcessRequest is the orchestrator input.
type ProcessRequest struct {
	Message        string
	History        []ConversationTurn
	UserID         string
	ConversationID string
	Options        ProcessOptions
}

// Session returns the key used for pending confirmations.
func (r ProcessRequest) Session() SessionKey {
	return SessionKey{UserID: r.UserID, ConversationID: r.ConversationID}
}

// ToolExecutionSummary is reported when an action actually ran.
type ToolExecutionSummary struct {
	Tool       ToolName `json:"tool"`
	Success    bool     `json:"success"`
	DurationMS int64    `json:"duration_ms"`
}

// ProcessResponse is the orchestrator output. Response is never empty.
type ProcessResponse struct {
	Success      bool                  `json:"success"`
	Response     string                `json:"response"`
	Policy       Policy                `json:"policy"`
	Model        string                `json:"model"`
	RequestID    string                `json:"request_id"`
	ToolExecuted *ToolExecutionSummary `json:"tool_executed,omitempty"`
}
