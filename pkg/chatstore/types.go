package chatstore

import "context"

// Session modes. General sessions are grounded in a named knowledge base,
// jti sessions are the themed persona flow and carry a language instead.
const (
	ModeGeneral = "general"
	ModeJTI     = "jti"
)

// Session is one conversation thread. IDs are server-assigned opaque strings.
type Session struct {
	ID                string `json:"session_id"`
	Mode              string `json:"mode"`
	StoreName         string `json:"store_name,omitempty"`
	Language          string `json:"language,omitempty"`
	PromptID          string `json:"prompt_id,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	CreatedAtMs       int64  `json:"created_at_ms"`
	UpdatedAtMs       int64  `json:"updated_at_ms"`
}

// ToolCall records one tool invocation made while answering a turn.
type ToolCall struct {
	ToolName        string `json:"tool_name"`
	Arguments       string `json:"arguments,omitempty"`
	Result          string `json:"result,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Turn is one persisted user/agent exchange. Turn numbers are contiguous
// starting at 1 within a session; truncation removes the tail only.
type Turn struct {
	SessionID     string     `json:"session_id"`
	TurnNumber    int        `json:"turn_number"`
	UserMessage   string     `json:"user_message"`
	AgentResponse string     `json:"agent_response"`
	CreatedAtMs   int64      `json:"created_at_ms"`
	TokenCount    int        `json:"token_count,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
}

// SessionFilter selects a page of sessions for one (mode, store) context.
type SessionFilter struct {
	Mode      string
	StoreName string
	Page      int
	PageSize  int
}

// SessionSummary is the read-only projection used by history listings.
type SessionSummary struct {
	Session
	MessageCount       int    `json:"message_count"`
	FirstMessageTime   int64  `json:"first_message_time,omitempty"`
	LastMessageTime    int64  `json:"last_message_time,omitempty"`
	FirstUserMessage   string `json:"first_user_message,omitempty"`
	LatestUserMessage  string `json:"latest_user_message,omitempty"`
	LatestAgentMessage string `json:"latest_agent_message,omitempty"`
}

// SessionStore is the turn-numbered conversation log. AppendTurn with a
// non-nil fromTurn must truncate persisted turns >= fromTurn and insert the
// new turn in the same transaction, so numbering never shows gaps.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, sessionID string) (Session, bool, error)
	DeleteSession(ctx context.Context, sessionID string) error

	AppendTurn(ctx context.Context, sessionID string, fromTurn *int, t Turn) (int, error)
	ListTurns(ctx context.Context, sessionID string) ([]Turn, error)
	TruncateFrom(ctx context.Context, sessionID string, turn int) error

	ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, int, error)

	Close() error
}
