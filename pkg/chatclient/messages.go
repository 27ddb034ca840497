// Package chatclient holds the conversation state reconciler: the in-memory
// message list one chat view displays, kept consistent with the server's
// turn-numbered conversation log under send, regenerate, and edit-and-resend.
package chatclient

// Role distinguishes the two bubble kinds in a conversation view.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// MessageState is the lifecycle of one bubble. Pending is the optimistic
// placeholder inserted before the server answers, Failed replaces it when the
// remote call errors out.
type MessageState string

const (
	StatePending  MessageState = "pending"
	StateComplete MessageState = "complete"
	StateFailed   MessageState = "failed"
)

// DisplayMessage is one chat bubble. A completed turn expands to exactly two
// of these (user then model) sharing the same TurnNumber. TurnNumber is zero
// until the server echoes the authoritative number back.
type DisplayMessage struct {
	Role       Role
	Text       string
	TurnNumber int
	State      MessageState
}

// HasTurn reports whether the server has assigned this bubble a turn number.
func (m DisplayMessage) HasTurn() bool { return m.TurnNumber > 0 }
