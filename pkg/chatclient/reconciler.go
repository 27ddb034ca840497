package chatclient

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// errorPrefix is prepended to the inline error bubble shown when a remote
// call fails mid-conversation.
const errorPrefix = "錯誤"

type ReconcilerConfig struct {
	API       API
	Mode      string
	StoreName string
	Language  string
	Prefs     ClientPreferences
}

// Reconciler owns one conversation view's state: the ordered message list,
// the active session id, and the loading gate that serializes every
// session-mutating operation. Remote failures never propagate out of the
// operation methods; they are folded into the message list or status banner.
type Reconciler struct {
	api   API
	prefs ClientPreferences

	mu        sync.Mutex
	mode      string
	storeName string
	language  string
	sessionID string
	messages  []DisplayMessage
	loading   bool
	status    string
	// pendingUser indexes the user message awaiting its turn number, so the
	// back-fill never has to re-derive it by scanning backwards.
	pendingUser int
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.API == nil {
		return nil, errors.New("reconciler API is nil")
	}
	return &Reconciler{
		api:         cfg.API,
		prefs:       cfg.Prefs,
		mode:        cfg.Mode,
		storeName:   cfg.StoreName,
		language:    cfg.Language,
		pendingUser: -1,
	}, nil
}

// Messages returns a copy of the current message list.
func (r *Reconciler) Messages() []DisplayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DisplayMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Status returns the banner text, empty when the last operation succeeded.
func (r *Reconciler) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Send appends the user's message and a pending model placeholder, then asks
// the server for an answer. Preconditions (non-empty text, active session,
// not already loading) fail silently: no mutation, no request.
func (r *Reconciler) Send(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	r.mu.Lock()
	if text == "" || r.sessionID == "" || r.loading {
		r.mu.Unlock()
		return
	}
	r.messages = append(r.messages, DisplayMessage{Role: RoleUser, Text: text, State: StateComplete})
	r.pendingUser = len(r.messages) - 1
	r.messages = append(r.messages, DisplayMessage{Role: RoleModel, State: StatePending})
	r.loading = true
	sessionID := r.sessionID
	r.mu.Unlock()

	res, err := r.api.SendMessage(ctx, SendMessageRequest{SessionID: sessionID, Message: text})
	r.settle(res, err)
}

// Regenerate re-runs the agent for an existing turn: every message after that
// turn's user bubble is discarded locally, and the server is told to truncate
// its log from that turn before answering. A turn number not present in the
// list is a silent no-op.
func (r *Reconciler) Regenerate(ctx context.Context, turnNumber int) {
	r.mu.Lock()
	if r.sessionID == "" || r.loading || turnNumber < 1 {
		r.mu.Unlock()
		return
	}
	idx := r.userIndexForTurn(turnNumber)
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	text := r.messages[idx].Text
	r.messages = r.messages[:idx+1]
	r.pendingUser = idx
	r.messages = append(r.messages, DisplayMessage{Role: RoleModel, State: StatePending})
	r.loading = true
	sessionID := r.sessionID
	r.mu.Unlock()

	res, err := r.api.SendMessage(ctx, SendMessageRequest{SessionID: sessionID, Message: text, TurnNumber: &turnNumber})
	r.settle(res, err)
}

// EditAndResend replaces an existing turn's user message and re-runs from
// there. The old user bubble is dropped too; the replacement starts without a
// turn number and is back-filled from the server's echo, which the client
// trusts unconditionally.
func (r *Reconciler) EditAndResend(ctx context.Context, turnNumber int, newText string) {
	newText = strings.TrimSpace(newText)
	r.mu.Lock()
	if r.sessionID == "" || r.loading || turnNumber < 1 || newText == "" {
		r.mu.Unlock()
		return
	}
	idx := r.userIndexForTurn(turnNumber)
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.messages = r.messages[:idx]
	r.messages = append(r.messages, DisplayMessage{Role: RoleUser, Text: newText, State: StateComplete})
	r.pendingUser = len(r.messages) - 1
	r.messages = append(r.messages, DisplayMessage{Role: RoleModel, State: StatePending})
	r.loading = true
	sessionID := r.sessionID
	r.mu.Unlock()

	res, err := r.api.SendMessage(ctx, SendMessageRequest{SessionID: sessionID, Message: newText, TurnNumber: &turnNumber})
	r.settle(res, err)
}

// settle is the reconcile step shared by send/regenerate/edit: replace the
// pending placeholder with either the answer or an inline error bubble, and
// always clear the loading gate.
func (r *Reconciler) settle(res SendMessageResponse, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		r.loading = false
		r.pendingUser = -1
	}()

	idx := len(r.messages) - 1
	if idx < 0 || r.messages[idx].State != StatePending {
		return
	}
	if err != nil {
		log.Warn().Str("component", "chatclient").Str("session_id", r.sessionID).Err(err).Msg("send failed")
		r.messages[idx] = DisplayMessage{Role: RoleModel, Text: errorPrefix + ": " + err.Error(), State: StateFailed}
		r.status = errorPrefix + ": " + err.Error()
		return
	}
	r.messages[idx] = DisplayMessage{
		Role:       RoleModel,
		Text:       res.Answer,
		TurnNumber: res.TurnNumber,
		State:      StateComplete,
	}
	if r.pendingUser >= 0 && r.pendingUser < len(r.messages) {
		r.messages[r.pendingUser].TurnNumber = res.TurnNumber
	}
	r.status = ""
}

// userIndexForTurn finds the user bubble carrying the given turn number.
// Caller holds r.mu.
func (r *Reconciler) userIndexForTurn(turnNumber int) int {
	for i, m := range r.messages {
		if m.Role == RoleUser && m.TurnNumber == turnNumber {
			return i
		}
	}
	return -1
}
