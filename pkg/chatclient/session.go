package chatclient

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

// Session lifecycle: start, restart (with a destructive-action gate), resume
// from history, and the silent restart used when an admin swaps the active
// prompt under an open session. A failed start leaves the reconciler without
// a session; the status banner is the only surface, there is no bubble to
// annotate yet.

// Start opens a fresh session. Called once when the view mounts.
func (r *Reconciler) Start(ctx context.Context) {
	r.startSession(ctx, "")
}

// Restart abandons the current session and opens a new one. When the message
// list is non-empty the confirm callback gates the destruction; a nil confirm
// skips the gate. The old session id is passed along for continuity
// bookkeeping, not deleted.
func (r *Reconciler) Restart(ctx context.Context, confirm func() bool) {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return
	}
	nonEmpty := len(r.messages) > 0
	previous := r.sessionID
	r.mu.Unlock()

	if nonEmpty && confirm != nil && !confirm() {
		return
	}
	r.startSession(ctx, previous)
}

// PromptChanged performs a restart without the confirmation gate: the prompt
// swap invalidates the conversation regardless of what the user would say.
func (r *Reconciler) PromptChanged(ctx context.Context) {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return
	}
	previous := r.sessionID
	r.mu.Unlock()
	r.startSession(ctx, previous)
}

func (r *Reconciler) startSession(ctx context.Context, previousSessionID string) {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return
	}
	req := StartChatRequest{
		Mode:              r.mode,
		StoreName:         r.storeName,
		Language:          r.language,
		PreviousSessionID: previousSessionID,
		APIKey:            r.prefs.APIKey,
	}
	r.mu.Unlock()

	res, err := r.api.StartChat(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		log.Warn().Str("component", "chatclient").Err(err).Msg("start chat failed")
		r.status = errorPrefix + ": " + err.Error()
		return
	}
	r.sessionID = res.SessionID
	r.messages = nil
	r.pendingUser = -1
	r.status = ""
	log.Info().
		Str("component", "chatclient").
		Str("session_id", res.SessionID).
		Str("previous_session_id", previousSessionID).
		Msg("session started")
}

// Resume rehydrates the view from persisted history: each turn flattens into
// a user+model bubble pair carrying the same turn number. The language tag,
// when the stored session has one, is restored too.
func (r *Reconciler) Resume(sessionID string, turns []chatstore.Turn, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loading || strings.TrimSpace(sessionID) == "" {
		return
	}
	msgs := make([]DisplayMessage, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			DisplayMessage{Role: RoleUser, Text: t.UserMessage, TurnNumber: t.TurnNumber, State: StateComplete},
			DisplayMessage{Role: RoleModel, Text: t.AgentResponse, TurnNumber: t.TurnNumber, State: StateComplete},
		)
	}
	r.messages = msgs
	r.sessionID = sessionID
	if language != "" {
		r.language = language
	}
	r.pendingUser = -1
	r.status = ""
}
