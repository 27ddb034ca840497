package webchat

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ragbase/kbchat/pkg/chatstore"
	"github.com/ragbase/kbchat/pkg/kbstore"
	"github.com/ragbase/kbchat/pkg/provider"
	"github.com/ragbase/kbchat/pkg/tokencount"
)

// ServiceError is a typed error allowing handlers to choose an HTTP status
// without duplicating policy logic.
type ServiceError struct {
	Status    int
	ClientMsg string
	Err       error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.ClientMsg + ": " + e.Err.Error()
	}
	return e.ClientMsg
}

func (e *ServiceError) Unwrap() error { return e.Err }

func serviceErrorf(status int, msg string) *ServiceError {
	return &ServiceError{Status: status, ClientMsg: msg}
}

type ConversationServiceConfig struct {
	Sessions  chatstore.SessionStore
	KB        kbstore.Store
	Provider  provider.Provider
	Tokens    *tokencount.Counter
	Publisher message.Publisher
}

// ConversationService owns the write path of the turn-numbered conversation
// log: start chat, send message (with truncate-then-append regenerate/edit
// semantics), and the event publication that feeds the stream hub.
type ConversationService struct {
	sessions  chatstore.SessionStore
	kb        kbstore.Store
	prov      provider.Provider
	tokens    *tokencount.Counter
	publisher message.Publisher
}

func NewConversationService(cfg ConversationServiceConfig) (*ConversationService, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("conversation service session store is nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("conversation service provider is nil")
	}
	return &ConversationService{
		sessions:  cfg.Sessions,
		kb:        cfg.KB,
		prov:      cfg.Provider,
		tokens:    cfg.Tokens,
		publisher: cfg.Publisher,
	}, nil
}

type StartChatInput struct {
	Mode              string `json:"mode"`
	StoreName         string `json:"store_name,omitempty"`
	Language          string `json:"language,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	APIKey            string `json:"api_key,omitempty"`
}

type StartChatResult struct {
	SessionID     string `json:"session_id"`
	PromptApplied string `json:"prompt_applied,omitempty"`
}

func (s *ConversationService) StartChat(ctx context.Context, in StartChatInput) (StartChatResult, error) {
	if s == nil || s.sessions == nil {
		return StartChatResult{}, errors.New("conversation service is not initialized")
	}
	mode := strings.TrimSpace(in.Mode)
	if mode == "" {
		mode = chatstore.ModeGeneral
	}
	if mode != chatstore.ModeGeneral && mode != chatstore.ModeJTI {
		return StartChatResult{}, serviceErrorf(400, "unknown mode")
	}

	sess := chatstore.Session{
		ID:                uuid.NewString(),
		Mode:              mode,
		StoreName:         strings.TrimSpace(in.StoreName),
		Language:          strings.TrimSpace(in.Language),
		PreviousSessionID: strings.TrimSpace(in.PreviousSessionID),
	}

	promptApplied := ""
	if s.kb != nil {
		switch {
		case mode == chatstore.ModeGeneral && strings.TrimSpace(in.APIKey) != "":
			key, ok, err := s.kb.GetAPIKey(ctx, strings.TrimSpace(in.APIKey))
			if err != nil {
				return StartChatResult{}, errors.Wrap(err, "resolve api key")
			}
			if !ok || key.Revoked {
				return StartChatResult{}, serviceErrorf(403, "invalid api key")
			}
			sess.StoreName = key.StoreName
			sess.PromptID = key.PromptID
			if p, ok, err := s.kb.GetPrompt(ctx, key.PromptID); err == nil && ok {
				promptApplied = p.Name
			}
		case mode == chatstore.ModeJTI:
			if p, ok, err := s.kb.ActivePrompt(ctx, mode, sess.Language); err == nil && ok {
				sess.PromptID = p.ID
				promptApplied = p.Name
			}
		}
	}

	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return StartChatResult{}, errors.Wrap(err, "create session")
	}
	log.Info().
		Str("component", "webchat").
		Str("session_id", sess.ID).
		Str("mode", mode).
		Str("previous_session_id", sess.PreviousSessionID).
		Msg("chat started")
	return StartChatResult{SessionID: sess.ID, PromptApplied: promptApplied}, nil
}

type SendMessageInput struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// TurnNumber, when set, means "this replaces turn N": persisted turns
	// >= N are discarded before the new turn is written.
	TurnNumber *int `json:"turn_number,omitempty"`
}

type SendMessageResult struct {
	Answer     string               `json:"answer"`
	TurnNumber int                  `json:"turn_number"`
	ToolCalls  []chatstore.ToolCall `json:"tool_calls,omitempty"`
}

func (s *ConversationService) SendMessage(ctx context.Context, in SendMessageInput) (SendMessageResult, error) {
	if s == nil || s.sessions == nil {
		return SendMessageResult{}, errors.New("conversation service is not initialized")
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return SendMessageResult{}, serviceErrorf(400, "missing session_id")
	}
	msgText := strings.TrimSpace(in.Message)
	if msgText == "" {
		return SendMessageResult{}, serviceErrorf(400, "missing message")
	}
	if in.TurnNumber != nil && *in.TurnNumber < 1 {
		return SendMessageResult{}, serviceErrorf(400, "invalid turn_number")
	}

	sess, ok, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return SendMessageResult{}, errors.Wrap(err, "load session")
	}
	if !ok {
		return SendMessageResult{}, serviceErrorf(404, "session not found")
	}

	turns, err := s.sessions.ListTurns(ctx, sessionID)
	if err != nil {
		return SendMessageResult{}, errors.Wrap(err, "load history")
	}
	// Reject a replacement number that would leave a gap before spending a
	// provider round-trip on it (stale state from another tab).
	if in.TurnNumber != nil {
		maxTurn := 0
		if len(turns) > 0 {
			maxTurn = turns[len(turns)-1].TurnNumber
		}
		if *in.TurnNumber > maxTurn+1 {
			return SendMessageResult{}, serviceErrorf(409, "turn_number out of range")
		}
	}
	// The provider must only see turns that survive the truncation.
	history := make([]provider.Exchange, 0, len(turns))
	for _, t := range turns {
		if in.TurnNumber != nil && t.TurnNumber >= *in.TurnNumber {
			continue
		}
		history = append(history, provider.Exchange{UserMessage: t.UserMessage, AgentResponse: t.AgentResponse})
	}

	systemPrompt := ""
	if s.kb != nil && sess.PromptID != "" {
		if p, ok, err := s.kb.GetPrompt(ctx, sess.PromptID); err == nil && ok {
			systemPrompt = p.Content
		}
	}

	answer, err := s.prov.Answer(ctx, provider.Request{
		SystemPrompt: systemPrompt,
		StoreName:    sess.StoreName,
		History:      history,
		Message:      msgText,
	})
	if err != nil {
		return SendMessageResult{}, &ServiceError{Status: 502, ClientMsg: "provider failed", Err: err}
	}

	toolCalls := make([]chatstore.ToolCall, 0, len(answer.ToolCalls))
	for _, tc := range answer.ToolCalls {
		toolCalls = append(toolCalls, chatstore.ToolCall{
			ToolName:        tc.ToolName,
			Arguments:       tc.Arguments,
			Result:          tc.Result,
			ExecutionTimeMs: tc.ExecutionTimeMs,
		})
	}
	tokenCount := 0
	if s.tokens != nil {
		tokenCount = s.tokens.CountTurn(msgText, answer.Text)
	}

	assigned, err := s.sessions.AppendTurn(ctx, sessionID, in.TurnNumber, chatstore.Turn{
		UserMessage:   msgText,
		AgentResponse: answer.Text,
		TokenCount:    tokenCount,
		ToolCalls:     toolCalls,
	})
	if err != nil {
		return SendMessageResult{}, errors.Wrap(err, "append turn")
	}

	_ = publishEvent(s.publisher, EventEnvelope{
		Type:       EventTurnAppended,
		SessionID:  sessionID,
		TurnNumber: assigned,
		Answer:     answer.Text,
		Truncated:  in.TurnNumber != nil,
		ServerTime: time.Now().UnixMilli(),
	})

	log.Debug().
		Str("component", "webchat").
		Str("session_id", sessionID).
		Int("turn_number", assigned).
		Bool("truncated", in.TurnNumber != nil).
		Msg("turn appended")
	return SendMessageResult{Answer: answer.Text, TurnNumber: assigned, ToolCalls: toolCalls}, nil
}
