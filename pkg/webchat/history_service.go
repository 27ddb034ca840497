package webchat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

// HistoryService is the read path over persisted sessions. It never mutates
// the active conversation; delete is the one destructive operation and acts
// on storage only.
type HistoryService struct {
	sessions  chatstore.SessionStore
	publisher message.Publisher
}

func NewHistoryService(sessions chatstore.SessionStore, publisher message.Publisher) (*HistoryService, error) {
	if sessions == nil {
		return nil, errors.New("history service session store is nil")
	}
	return &HistoryService{sessions: sessions, publisher: publisher}, nil
}

type SessionListResult struct {
	Sessions      []chatstore.SessionSummary `json:"sessions"`
	TotalSessions int                        `json:"total_sessions"`
	Page          int                        `json:"page"`
	PageSize      int                        `json:"page_size"`
}

func (h *HistoryService) ListSessions(ctx context.Context, f chatstore.SessionFilter) (SessionListResult, error) {
	if h == nil || h.sessions == nil {
		return SessionListResult{}, errors.New("history service is not initialized")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	sessions, total, err := h.sessions.ListSessions(ctx, f)
	if err != nil {
		return SessionListResult{}, errors.Wrap(err, "list sessions")
	}
	return SessionListResult{Sessions: sessions, TotalSessions: total, Page: f.Page, PageSize: f.PageSize}, nil
}

type SessionDetailResult struct {
	SessionID     string           `json:"session_id"`
	Conversations []chatstore.Turn `json:"conversations"`
}

func (h *HistoryService) SessionDetail(ctx context.Context, sessionID string) (SessionDetailResult, error) {
	if h == nil || h.sessions == nil {
		return SessionDetailResult{}, errors.New("history service is not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionDetailResult{}, serviceErrorf(400, "missing session_id")
	}
	if _, ok, err := h.sessions.GetSession(ctx, sessionID); err != nil {
		return SessionDetailResult{}, errors.Wrap(err, "load session")
	} else if !ok {
		return SessionDetailResult{}, serviceErrorf(404, "session not found")
	}
	turns, err := h.sessions.ListTurns(ctx, sessionID)
	if err != nil {
		return SessionDetailResult{}, errors.Wrap(err, "list turns")
	}
	return SessionDetailResult{SessionID: sessionID, Conversations: turns}, nil
}

func (h *HistoryService) DeleteSession(ctx context.Context, sessionID string) error {
	if h == nil || h.sessions == nil {
		return errors.New("history service is not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return serviceErrorf(400, "missing session_id")
	}
	if err := h.sessions.DeleteSession(ctx, sessionID); err != nil {
		return errors.Wrap(err, "delete session")
	}
	_ = publishEvent(h.publisher, EventEnvelope{
		Type:       EventSessionDeleted,
		SessionID:  sessionID,
		ServerTime: time.Now().UnixMilli(),
	})
	log.Info().Str("component", "webchat").Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// ExportArtifact is the downloadable JSON body plus its suggested filename.
type ExportArtifact struct {
	Filename string          `json:"-"`
	Sessions []ExportSession `json:"sessions"`
}

type ExportSession struct {
	Session chatstore.Session `json:"session"`
	Turns   []chatstore.Turn  `json:"turns"`
}

// Export bundles one session (non-empty sessionID) or every session matching
// the filter. The clock parameter keeps filenames testable.
func (h *HistoryService) Export(ctx context.Context, sessionID string, f chatstore.SessionFilter, now time.Time) (ExportArtifact, error) {
	if h == nil || h.sessions == nil {
		return ExportArtifact{}, errors.New("history service is not initialized")
	}

	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		sess, ok, err := h.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return ExportArtifact{}, errors.Wrap(err, "load session")
		}
		if !ok {
			return ExportArtifact{}, serviceErrorf(404, "session not found")
		}
		turns, err := h.sessions.ListTurns(ctx, sessionID)
		if err != nil {
			return ExportArtifact{}, errors.Wrap(err, "list turns")
		}
		return ExportArtifact{
			Filename: ExportFilenameForSession(sessionID, now),
			Sessions: []ExportSession{{Session: sess, Turns: turns}},
		}, nil
	}

	f.Page = 1
	f.PageSize = 1 << 20 // bulk export ignores pagination
	summaries, _, err := h.sessions.ListSessions(ctx, f)
	if err != nil {
		return ExportArtifact{}, errors.Wrap(err, "list sessions")
	}
	out := ExportArtifact{Filename: ExportFilenameForMode(f.Mode, now)}
	for _, sum := range summaries {
		turns, err := h.sessions.ListTurns(ctx, sum.ID)
		if err != nil {
			return ExportArtifact{}, errors.Wrap(err, "list turns")
		}
		out.Sessions = append(out.Sessions, ExportSession{Session: sum.Session, Turns: turns})
	}
	return out, nil
}

// ExportFilenameForSession is deterministic and collision-resistant: session
// id prefix plus a unix timestamp.
func ExportFilenameForSession(sessionID string, now time.Time) string {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("kbchat-%s-%d.json", prefix, now.Unix())
}

func ExportFilenameForMode(mode string, now time.Time) string {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = "all"
	}
	return fmt.Sprintf("kbchat-%s-%d.json", mode, now.Unix())
}
