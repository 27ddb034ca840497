package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemorySessionStore is the transactionless SessionStore used by tests and
// offline runs. It mirrors the sqlite store's numbering and ordering semantics.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	turns    map[string][]Turn
}

var _ SessionStore = &InMemorySessionStore{}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: map[string]Session{},
		turns:    map[string][]Turn{},
	}
}

func (s *InMemorySessionStore) Close() error { return nil }

func (s *InMemorySessionStore) CreateSession(ctx context.Context, sess Session) error {
	if s == nil {
		return errors.New("in-memory session store: nil store")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("in-memory session store: session id is empty")
	}
	_ = ctx
	now := time.Now().UnixMilli()
	if sess.CreatedAtMs <= 0 {
		sess.CreatedAtMs = now
	}
	if sess.UpdatedAtMs <= 0 {
		sess.UpdatedAtMs = sess.CreatedAtMs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return errors.Errorf("in-memory session store: session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemorySessionStore) GetSession(ctx context.Context, sessionID string) (Session, bool, error) {
	if s == nil {
		return Session{}, false, errors.New("in-memory session store: nil store")
	}
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok, nil
}

func (s *InMemorySessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil {
		return errors.New("in-memory session store: nil store")
	}
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
	return nil
}

func (s *InMemorySessionStore) AppendTurn(ctx context.Context, sessionID string, fromTurn *int, t Turn) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory session store: nil store")
	}
	if strings.TrimSpace(sessionID) == "" {
		return 0, errors.New("in-memory session store: session id is empty")
	}
	if fromTurn != nil && *fromTurn < 1 {
		return 0, errors.Errorf("in-memory session store: invalid from turn %d", *fromTurn)
	}
	_ = ctx
	if t.CreatedAtMs <= 0 {
		t.CreatedAtMs = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns[sessionID]
	assigned := 0
	if fromTurn != nil {
		kept := turns[:0]
		for _, existing := range turns {
			if existing.TurnNumber < *fromTurn {
				kept = append(kept, existing)
			}
		}
		turns = kept
		if *fromTurn > len(turns)+1 {
			return 0, errors.Errorf("in-memory session store: from turn %d leaves a gap after %d", *fromTurn, len(turns))
		}
		assigned = *fromTurn
	} else {
		assigned = len(turns) + 1
	}

	t.SessionID = sessionID
	t.TurnNumber = assigned
	s.turns[sessionID] = append(turns, t)
	if sess, ok := s.sessions[sessionID]; ok {
		sess.UpdatedAtMs = t.CreatedAtMs
		s.sessions[sessionID] = sess
	}
	return assigned, nil
}

func (s *InMemorySessionStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	if s == nil {
		return nil, errors.New("in-memory session store: nil store")
	}
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns[sessionID]))
	copy(out, s.turns[sessionID])
	return out, nil
}

func (s *InMemorySessionStore) TruncateFrom(ctx context.Context, sessionID string, turn int) error {
	if s == nil {
		return errors.New("in-memory session store: nil store")
	}
	if turn < 1 {
		return errors.Errorf("in-memory session store: invalid truncate turn %d", turn)
	}
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	kept := turns[:0]
	for _, t := range turns {
		if t.TurnNumber < turn {
			kept = append(kept, t)
		}
	}
	s.turns[sessionID] = kept
	return nil
}

func (s *InMemorySessionStore) ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, int, error) {
	if s == nil {
		return nil, 0, errors.New("in-memory session store: nil store")
	}
	_ = ctx
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []SessionSummary{}
	for _, sess := range s.sessions {
		if m := strings.TrimSpace(f.Mode); m != "" && sess.Mode != m {
			continue
		}
		if sn := strings.TrimSpace(f.StoreName); sn != "" && sess.StoreName != sn {
			continue
		}
		sum := SessionSummary{Session: sess}
		turns := s.turns[sess.ID]
		sum.MessageCount = len(turns)
		if len(turns) > 0 {
			sum.FirstMessageTime = turns[0].CreatedAtMs
			sum.LastMessageTime = turns[len(turns)-1].CreatedAtMs
			sum.FirstUserMessage = turns[0].UserMessage
			sum.LatestUserMessage = turns[len(turns)-1].UserMessage
			sum.LatestAgentMessage = turns[len(turns)-1].AgentResponse
		}
		matched = append(matched, sum)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAtMs > matched[j].CreatedAtMs
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
