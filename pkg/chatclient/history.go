package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

// HistoryBrowser is the read path over persisted sessions. It is independent
// of the reconciler's loading gate: browsing history never mutates the active
// conversation. Detail fetches are cached per session id so expanding and
// collapsing the same session does not refetch.
type HistoryBrowser struct {
	api API

	mu          sync.Mutex
	mode        string
	storeName   string
	page        int
	pageSize    int
	detailCache map[string][]chatstore.Turn
	expanded    map[string]bool
}

func NewHistoryBrowser(api API, pageSize int) (*HistoryBrowser, error) {
	if api == nil {
		return nil, errors.New("history browser API is nil")
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &HistoryBrowser{
		api:         api,
		page:        1,
		pageSize:    pageSize,
		detailCache: map[string][]chatstore.Turn{},
		expanded:    map[string]bool{},
	}, nil
}

// SetContext switches the (mode, store) the listing is scoped to. Changing
// context resets pagination to page 1; re-setting the same context does not.
func (b *HistoryBrowser) SetContext(mode, storeName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == mode && b.storeName == storeName {
		return
	}
	b.mode = mode
	b.storeName = storeName
	b.page = 1
}

func (b *HistoryBrowser) Page() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page
}

func (b *HistoryBrowser) SetPage(page int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if page >= 1 {
		b.page = page
	}
}

// List fetches the current page for the current context.
func (b *HistoryBrowser) List(ctx context.Context) (SessionListResponse, error) {
	b.mu.Lock()
	req := SessionListRequest{Mode: b.mode, StoreName: b.storeName, Page: b.page, PageSize: b.pageSize}
	b.mu.Unlock()
	return b.api.ListSessions(ctx, req)
}

// Detail returns the full ordered turn list for one session, from cache when
// available. Callers get a copy; the cache entry stays theirs to reuse.
func (b *HistoryBrowser) Detail(ctx context.Context, sessionID string) ([]chatstore.Turn, error) {
	b.mu.Lock()
	if turns, ok := b.detailCache[sessionID]; ok {
		b.mu.Unlock()
		return copyTurns(turns), nil
	}
	b.mu.Unlock()

	res, err := b.api.SessionDetail(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.detailCache[sessionID] = res.Conversations
	b.mu.Unlock()
	return copyTurns(res.Conversations), nil
}

func copyTurns(turns []chatstore.Turn) []chatstore.Turn {
	out := make([]chatstore.Turn, len(turns))
	copy(out, turns)
	return out
}

func (b *HistoryBrowser) Expand(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expanded[sessionID] = true
}

func (b *HistoryBrowser) Collapse(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.expanded, sessionID)
}

func (b *HistoryBrowser) IsExpanded(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expanded[sessionID]
}

// Delete removes the session server-side, then drops the local cache entry
// and collapses the row if it was open.
func (b *HistoryBrowser) Delete(ctx context.Context, sessionID string) error {
	if err := b.api.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.detailCache, sessionID)
	delete(b.expanded, sessionID)
	b.mu.Unlock()
	return nil
}

// Export passes through to the server's export endpoint.
func (b *HistoryBrowser) Export(ctx context.Context, req ExportRequest) (ExportResponse, error) {
	return b.api.Export(ctx, req)
}

// SessionBundle pairs a session summary with its turns, the shape the jti
// history view works on when filtering whole payloads client-side.
type SessionBundle struct {
	Summary chatstore.SessionSummary
	Turns   []chatstore.Turn
}

// FilterCriteria is a free-text query plus an inclusive date range over the
// session's first message time. When both are present both must hold.
type FilterCriteria struct {
	Query string
	From  time.Time
	To    time.Time
}

func (c FilterCriteria) hasQuery() bool { return strings.TrimSpace(c.Query) != "" }

func (c FilterCriteria) dateInRange(ms int64) bool {
	if c.From.IsZero() && c.To.IsZero() {
		return true
	}
	t := time.UnixMilli(ms)
	if !c.From.IsZero() && t.Before(c.From) {
		return false
	}
	if !c.To.IsZero() && t.After(c.To) {
		return false
	}
	return true
}

// turnMatches searches user message, agent response, tool names, and tool
// results, case-insensitively.
func turnMatches(t chatstore.Turn, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.UserMessage), query) ||
		strings.Contains(strings.ToLower(t.AgentResponse), query) {
		return true
	}
	for _, tc := range t.ToolCalls {
		if strings.Contains(strings.ToLower(tc.ToolName), query) ||
			strings.Contains(strings.ToLower(tc.Result), query) {
			return true
		}
	}
	return false
}

// FilterBundles applies the criteria over full-session payloads. A bundle
// survives when its first message time is inside the date range AND at least
// one turn matches the text query; the returned bundle keeps only matching
// turns and its count reflects the filtered subset.
func FilterBundles(bundles []SessionBundle, c FilterCriteria) []SessionBundle {
	out := make([]SessionBundle, 0, len(bundles))
	for _, b := range bundles {
		if !c.dateInRange(b.Summary.FirstMessageTime) {
			continue
		}
		turns := b.Turns
		if c.hasQuery() {
			kept := make([]chatstore.Turn, 0, len(turns))
			for _, t := range turns {
				if turnMatches(t, c.Query) {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				continue
			}
			turns = kept
		}
		filtered := b
		filtered.Turns = turns
		filtered.Summary.MessageCount = len(turns)
		out = append(out, filtered)
	}
	return out
}
