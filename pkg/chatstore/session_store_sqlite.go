package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteSessionStore struct {
	db *sql.DB
}

var _ SessionStore = &SQLiteSessionStore{}

func NewSQLiteSessionStore(dsn string) (*SQLiteSessionStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite session store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteSessionStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSessionStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite session store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			store_name TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			prompt_id TEXT NOT NULL DEFAULT '',
			previous_session_id TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			user_message TEXT NOT NULL,
			agent_response TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			tool_calls TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (session_id, turn_number)
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_mode ON sessions(mode, store_name, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, turn_number);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite session store: migrate")
		}
	}
	return nil
}

func (s *SQLiteSessionStore) CreateSession(ctx context.Context, sess Session) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite session store: db is nil")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("sqlite session store: session id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UnixMilli()
	if sess.CreatedAtMs <= 0 {
		sess.CreatedAtMs = now
	}
	if sess.UpdatedAtMs <= 0 {
		sess.UpdatedAtMs = sess.CreatedAtMs
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(session_id, mode, store_name, language, prompt_id, previous_session_id, created_at_ms, updated_at_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Mode, sess.StoreName, sess.Language, sess.PromptID, sess.PreviousSessionID, sess.CreatedAtMs, sess.UpdatedAtMs)
	if err != nil {
		return errors.Wrap(err, "sqlite session store: insert session")
	}
	return nil
}

func (s *SQLiteSessionStore) GetSession(ctx context.Context, sessionID string) (Session, bool, error) {
	if s == nil || s.db == nil {
		return Session{}, false, errors.New("sqlite session store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, mode, store_name, language, prompt_id, previous_session_id, created_at_ms, updated_at_ms
		FROM sessions WHERE session_id = ?
	`, sessionID)
	var sess Session
	err := row.Scan(&sess.ID, &sess.Mode, &sess.StoreName, &sess.Language, &sess.PromptID, &sess.PreviousSessionID, &sess.CreatedAtMs, &sess.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, errors.Wrap(err, "sqlite session store: get session")
	}
	return sess, true, nil
}

func (s *SQLiteSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite session store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite session store: begin delete")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "sqlite session store: delete turns")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "sqlite session store: delete session")
	}
	return errors.Wrap(tx.Commit(), "sqlite session store: commit delete")
}

// AppendTurn assigns the next turn number and inserts the turn. A non-nil
// fromTurn deletes persisted turns >= fromTurn first and reuses that number,
// all inside one transaction so numbering stays contiguous.
func (s *SQLiteSessionStore) AppendTurn(ctx context.Context, sessionID string, fromTurn *int, t Turn) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite session store: db is nil")
	}
	if strings.TrimSpace(sessionID) == "" {
		return 0, errors.New("sqlite session store: session id is empty")
	}
	if fromTurn != nil && *fromTurn < 1 {
		return 0, errors.Errorf("sqlite session store: invalid from turn %d", *fromTurn)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if t.CreatedAtMs <= 0 {
		t.CreatedAtMs = time.Now().UnixMilli()
	}
	toolCalls, err := json.Marshal(t.ToolCalls)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite session store: marshal tool calls")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite session store: begin append")
	}

	assigned := 0
	if fromTurn != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ? AND turn_number >= ?`, sessionID, *fromTurn); err != nil {
			_ = tx.Rollback()
			return 0, errors.Wrap(err, "sqlite session store: truncate")
		}
		// Reusing a number past the surviving tail would leave a gap.
		var max int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE session_id = ?`, sessionID).Scan(&max); err != nil {
			_ = tx.Rollback()
			return 0, errors.Wrap(err, "sqlite session store: max turn after truncate")
		}
		if *fromTurn > max+1 {
			_ = tx.Rollback()
			return 0, errors.Errorf("sqlite session store: from turn %d leaves a gap after %d", *fromTurn, max)
		}
		assigned = *fromTurn
	} else {
		var max int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE session_id = ?`, sessionID).Scan(&max); err != nil {
			_ = tx.Rollback()
			return 0, errors.Wrap(err, "sqlite session store: max turn")
		}
		assigned = max + 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns(session_id, turn_number, user_message, agent_response, created_at_ms, token_count, tool_calls)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, sessionID, assigned, t.UserMessage, t.AgentResponse, t.CreatedAtMs, t.TokenCount, string(toolCalls)); err != nil {
		_ = tx.Rollback()
		return 0, errors.Wrap(err, "sqlite session store: insert turn")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at_ms = ? WHERE session_id = ?`, t.CreatedAtMs, sessionID); err != nil {
		_ = tx.Rollback()
		return 0, errors.Wrap(err, "sqlite session store: touch session")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sqlite session store: commit append")
	}
	return assigned, nil
}

func (s *SQLiteSessionStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite session store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, turn_number, user_message, agent_response, created_at_ms, token_count, tool_calls
		FROM turns WHERE session_id = ? ORDER BY turn_number ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: list turns")
	}
	defer func() { _ = rows.Close() }()

	items := []Turn{}
	for rows.Next() {
		var t Turn
		var toolCalls string
		if err := rows.Scan(&t.SessionID, &t.TurnNumber, &t.UserMessage, &t.AgentResponse, &t.CreatedAtMs, &t.TokenCount, &toolCalls); err != nil {
			return nil, err
		}
		if toolCalls != "" && toolCalls != "[]" {
			if err := json.Unmarshal([]byte(toolCalls), &t.ToolCalls); err != nil {
				return nil, errors.Wrap(err, "sqlite session store: unmarshal tool calls")
			}
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SQLiteSessionStore) TruncateFrom(ctx context.Context, sessionID string, turn int) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite session store: db is nil")
	}
	if turn < 1 {
		return errors.Errorf("sqlite session store: invalid truncate turn %d", turn)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ? AND turn_number >= ?`, sessionID, turn)
	return errors.Wrap(err, "sqlite session store: truncate from")
}

func (s *SQLiteSessionStore) ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, errors.New("sqlite session store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	clauses := []string{}
	args := []any{}
	if v := strings.TrimSpace(f.Mode); v != "" {
		clauses = append(clauses, "mode = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.StoreName); v != "" {
		clauses = append(clauses, "store_name = ?")
		args = append(args, v)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM sessions %s`, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "sqlite session store: count sessions")
	}

	query := fmt.Sprintf(`
		SELECT s.session_id, s.mode, s.store_name, s.language, s.prompt_id, s.previous_session_id, s.created_at_ms, s.updated_at_ms,
			COALESCE(COUNT(t.turn_number), 0),
			COALESCE(MIN(t.created_at_ms), 0),
			COALESCE(MAX(t.created_at_ms), 0)
		FROM sessions s
		LEFT JOIN turns t ON t.session_id = s.session_id
		%s
		GROUP BY s.session_id
		ORDER BY s.created_at_ms DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "sqlite session store: list sessions")
	}
	defer func() { _ = rows.Close() }()

	items := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Mode, &sum.StoreName, &sum.Language, &sum.PromptID, &sum.PreviousSessionID,
			&sum.CreatedAtMs, &sum.UpdatedAtMs, &sum.MessageCount, &sum.FirstMessageTime, &sum.LastMessageTime); err != nil {
			return nil, 0, err
		}
		items = append(items, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range items {
		if items[i].MessageCount == 0 {
			continue
		}
		row := s.db.QueryRowContext(ctx, `
			SELECT user_message FROM turns WHERE session_id = ? ORDER BY turn_number ASC LIMIT 1
		`, items[i].ID)
		var first string
		if err := row.Scan(&first); err == nil {
			items[i].FirstUserMessage = first
		}
		row = s.db.QueryRowContext(ctx, `
			SELECT user_message, agent_response FROM turns WHERE session_id = ? ORDER BY turn_number DESC LIMIT 1
		`, items[i].ID)
		var lastUser, lastAgent string
		if err := row.Scan(&lastUser, &lastAgent); err == nil {
			items[i].LatestUserMessage = lastUser
			items[i].LatestAgentMessage = lastAgent
		}
	}
	return items, total, nil
}

// SQLiteSessionDSNForFile builds the canonical DSN for a file-backed store.
func SQLiteSessionDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite session store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
