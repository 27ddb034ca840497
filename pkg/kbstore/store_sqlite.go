package kbstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("kb store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("kb store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			store_name TEXT NOT NULL,
			file_name TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			uploaded_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			content TEXT NOT NULL,
			mode TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			key TEXT PRIMARY KEY,
			store_name TEXT NOT NULL,
			prompt_id TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS documents_by_store ON documents(store_name, uploaded_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS prompts_by_mode ON prompts(mode, language, active);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "kb store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) CreateKnowledgeBase(ctx context.Context, kb KnowledgeBase) error {
	if strings.TrimSpace(kb.Name) == "" {
		return errors.New("kb store: knowledge base name is empty")
	}
	if kb.CreatedAtMs <= 0 {
		kb.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_bases(name, description, created_at_ms) VALUES(?, ?, ?)
	`, kb.Name, kb.Description, kb.CreatedAtMs)
	return errors.Wrap(err, "kb store: create knowledge base")
}

func (s *SQLiteStore) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, created_at_ms FROM knowledge_bases ORDER BY name ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "kb store: list knowledge bases")
	}
	defer func() { _ = rows.Close() }()
	items := []KnowledgeBase{}
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.Name, &kb.Description, &kb.CreatedAtMs); err != nil {
			return nil, err
		}
		items = append(items, kb)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeleteKnowledgeBase(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "kb store: begin delete")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE store_name = ?`, name); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "kb store: delete documents")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE name = ?`, name); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "kb store: delete knowledge base")
	}
	return errors.Wrap(tx.Commit(), "kb store: commit delete")
}

func (s *SQLiteStore) AddDocument(ctx context.Context, d Document) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("kb store: document id is empty")
	}
	if strings.TrimSpace(d.StoreName) == "" {
		return errors.New("kb store: document store name is empty")
	}
	if d.UploadedAtMs <= 0 {
		d.UploadedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents(id, store_name, file_name, size_bytes, uploaded_at_ms)
		VALUES(?, ?, ?, ?, ?)
	`, d.ID, d.StoreName, d.FileName, d.SizeBytes, d.UploadedAtMs)
	return errors.Wrap(err, "kb store: add document")
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, storeName string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_name, file_name, size_bytes, uploaded_at_ms
		FROM documents WHERE store_name = ? ORDER BY uploaded_at_ms DESC
	`, storeName)
	if err != nil {
		return nil, errors.Wrap(err, "kb store: list documents")
	}
	defer func() { _ = rows.Close() }()
	items := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.StoreName, &d.FileName, &d.SizeBytes, &d.UploadedAtMs); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return errors.Wrap(err, "kb store: delete document")
}

func (s *SQLiteStore) UpsertPrompt(ctx context.Context, p Prompt) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("kb store: prompt id is empty")
	}
	if strings.TrimSpace(p.Mode) == "" {
		return errors.New("kb store: prompt mode is empty")
	}
	now := time.Now().UnixMilli()
	if p.CreatedAtMs <= 0 {
		p.CreatedAtMs = now
	}
	p.UpdatedAtMs = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompts(id, name, content, mode, language, active, created_at_ms, updated_at_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			mode = excluded.mode,
			language = excluded.language,
			updated_at_ms = excluded.updated_at_ms
	`, p.ID, p.Name, p.Content, p.Mode, p.Language, boolToInt(p.Active), p.CreatedAtMs, p.UpdatedAtMs)
	return errors.Wrap(err, "kb store: upsert prompt")
}

func (s *SQLiteStore) GetPrompt(ctx context.Context, id string) (Prompt, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, content, mode, language, active, created_at_ms, updated_at_ms
		FROM prompts WHERE id = ?
	`, id)
	return scanPrompt(row)
}

func (s *SQLiteStore) ActivePrompt(ctx context.Context, mode, language string) (Prompt, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, content, mode, language, active, created_at_ms, updated_at_ms
		FROM prompts WHERE mode = ? AND language = ? AND active = 1
		ORDER BY updated_at_ms DESC LIMIT 1
	`, mode, language)
	return scanPrompt(row)
}

// ActivatePrompt flips the given prompt active and deactivates every other
// prompt in the same (mode, language) scope, in one transaction.
func (s *SQLiteStore) ActivatePrompt(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "kb store: begin activate")
	}
	var mode, language string
	if err := tx.QueryRowContext(ctx, `SELECT mode, language FROM prompts WHERE id = ?`, id).Scan(&mode, &language); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return errors.Errorf("kb store: prompt %s not found", id)
		}
		return errors.Wrap(err, "kb store: lookup prompt")
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE prompts SET active = 0, updated_at_ms = ? WHERE mode = ? AND language = ? AND active = 1
	`, now, mode, language); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "kb store: deactivate prompts")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE prompts SET active = 1, updated_at_ms = ? WHERE id = ?
	`, now, id); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "kb store: activate prompt")
	}
	return errors.Wrap(tx.Commit(), "kb store: commit activate")
}

func (s *SQLiteStore) ListPrompts(ctx context.Context, mode string) ([]Prompt, error) {
	clauses := ""
	args := []any{}
	if v := strings.TrimSpace(mode); v != "" {
		clauses = "WHERE mode = ?"
		args = append(args, v)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, content, mode, language, active, created_at_ms, updated_at_ms
		FROM prompts %s ORDER BY created_at_ms DESC
	`, clauses), args...)
	if err != nil {
		return nil, errors.Wrap(err, "kb store: list prompts")
	}
	defer func() { _ = rows.Close() }()
	items := []Prompt{}
	for rows.Next() {
		var p Prompt
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.Mode, &p.Language, &active, &p.CreatedAtMs, &p.UpdatedAtMs); err != nil {
			return nil, err
		}
		p.Active = active != 0
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeletePrompt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
	return errors.Wrap(err, "kb store: delete prompt")
}

func (s *SQLiteStore) IssueAPIKey(ctx context.Context, k APIKey) error {
	if strings.TrimSpace(k.Key) == "" {
		return errors.New("kb store: api key is empty")
	}
	if k.CreatedAtMs <= 0 {
		k.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys(key, store_name, prompt_id, label, revoked, created_at_ms)
		VALUES(?, ?, ?, ?, ?, ?)
	`, k.Key, k.StoreName, k.PromptID, k.Label, boolToInt(k.Revoked), k.CreatedAtMs)
	return errors.Wrap(err, "kb store: issue api key")
}

func (s *SQLiteStore) GetAPIKey(ctx context.Context, key string) (APIKey, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, store_name, prompt_id, label, revoked, created_at_ms
		FROM api_keys WHERE key = ?
	`, key)
	var k APIKey
	var revoked int
	err := row.Scan(&k.Key, &k.StoreName, &k.PromptID, &k.Label, &revoked, &k.CreatedAtMs)
	if err == sql.ErrNoRows {
		return APIKey{}, false, nil
	}
	if err != nil {
		return APIKey{}, false, errors.Wrap(err, "kb store: get api key")
	}
	k.Revoked = revoked != 0
	return k, true, nil
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE key = ?`, key)
	return errors.Wrap(err, "kb store: revoke api key")
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, storeName string) ([]APIKey, error) {
	clauses := ""
	args := []any{}
	if v := strings.TrimSpace(storeName); v != "" {
		clauses = "WHERE store_name = ?"
		args = append(args, v)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, store_name, prompt_id, label, revoked, created_at_ms
		FROM api_keys %s ORDER BY created_at_ms DESC
	`, clauses), args...)
	if err != nil {
		return nil, errors.Wrap(err, "kb store: list api keys")
	}
	defer func() { _ = rows.Close() }()
	items := []APIKey{}
	for rows.Next() {
		var k APIKey
		var revoked int
		if err := rows.Scan(&k.Key, &k.StoreName, &k.PromptID, &k.Label, &revoked, &k.CreatedAtMs); err != nil {
			return nil, err
		}
		k.Revoked = revoked != 0
		items = append(items, k)
	}
	return items, rows.Err()
}

func scanPrompt(row *sql.Row) (Prompt, bool, error) {
	var p Prompt
	var active int
	err := row.Scan(&p.ID, &p.Name, &p.Content, &p.Mode, &p.Language, &active, &p.CreatedAtMs, &p.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return Prompt{}, false, nil
	}
	if err != nil {
		return Prompt{}, false, errors.Wrap(err, "kb store: scan prompt")
	}
	p.Active = active != 0
	return p, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SQLiteKBDSNForFile builds the canonical DSN for a file-backed kb store.
func SQLiteKBDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("kb store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
