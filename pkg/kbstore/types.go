package kbstore

import "context"

// KnowledgeBase is a named store of uploaded documents the LLM grounds
// answers in. Document content and retrieval live behind the provider; only
// the bookkeeping the UI needs is kept here.
type KnowledgeBase struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type Document struct {
	ID           string `json:"id"`
	StoreName    string `json:"store_name"`
	FileName     string `json:"file_name"`
	SizeBytes    int64  `json:"size_bytes"`
	UploadedAtMs int64  `json:"uploaded_at_ms"`
}

// Prompt is an admin-managed system prompt / persona. At most one prompt is
// active per (mode, language); activating one deactivates the previous.
type Prompt struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Content     string `json:"content"`
	Mode        string `json:"mode"`
	Language    string `json:"language,omitempty"`
	Active      bool   `json:"active"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// APIKey scopes chat access to a store plus a prompt.
type APIKey struct {
	Key         string `json:"key"`
	StoreName   string `json:"store_name"`
	PromptID    string `json:"prompt_id"`
	Label       string `json:"label,omitempty"`
	Revoked     bool   `json:"revoked"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type Store interface {
	CreateKnowledgeBase(ctx context.Context, kb KnowledgeBase) error
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, name string) error

	AddDocument(ctx context.Context, d Document) error
	ListDocuments(ctx context.Context, storeName string) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	UpsertPrompt(ctx context.Context, p Prompt) error
	GetPrompt(ctx context.Context, id string) (Prompt, bool, error)
	ActivePrompt(ctx context.Context, mode, language string) (Prompt, bool, error)
	ActivatePrompt(ctx context.Context, id string) error
	ListPrompts(ctx context.Context, mode string) ([]Prompt, error)
	DeletePrompt(ctx context.Context, id string) error

	IssueAPIKey(ctx context.Context, k APIKey) error
	GetAPIKey(ctx context.Context, key string) (APIKey, bool, error)
	RevokeAPIKey(ctx context.Context, key string) error
	ListAPIKeys(ctx context.Context, storeName string) ([]APIKey, error)

	Close() error
}
