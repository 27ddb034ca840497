package webchat

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragbase/kbchat/pkg/kbstore"
)

// Admin handlers: stores, prompts, and API keys. Authentication for these
// routes is deployment concern (reverse proxy), matching the product split
// between the public chat surface and the admin console.

func NewStoresHandler(kb kbstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if kb == nil {
			http.Error(w, "kb store not configured", http.StatusServiceUnavailable)
			return
		}
		switch req.Method {
		case http.MethodGet:
			items, err := kb.ListKnowledgeBases(req.Context())
			if err != nil {
				writeServiceError(w, err, "list stores failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"stores": items})
		case http.MethodPost:
			var in kbstore.KnowledgeBase
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid store"})
				return
			}
			if err := kb.CreateKnowledgeBase(req.Context(), in); err != nil {
				writeServiceError(w, err, "create store failed")
				return
			}
			writeJSON(w, http.StatusOK, in)
		case http.MethodDelete:
			name := strings.TrimSpace(req.URL.Query().Get("name"))
			if name == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing name"})
				return
			}
			if err := kb.DeleteKnowledgeBase(req.Context(), name); err != nil {
				writeServiceError(w, err, "delete store failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "name": name})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func NewDocumentsHandler(kb kbstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if kb == nil {
			http.Error(w, "kb store not configured", http.StatusServiceUnavailable)
			return
		}
		switch req.Method {
		case http.MethodGet:
			storeName := strings.TrimSpace(req.URL.Query().Get("store_name"))
			items, err := kb.ListDocuments(req.Context(), storeName)
			if err != nil {
				writeServiceError(w, err, "list documents failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			var in kbstore.Document
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil || strings.TrimSpace(in.StoreName) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid document"})
				return
			}
			if strings.TrimSpace(in.ID) == "" {
				in.ID = uuid.NewString()
			}
			if err := kb.AddDocument(req.Context(), in); err != nil {
				writeServiceError(w, err, "add document failed")
				return
			}
			writeJSON(w, http.StatusOK, in)
		case http.MethodDelete:
			id := strings.TrimSpace(req.URL.Query().Get("id"))
			if err := kb.DeleteDocument(req.Context(), id); err != nil {
				writeServiceError(w, err, "delete document failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func NewPromptsHandler(kb kbstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if kb == nil {
			http.Error(w, "kb store not configured", http.StatusServiceUnavailable)
			return
		}
		switch req.Method {
		case http.MethodGet:
			mode := strings.TrimSpace(req.URL.Query().Get("mode"))
			items, err := kb.ListPrompts(req.Context(), mode)
			if err != nil {
				writeServiceError(w, err, "list prompts failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"prompts": items})
		case http.MethodPost:
			var in kbstore.Prompt
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil || strings.TrimSpace(in.Content) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid prompt"})
				return
			}
			if strings.TrimSpace(in.ID) == "" {
				in.ID = uuid.NewString()
			}
			if err := kb.UpsertPrompt(req.Context(), in); err != nil {
				writeServiceError(w, err, "save prompt failed")
				return
			}
			writeJSON(w, http.StatusOK, in)
		case http.MethodDelete:
			id := strings.TrimSpace(req.URL.Query().Get("id"))
			if err := kb.DeletePrompt(req.Context(), id); err != nil {
				writeServiceError(w, err, "delete prompt failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func NewActivatePromptHandler(kb kbstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if kb == nil {
			http.Error(w, "kb store not configured", http.StatusServiceUnavailable)
			return
		}
		id := strings.TrimSpace(req.URL.Query().Get("id"))
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing id"})
			return
		}
		if err := kb.ActivatePrompt(req.Context(), id); err != nil {
			writeServiceError(w, err, "activate prompt failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "activated", "id": id})
	}
}

func NewAPIKeysHandler(kb kbstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if kb == nil {
			http.Error(w, "kb store not configured", http.StatusServiceUnavailable)
			return
		}
		switch req.Method {
		case http.MethodGet:
			storeName := strings.TrimSpace(req.URL.Query().Get("store_name"))
			items, err := kb.ListAPIKeys(req.Context(), storeName)
			if err != nil {
				writeServiceError(w, err, "list api keys failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"api_keys": items})
		case http.MethodPost:
			var in kbstore.APIKey
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil || strings.TrimSpace(in.StoreName) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid api key request"})
				return
			}
			in.Key = uuid.NewString()
			in.Revoked = false
			in.CreatedAtMs = time.Now().UnixMilli()
			if err := kb.IssueAPIKey(req.Context(), in); err != nil {
				writeServiceError(w, err, "issue api key failed")
				return
			}
			writeJSON(w, http.StatusOK, in)
		case http.MethodDelete:
			key := strings.TrimSpace(req.URL.Query().Get("key"))
			if err := kb.RevokeAPIKey(req.Context(), key); err != nil {
				writeServiceError(w, err, "revoke api key failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
