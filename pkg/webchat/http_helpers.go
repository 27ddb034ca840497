package webchat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

// ChatHTTPService describes the chat write surface used by HTTP handlers.
type ChatHTTPService interface {
	StartChat(ctx context.Context, in StartChatInput) (StartChatResult, error)
	SendMessage(ctx context.Context, in SendMessageInput) (SendMessageResult, error)
}

// HistoryHTTPService describes history reads/deletes used by HTTP handlers.
type HistoryHTTPService interface {
	ListSessions(ctx context.Context, f chatstore.SessionFilter) (SessionListResult, error)
	SessionDetail(ctx context.Context, sessionID string) (SessionDetailResult, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Export(ctx context.Context, sessionID string, f chatstore.SessionFilter, now time.Time) (ExportArtifact, error)
}

// StreamHTTPService describes websocket attach lifecycle used by HTTP handlers.
type StreamHTTPService interface {
	AttachWebSocket(ctx context.Context, sessionID string, conn *websocket.Conn, opts WebSocketAttachOptions) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if status > 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback
	var se *ServiceError
	if stderrors.As(err, &se) && se != nil {
		if se.Status > 0 {
			status = se.Status
		}
		if strings.TrimSpace(se.ClientMsg) != "" {
			msg = se.ClientMsg
		}
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func NewStartChatHandler(svc ChatHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if svc == nil {
			http.Error(w, "chat service not initialized", http.StatusServiceUnavailable)
			return
		}
		var in StartChatInput
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		res, err := svc.StartChat(req.Context(), in)
		if err != nil {
			writeServiceError(w, err, "start chat failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func NewSendMessageHandler(svc ChatHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if svc == nil {
			http.Error(w, "chat service not initialized", http.StatusServiceUnavailable)
			return
		}
		var in SendMessageInput
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		res, err := svc.SendMessage(req.Context(), in)
		if err != nil {
			writeServiceError(w, err, "send message failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func sessionFilterFromQuery(req *http.Request) chatstore.SessionFilter {
	q := req.URL.Query()
	f := chatstore.SessionFilter{
		Mode:      strings.TrimSpace(q.Get("mode")),
		StoreName: strings.TrimSpace(q.Get("store_name")),
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		f.Page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil && v > 0 {
		f.PageSize = v
	}
	return f
}

func NewSessionListHandler(svc HistoryHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		res, err := svc.ListSessions(req.Context(), sessionFilterFromQuery(req))
		if err != nil {
			writeServiceError(w, err, "list sessions failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func NewSessionDetailHandler(svc HistoryHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := strings.TrimSpace(req.URL.Query().Get("session_id"))
		res, err := svc.SessionDetail(req.Context(), sessionID)
		if err != nil {
			writeServiceError(w, err, "session detail failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func NewDeleteSessionHandler(svc HistoryHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodDelete && req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := strings.TrimSpace(req.URL.Query().Get("session_id"))
		if err := svc.DeleteSession(req.Context(), sessionID); err != nil {
			writeServiceError(w, err, "delete session failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": sessionID})
	}
}

func NewExportHandler(svc HistoryHTTPService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := strings.TrimSpace(req.URL.Query().Get("session_id"))
		artifact, err := svc.Export(req.Context(), sessionID, sessionFilterFromQuery(req), time.Now())
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("export failed")
			writeServiceError(w, err, "export failed")
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
		writeJSON(w, http.StatusOK, artifact)
	}
}

func NewWSHandler(svc StreamHTTPService, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if svc == nil {
			http.Error(w, "stream service not initialized", http.StatusServiceUnavailable)
			return
		}
		sessionID := strings.TrimSpace(req.URL.Query().Get("session_id"))
		if sessionID == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		if err := svc.AttachWebSocket(req.Context(), sessionID, conn, WebSocketAttachOptions{
			SendHello:      true,
			HandlePingPong: true,
		}); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"failed to attach websocket"}`))
			_ = conn.Close()
			return
		}
	}
}
