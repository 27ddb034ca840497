package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ragbase/kbchat/pkg/chatstore"
	"github.com/ragbase/kbchat/pkg/provider"
	"github.com/ragbase/kbchat/pkg/provider/scripted"
)

func newTestRouter(t *testing.T, prov provider.Provider) *Router {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r, err := NewRouter(ctx, RouterConfig{
		Addr:     "127.0.0.1:0",
		Sessions: chatstore.NewInMemorySessionStore(),
		Provider: prov,
	})
	require.NoError(t, err)
	return r
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestRouter_StartSendAndHistoryFlow(t *testing.T) {
	prov := scripted.New().
		QueueAnswer(provider.Answer{Text: "first answer"}).
		QueueAnswer(provider.Answer{Text: "second answer"})
	r := newTestRouter(t, prov)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)

	resp, started := postJSON(t, srv, "/api/chat/start", map[string]any{"mode": "general", "store_name": "docs"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid, _ := started["session_id"].(string)
	require.NotEmpty(t, sid)

	resp, sent := postJSON(t, srv, "/api/chat/send", map[string]any{"session_id": sid, "message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "first answer", sent["answer"])
	require.Equal(t, float64(1), sent["turn_number"])

	resp, sent = postJSON(t, srv, "/api/chat/send", map[string]any{"session_id": sid, "message": "again", "turn_number": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "second answer", sent["answer"])
	require.Equal(t, float64(1), sent["turn_number"])

	listResp, err := http.Get(srv.URL + "/api/history/sessions?mode=general")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listResp.Body.Close() })
	var listed SessionListResult
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	require.Equal(t, 1, listed.TotalSessions)
	require.Equal(t, sid, listed.Sessions[0].ID)

	detailResp, err := http.Get(fmt.Sprintf("%s/api/history/session?session_id=%s", srv.URL, sid))
	require.NoError(t, err)
	t.Cleanup(func() { _ = detailResp.Body.Close() })
	var detail SessionDetailResult
	require.NoError(t, json.NewDecoder(detailResp.Body).Decode(&detail))
	require.Len(t, detail.Conversations, 1)
	require.Equal(t, "again", detail.Conversations[0].UserMessage)
}

func TestRouter_SendErrorsMapToStatusCodes(t *testing.T) {
	prov := scripted.New().QueueError(fmt.Errorf("network error"))
	r := newTestRouter(t, prov)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)

	resp, _ := postJSON(t, srv, "/api/chat/send", map[string]any{"message": "no session"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/chat/send", map[string]any{"session_id": "missing", "message": "hi"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, started := postJSON(t, srv, "/api/chat/start", map[string]any{"mode": "general"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid, _ := started["session_id"].(string)

	resp, body := postJSON(t, srv, "/api/chat/send", map[string]any{"session_id": sid, "message": "hi"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "provider failed", body["error"])
}

func TestRouter_ExportSetsContentDisposition(t *testing.T) {
	prov := scripted.New().QueueAnswer(provider.Answer{Text: "ok"})
	r := newTestRouter(t, prov)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)

	_, started := postJSON(t, srv, "/api/chat/start", map[string]any{"mode": "general"})
	sid, _ := started["session_id"].(string)
	resp, _ := postJSON(t, srv, "/api/chat/send", map[string]any{"session_id": sid, "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	exportResp, err := http.Get(fmt.Sprintf("%s/api/history/export?session_id=%s", srv.URL, sid))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exportResp.Body.Close() })
	require.Equal(t, http.StatusOK, exportResp.StatusCode)
	require.Contains(t, exportResp.Header.Get("Content-Disposition"), "attachment; filename=\"kbchat-")

	var artifact ExportArtifact
	require.NoError(t, json.NewDecoder(exportResp.Body).Decode(&artifact))
	require.Len(t, artifact.Sessions, 1)
}

func TestRouter_DeleteSession(t *testing.T) {
	prov := scripted.New().QueueAnswer(provider.Answer{Text: "ok"})
	r := newTestRouter(t, prov)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)

	_, started := postJSON(t, srv, "/api/chat/start", map[string]any{"mode": "general"})
	sid, _ := started["session_id"].(string)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/history/delete?session_id=%s", srv.URL, sid), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	detailResp, err := http.Get(fmt.Sprintf("%s/api/history/session?session_id=%s", srv.URL, sid))
	require.NoError(t, err)
	t.Cleanup(func() { _ = detailResp.Body.Close() })
	require.Equal(t, http.StatusNotFound, detailResp.StatusCode)
}

func TestRouter_MountUnderPrefix(t *testing.T) {
	r := newTestRouter(t, scripted.New())
	parent := http.NewServeMux()
	r.Mount(parent, "/chat")
	srv := httptest.NewServer(parent)
	t.Cleanup(srv.Close)

	resp, started := postJSON(t, srv, "/chat/api/chat/start", map[string]any{"mode": "general"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, started["session_id"])
}
