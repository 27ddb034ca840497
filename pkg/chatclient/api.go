package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

// API is the remote surface the reconciler and history browser depend on.
// The server owns sessions and turns; the client only holds projections.
type API interface {
	StartChat(ctx context.Context, req StartChatRequest) (StartChatResponse, error)
	SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error)

	ListSessions(ctx context.Context, req SessionListRequest) (SessionListResponse, error)
	SessionDetail(ctx context.Context, sessionID string) (SessionDetailResponse, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Export(ctx context.Context, req ExportRequest) (ExportResponse, error)
}

type StartChatRequest struct {
	Mode              string `json:"mode"`
	StoreName         string `json:"store_name,omitempty"`
	Language          string `json:"language,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	APIKey            string `json:"api_key,omitempty"`
}

type StartChatResponse struct {
	SessionID     string `json:"session_id"`
	PromptApplied string `json:"prompt_applied,omitempty"`
}

type SendMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// TurnNumber marks the request as a replacement for turn N: the server
	// truncates persisted turns >= N before writing the new one.
	TurnNumber *int `json:"turn_number,omitempty"`
}

type SendMessageResponse struct {
	Answer     string               `json:"answer"`
	TurnNumber int                  `json:"turn_number"`
	ToolCalls  []chatstore.ToolCall `json:"tool_calls,omitempty"`
}

type SessionListRequest struct {
	Mode      string
	StoreName string
	Page      int
	PageSize  int
}

type SessionListResponse struct {
	Sessions      []chatstore.SessionSummary `json:"sessions"`
	TotalSessions int                        `json:"total_sessions"`
	Page          int                        `json:"page"`
	PageSize      int                        `json:"page_size"`
}

type SessionDetailResponse struct {
	SessionID     string           `json:"session_id"`
	Conversations []chatstore.Turn `json:"conversations"`
}

type ExportRequest struct {
	SessionID string
	Mode      string
	StoreName string
}

type ExportedSession struct {
	Session chatstore.Session `json:"session"`
	Turns   []chatstore.Turn  `json:"turns"`
}

type ExportResponse struct {
	Filename string            `json:"-"`
	Sessions []ExportedSession `json:"sessions"`
}

// APIError is a server-reported application error. The status code picks the
// error class; the message is safe to show to the user.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// HTTPClient talks to the kbchat HTTP surface. Zero-value timeouts fall back
// to a transport-level default so a stuck request cannot pin the UI forever.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

type HTTPClientConfig struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

var _ API = &HTTPClient{}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("chat client base URL is empty")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: base, client: client}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, nil)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, q url.Values, out any, header func(http.Header)) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out, header)
}

func (c *HTTPClient) do(req *http.Request, out any, header func(http.Header)) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if header != nil {
		header(resp.Header)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *HTTPClient) StartChat(ctx context.Context, req StartChatRequest) (StartChatResponse, error) {
	var out StartChatResponse
	err := c.postJSON(ctx, "/api/chat/start", req, &out)
	return out, err
}

func (c *HTTPClient) SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error) {
	var out SendMessageResponse
	err := c.postJSON(ctx, "/api/chat/send", req, &out)
	return out, err
}

func (c *HTTPClient) ListSessions(ctx context.Context, req SessionListRequest) (SessionListResponse, error) {
	q := url.Values{}
	if req.Mode != "" {
		q.Set("mode", req.Mode)
	}
	if req.StoreName != "" {
		q.Set("store_name", req.StoreName)
	}
	if req.Page > 0 {
		q.Set("page", strconv.Itoa(req.Page))
	}
	if req.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(req.PageSize))
	}
	var out SessionListResponse
	err := c.getJSON(ctx, "/api/history/sessions", q, &out, nil)
	return out, err
}

func (c *HTTPClient) SessionDetail(ctx context.Context, sessionID string) (SessionDetailResponse, error) {
	q := url.Values{"session_id": []string{sessionID}}
	var out SessionDetailResponse
	err := c.getJSON(ctx, "/api/history/session", q, &out, nil)
	return out, err
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	u := c.baseURL + "/api/history/delete?" + url.Values{"session_id": []string{sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, nil, nil)
}

func (c *HTTPClient) Export(ctx context.Context, req ExportRequest) (ExportResponse, error) {
	q := url.Values{}
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	if req.Mode != "" {
		q.Set("mode", req.Mode)
	}
	if req.StoreName != "" {
		q.Set("store_name", req.StoreName)
	}
	var out ExportResponse
	err := c.getJSON(ctx, "/api/history/export", q, &out, func(h http.Header) {
		if _, params, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
			out.Filename = params["filename"]
		}
	})
	return out, err
}
