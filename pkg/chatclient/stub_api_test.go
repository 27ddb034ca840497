package chatclient

import (
	"context"
	"fmt"
	"sync"
)

type startResult struct {
	res StartChatResponse
	err error
}

type sendResult struct {
	res SendMessageResponse
	err error
}

// stubAPI is a scripted API double. Responses are consumed in queue order;
// every request is recorded so tests can assert on wire traffic (or its
// absence). When sendGate is set, SendMessage signals sendStarted and then
// blocks until the gate closes, which lets tests observe mid-flight state.
type stubAPI struct {
	mu sync.Mutex

	startQueue []startResult
	sendQueue  []sendResult

	startCalls  []StartChatRequest
	sendCalls   []SendMessageRequest
	detailCalls []string
	deleted     []string

	listResp   SessionListResponse
	listErr    error
	listCalls  []SessionListRequest
	detailResp map[string]SessionDetailResponse
	exportResp ExportResponse

	sendGate    chan struct{}
	sendStarted chan struct{}
}

var _ API = &stubAPI{}

func newStubAPI() *stubAPI {
	return &stubAPI{detailResp: map[string]SessionDetailResponse{}}
}

func (s *stubAPI) queueStart(res StartChatResponse, err error) *stubAPI {
	s.startQueue = append(s.startQueue, startResult{res: res, err: err})
	return s
}

func (s *stubAPI) queueSend(res SendMessageResponse, err error) *stubAPI {
	s.sendQueue = append(s.sendQueue, sendResult{res: res, err: err})
	return s
}

func (s *stubAPI) sendCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sendCalls)
}

func (s *stubAPI) StartChat(_ context.Context, req StartChatRequest) (StartChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls = append(s.startCalls, req)
	if len(s.startQueue) == 0 {
		return StartChatResponse{}, fmt.Errorf("stub: no start response queued")
	}
	next := s.startQueue[0]
	s.startQueue = s.startQueue[1:]
	return next.res, next.err
}

func (s *stubAPI) SendMessage(_ context.Context, req SendMessageRequest) (SendMessageResponse, error) {
	s.mu.Lock()
	s.sendCalls = append(s.sendCalls, req)
	gate := s.sendGate
	started := s.sendStarted
	var next sendResult
	if len(s.sendQueue) == 0 {
		next = sendResult{err: fmt.Errorf("stub: no send response queued")}
	} else {
		next = s.sendQueue[0]
		s.sendQueue = s.sendQueue[1:]
	}
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return next.res, next.err
}

func (s *stubAPI) ListSessions(_ context.Context, req SessionListRequest) (SessionListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls = append(s.listCalls, req)
	return s.listResp, s.listErr
}

func (s *stubAPI) SessionDetail(_ context.Context, sessionID string) (SessionDetailResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailCalls = append(s.detailCalls, sessionID)
	res, ok := s.detailResp[sessionID]
	if !ok {
		return SessionDetailResponse{}, &APIError{Status: 404, Message: "session not found"}
	}
	return res, nil
}

func (s *stubAPI) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, sessionID)
	return nil
}

func (s *stubAPI) Export(_ context.Context, _ ExportRequest) (ExportResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportResp, nil
}
