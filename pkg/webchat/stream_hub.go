package webchat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type StreamHubConfig struct {
	BaseCtx    context.Context
	Subscriber message.Subscriber
}

// StreamHub forwards per-session events to attached websocket clients. One
// reader goroutine per session subscribes to the session topic and fans the
// payload out to every connection.
type StreamHub struct {
	baseCtx context.Context
	sub     message.Subscriber

	mu       sync.Mutex
	sessions map[string]*sessionConns
}

type sessionConns struct {
	mu       sync.RWMutex
	conns    map[*websocket.Conn]bool
	stopRead context.CancelFunc
	reading  bool
}

type WebSocketAttachOptions struct {
	SendHello      bool
	HandlePingPong bool
}

func NewStreamHub(cfg StreamHubConfig) (*StreamHub, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("stream hub base context is nil")
	}
	if cfg.Subscriber == nil {
		return nil, errors.New("stream hub subscriber is nil")
	}
	return &StreamHub{
		baseCtx:  cfg.BaseCtx,
		sub:      cfg.Subscriber,
		sessions: map[string]*sessionConns{},
	}, nil
}

func (h *StreamHub) sessionConns(sessionID string) *sessionConns {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc := h.sessions[sessionID]
	if sc == nil {
		sc = &sessionConns{conns: map[*websocket.Conn]bool{}}
		h.sessions[sessionID] = sc
	}
	return sc
}

// startReader subscribes to the session topic and forwards payloads to every
// attached connection until the subscription channel closes.
func (h *StreamHub) startReader(sessionID string, sc *sessionConns) error {
	sc.mu.Lock()
	if sc.reading {
		sc.mu.Unlock()
		return nil
	}
	readCtx, readCancel := context.WithCancel(h.baseCtx)
	ch, err := h.sub.Subscribe(readCtx, topicForSession(sessionID))
	if err != nil {
		readCancel()
		sc.mu.Unlock()
		return errors.Wrap(err, "subscribe session topic")
	}
	sc.stopRead = readCancel
	sc.reading = true
	sc.mu.Unlock()

	log.Info().Str("component", "webchat").Str("session_id", sessionID).Msg("starting session reader")
	go func() {
		for msg := range ch {
			sc.mu.RLock()
			for c := range sc.conns {
				_ = c.WriteMessage(websocket.TextMessage, msg.Payload)
			}
			sc.mu.RUnlock()
			msg.Ack()
		}
		sc.mu.Lock()
		sc.reading = false
		sc.stopRead = nil
		sc.mu.Unlock()
		log.Info().Str("component", "webchat").Str("session_id", sessionID).Msg("session reader stopped")
	}()
	return nil
}

func (h *StreamHub) AttachWebSocket(ctx context.Context, sessionID string, conn *websocket.Conn, opts WebSocketAttachOptions) error {
	if h == nil {
		return errors.New("stream hub is not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session id")
	}
	if conn == nil {
		return errors.New("websocket connection is nil")
	}

	sc := h.sessionConns(sessionID)
	if err := h.startReader(sessionID, sc); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.conns[conn] = true
	sc.mu.Unlock()

	wsLog := log.With().
		Str("component", "webchat").
		Str("remote", conn.RemoteAddr().String()).
		Str("session_id", sessionID).
		Logger()

	if opts.SendHello {
		hello := map[string]any{
			"type":        "ws.hello",
			"session_id":  sessionID,
			"server_time": time.Now().UnixMilli(),
		}
		if b, err := json.Marshal(hello); err == nil {
			wsLog.Debug().Msg("ws sending hello")
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
	}

	go func() {
		defer h.removeConn(sessionID, sc, conn)
		defer wsLog.Info().Msg("ws disconnected")
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if opts.HandlePingPong && msgType == websocket.TextMessage && isPingFrame(data) {
				pong := map[string]any{
					"type":        "ws.pong",
					"session_id":  sessionID,
					"server_time": time.Now().UnixMilli(),
				}
				if b, err := json.Marshal(pong); err == nil {
					wsLog.Debug().Msg("ws sending pong")
					_ = conn.WriteMessage(websocket.TextMessage, b)
				}
			}
		}
	}()
	return nil
}

func (h *StreamHub) removeConn(sessionID string, sc *sessionConns, conn *websocket.Conn) {
	sc.mu.Lock()
	delete(sc.conns, conn)
	empty := len(sc.conns) == 0
	stop := sc.stopRead
	if empty {
		sc.stopRead = nil
		sc.reading = false
	}
	sc.mu.Unlock()
	_ = conn.Close()
	if empty && stop != nil {
		stop()
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
	}
}

func isPingFrame(data []byte) bool {
	if strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
		return true
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil || v == nil {
		return false
	}
	t, ok := v["type"].(string)
	return ok && strings.EqualFold(t, "ws.ping")
}
