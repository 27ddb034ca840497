package webchat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ragbase/kbchat/pkg/chatstore"
	"github.com/ragbase/kbchat/pkg/kbstore"
	"github.com/ragbase/kbchat/pkg/provider"
	"github.com/ragbase/kbchat/pkg/tokencount"
)

type RouterConfig struct {
	Addr       string
	Sessions   chatstore.SessionStore
	KB         kbstore.Store
	Provider   provider.Provider
	Tokens     *tokencount.Counter
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Router wires the chat, history, admin, and websocket handlers onto one mux.
type Router struct {
	addr string
	mux  *http.ServeMux

	chatService    *ConversationService
	historyService *HistoryService
	streamHub      *StreamHub
}

func NewRouter(ctx context.Context, cfg RouterConfig) (*Router, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	chatService, err := NewConversationService(ConversationServiceConfig{
		Sessions:  cfg.Sessions,
		KB:        cfg.KB,
		Provider:  cfg.Provider,
		Tokens:    cfg.Tokens,
		Publisher: cfg.Publisher,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new conversation service")
	}
	historyService, err := NewHistoryService(cfg.Sessions, cfg.Publisher)
	if err != nil {
		return nil, errors.Wrap(err, "new history service")
	}
	var hub *StreamHub
	if cfg.Subscriber != nil {
		hub, err = NewStreamHub(StreamHubConfig{BaseCtx: ctx, Subscriber: cfg.Subscriber})
		if err != nil {
			return nil, errors.Wrap(err, "new stream hub")
		}
	}

	r := &Router{
		addr:           cfg.Addr,
		mux:            http.NewServeMux(),
		chatService:    chatService,
		historyService: historyService,
		streamHub:      hub,
	}
	r.registerHTTPHandlers(cfg.KB)
	return r, nil
}

func (r *Router) registerHTTPHandlers(kb kbstore.Store) {
	logger := log.With().Str("component", "webchat").Logger()

	r.mux.HandleFunc("/api/chat/start", NewStartChatHandler(r.chatService))
	r.mux.HandleFunc("/api/chat/send", NewSendMessageHandler(r.chatService))

	r.mux.HandleFunc("/api/history/sessions", NewSessionListHandler(r.historyService))
	r.mux.HandleFunc("/api/history/session", NewSessionDetailHandler(r.historyService))
	r.mux.HandleFunc("/api/history/delete", NewDeleteSessionHandler(r.historyService))
	r.mux.HandleFunc("/api/history/export", NewExportHandler(r.historyService, logger))

	if kb != nil {
		r.mux.HandleFunc("/api/admin/stores", NewStoresHandler(kb))
		r.mux.HandleFunc("/api/admin/documents", NewDocumentsHandler(kb))
		r.mux.HandleFunc("/api/admin/prompts", NewPromptsHandler(kb))
		r.mux.HandleFunc("/api/admin/prompts/activate", NewActivatePromptHandler(kb))
		r.mux.HandleFunc("/api/admin/api-keys", NewAPIKeysHandler(kb))
	}

	if r.streamHub != nil {
		upgrader := websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		}
		r.mux.HandleFunc("/ws", NewWSHandler(r.streamHub, upgrader))
	}
}

// Mount attaches all handlers to a parent mux with the given prefix.
// http.ServeMux does not strip prefixes, so we must use StripPrefix explicitly.
func (r *Router) Mount(mux *http.ServeMux, prefix string) {
	if prefix == "" || prefix == "/" {
		mux.Handle("/", r.mux)
		return
	}
	prefix = strings.TrimRight(prefix, "/")
	mux.Handle(prefix+"/", http.StripPrefix(prefix, r.mux))
	mux.HandleFunc(prefix, func(w http.ResponseWriter, r0 *http.Request) {
		http.Redirect(w, r0, prefix+"/", http.StatusPermanentRedirect)
	})
}

// Handler returns the router mux.
func (r *Router) Handler() http.Handler { return r.mux }

// ChatService returns the conversation write surface.
func (r *Router) ChatService() *ConversationService { return r.chatService }

// HistoryService returns the history read surface.
func (r *Router) HistoryService() *HistoryService { return r.historyService }

// StreamHub returns the websocket attach service, nil when streaming is off.
func (r *Router) StreamHub() *StreamHub {
	if r == nil {
		return nil
	}
	return r.streamHub
}

// BuildHTTPServer constructs an http.Server for the configured address.
func (r *Router) BuildHTTPServer() *http.Server {
	return &http.Server{
		Addr:              r.addr,
		Handler:           r.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
