package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

type message struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data"`
}

// Hub broadcasts session events to every connected websocket client. Events are dropped for
// clients that do not keep up.
type Hub struct {
	// OriginPatterns are passed on to the websocket handshake, empty only allows same origin
	OriginPatterns []string
	Logger         *zap.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{Logger: logger, clients: map[chan []byte]struct{}{}, done: make(chan struct{})}
}

// Close disconnects every client. Hijacked connections are not covered by http.Server.Shutdown.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Notify(e session.Event) {
	msg := message{Event: e.Name, SessionID: e.SessionID}
	switch e.Name {
	case session.EventUpdateCount:
		msg.Data = map[string]any{"count": e.Count}
	case session.EventScrapingDone:
		msg.Data = map[string]any{"filename": e.Filename, "count": e.Count}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.Logger.Error("failed encoding event", zap.String("event", e.Name), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c <- b:
		default:
			h.Logger.Debug("client is behind, dropping event", zap.String("event", e.Name))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.Logger.Debug("websocket handshake failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	events := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[events] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, events)
		h.mu.Unlock()
	}()

	// clients only listen, reading is needed to notice them going away
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case b := <-events:
			if err := write(ctx, conn, b); err != nil {
				h.Logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
