package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pt100-monitor/internal/hub"
)

// maxMessageSize caps inbound frames; clients have nothing to say beyond
// control frames.
const maxMessageSize = 512

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard may be served from another origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSubscriber adapts a websocket connection to the hub. gorilla connections
// allow one concurrent writer, so writes are serialized.
type wsSubscriber struct {
	id        string
	conn      *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn, writeWait time.Duration) *wsSubscriber {
	return &wsSubscriber{id: uuid.NewString(), conn: conn, writeWait: writeWait}
}

func (s *wsSubscriber) ID() string {
	return s.id
}

func (s *wsSubscriber) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.writeWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close tears the connection down; the hub calls it on removal.
func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

func (h *handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		if h.logger != nil {
			h.logger.Warn("http: websocket upgrade failed", "error", err)
		}
		return
	}

	sub := newWSSubscriber(conn, h.writeWait)
	defer sub.Close()

	// new clients get the current state before the first data push
	s := h.service.Status()
	if msg, err := hub.StatusMessage(s.Measuring, s.Recording); err == nil {
		if err := sub.Send(r.Context(), msg); err != nil {
			return
		}
	}

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	h.subscribers.Register(sub)
	defer h.subscribers.Remove(sub)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingPump(conn, stopPing)

	// The read pump only detects the client going away; inbound messages are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingPump keeps the read deadline alive for clients that answer pings.
// WriteControl may run alongside the subscriber's writes.
func (h *handler) pingPump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				return
			}
		}
	}
}
