package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Stream names. Clients pick streams with ?streams=panel,item; the default
// is all of them.
const (
	streamPanel = "panel"
	streamItem  = "item"
)

// envelope is one message on the socket.
type envelope struct {
	Stream string `json:"stream"`
	Time   string `json:"time"`
	Data   any    `json:"data"`
}

type itemChange struct {
	Path   string `json:"path"`
	Value  any    `json:"value"`
	Old    any    `json:"old,omitempty"`
	Origin string `json:"origin,omitempty"`
	Source string `json:"source,omitempty"`
}

type outbound struct {
	stream string
	data   []byte
}

// WSHub manages WebSocket connections and broadcasts events.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger
	now     func() time.Time

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan outbound

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	streams map[string]bool // nil means every stream
}

func (c *wsClient) wants(stream string) bool {
	return c.streams == nil || c.streams[stream]
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		now:        time.Now,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan outbound, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(msg.stream) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast sends data on stream to every client subscribed to it. It never
// blocks; messages are dropped when the hub is backed up.
func (h *WSHub) Broadcast(stream string, data any) {
	raw, err := json.Marshal(envelope{Stream: stream, Time: h.now().UTC().Format(time.RFC3339Nano), Data: data})
	if err != nil {
		h.logger.Error("ws marshal", "stream", stream, "err", err)
		return
	}
	select {
	case h.broadcast <- outbound{stream: stream, data: raw}:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message", "stream", stream)
	}
}

// parseStreams reads the streams query parameter. Unknown names are ignored;
// an empty or absent parameter selects every stream.
func parseStreams(q string) map[string]bool {
	if q == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, s := range strings.Split(q, ",") {
		switch s = strings.TrimSpace(s); s {
		case streamPanel, streamItem:
			out[s] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, 64),
		streams: parseStreams(r.URL.Query().Get("streams")),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump discards client messages and unregisters on disconnect.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
