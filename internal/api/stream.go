// v2
// internal/api/stream.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/observability"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy is enforced by the CORS layer in front
		return true
	},
}

// Hub fans dashboard snapshots out to connected stream clients. The
// most recent snapshot is replayed to every new client so a fresh
// connection does not wait a full refresh interval for data.
type Hub struct {
	log     *slog.Logger
	metrics *observability.Metrics

	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []byte

	clients map[*streamClient]bool
	last    []byte
}

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		log:        log.With(slog.String("component", "stream_hub")),
		metrics:    metrics,
		register:   make(chan *streamClient, 8),
		unregister: make(chan *streamClient, 8),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*streamClient]bool),
	}
}

// Run owns the client set until ctx is cancelled. All connections are
// closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("stream_hub_started")
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.log.Info("stream_hub_stopped")
			return
		case c := <-h.register:
			h.clients[c] = true
			h.metrics.StreamClientConnected()
			if h.last != nil {
				select {
				case c.send <- h.last:
				default:
				}
			}
			h.log.Info("stream_client_connected", slog.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.metrics.StreamClientDisconnected()
				h.log.Info("stream_client_disconnected", slog.Int("clients", len(h.clients)))
			}
		case msg := <-h.broadcast:
			h.last = msg
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.metrics.StreamClientDisconnected()
					h.log.Warn("stream_client_dropped", slog.String("reason", "send buffer full"))
				}
			}
		}
	}
}

// Listen consumes a published snapshot. Safe to register as a pipeline
// listener: enqueueing never blocks.
func (h *Hub) Listen(snap pipeline.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.Error("stream_encode_err", slog.Any("err", err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("stream_broadcast_full")
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("stream_upgrade_err", slog.Any("err", err))
		return
	}
	c := &streamClient{hub: h, conn: conn, send: make(chan []byte, clientSendSize)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump discards client messages; the stream is one way. It exists
// to process control frames and detect closed connections.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
