// Package gateway connects websocket clients and HTTP callers to the game
// session.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atmx/tradesim/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is the outbound envelope written to websocket clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Outbox delivers outbound messages to one connection or to all of them.
type Outbox interface {
	Send(handle string, msg Message)
	Broadcast(msg Message)
}

// Handler receives inbound frames from a connection and is told when the
// connection goes away.
type Handler interface {
	Handle(ctx context.Context, handle string, data []byte)
	Leave(handle string)
}

type client struct {
	handle string
	conn   *websocket.Conn
	send   chan []byte
}

// outbound is a frame queued for one handle, or for everyone when handle is
// empty.
type outbound struct {
	handle string
	data   []byte
}

// Hub manages websocket connections. Its Run loop is the only goroutine that
// touches the client set, and every outbound frame passes through one queue,
// so frames reach each connection in the order they were queued.
type Hub struct {
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	out        chan outbound
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a new websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		out:        make(chan outbound, 256),
		done:       make(chan struct{}),
		log:        logger.With("component", "ws_hub"),
	}
}

// Run starts the hub's main event loop and returns when ctx is cancelled.
// Must be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for handle, c := range h.clients {
				close(c.send)
				delete(h.clients, handle)
			}
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.clients[c.handle] = c
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.log.Info("ws client connected", "handle", c.handle, "total", len(h.clients))

		case c := <-h.unregister:
			if cur, ok := h.clients[c.handle]; ok && cur == c {
				delete(h.clients, c.handle)
				close(c.send)
				metrics.WebSocketClients.Set(float64(len(h.clients)))
				h.log.Info("ws client disconnected", "handle", c.handle, "total", len(h.clients))
			}

		case msg := <-h.out:
			if msg.handle != "" {
				if c, ok := h.clients[msg.handle]; ok {
					h.deliver(c, msg.data)
				}
				continue
			}
			for _, c := range h.clients {
				h.deliver(c, msg.data)
			}
		}
	}
}

// deliver queues data on a client. A client whose buffer is full is too slow
// to keep up and is dropped.
func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn("ws client too slow, dropping", "handle", c.handle)
		delete(h.clients, c.handle)
		close(c.send)
		metrics.WebSocketClients.Set(float64(len(h.clients)))
	}
}

// Send queues msg for one connection. Unknown handles are ignored.
func (h *Hub) Send(handle string, msg Message) {
	h.enqueue(handle, msg)
}

// Broadcast queues msg for every connection.
func (h *Hub) Broadcast(msg Message) {
	h.enqueue("", msg)
}

func (h *Hub) enqueue(handle string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode ws message failed", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.out <- outbound{handle: handle, data: data}:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// ServeWS returns the handler for websocket upgrade requests. Each
// connection gets a fresh handle; inbound frames are passed to handler on the
// connection's read goroutine.
func (h *Hub) ServeWS(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Error("ws upgrade failed", "err", err)
			return
		}

		c := &client{
			handle: uuid.New().String(),
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
		}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}

		go h.writePump(c)
		go h.readPump(c, handler)
	}
}

// readPump passes inbound frames to handler until the connection fails.
func (h *Hub) readPump(c *client, handler Handler) {
	defer func() {
		handler.Leave(c.handle)
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	// Commands run to completion even if the connection drops mid-command.
	ctx := context.Background()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("ws read failed", "handle", c.handle, "err", err)
			}
			return
		}
		handler.Handle(ctx, c.handle, data)
	}
}

// writePump writes queued frames and keeps the connection alive through
// proxies with periodic pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
