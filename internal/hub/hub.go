package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	// Per-subscriber send buffer. A dashboard that cannot drain this fast
	// gets messages dropped, never a stalled ingestion path.
	clientQueueSize = 64

	broadcastQueueSize = 1024
)

// Envelope is the wire format for one hub message: a named event plus its
// payload. Event names mirror the canonical event kinds, with "snapshot" and
// "command-sent" on top.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// SnapshotFunc builds the initial state a subscriber receives on connect,
// before any live event, so there is no gap between connecting and the first
// delivery.
type SnapshotFunc func(ctx context.Context) interface{}

// Client is one connected dashboard subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	closeOnce sync.Once
	closed    atomic.Bool
}

// trySend queues data for the client without ever blocking the caller.
// Returns false when the client is closed or its buffer is full.
func (c *Client) trySend(data []byte) (sent bool) {
	defer func() {
		// A concurrent Close can race the channel send; a drop is fine.
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// Hub fans every published event out to all connected subscribers. A single
// run loop drains one FIFO broadcast queue, so events are delivered in the
// order they were published; the ingest pipeline publishes serially per
// device, which carries the per-device ordering guarantee end to end.
type Hub struct {
	logger   zerolog.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	broadcasts chan []byte

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(logger zerolog.Logger, snapshot SnapshotFunc) *Hub {
	return &Hub{
		logger:   logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcasts: make(chan []byte, broadcastQueueSize),
		clients:    make(map[*Client]bool),
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.handleRegister(ctx, client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case data := <-h.broadcasts:
			h.deliver(data)
		}
	}
}

// Publish queues a named event for delivery to every subscriber. It never
// blocks: when the broadcast queue is full the event is dropped and counted
// against the logger, not against ingestion.
func (h *Hub) Publish(event string, payload interface{}) {
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast")
		return
	}

	select {
	case h.broadcasts <- data:
	default:
		h.logger.Warn().Str("event", event).Msg("broadcast queue full, event dropped")
	}
}

// SubscriberCount reports how many dashboards are connected.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request into a live subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		hub:  h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) handleRegister(ctx context.Context, client *Client) {
	// The snapshot is queued before the client joins the live set, so it
	// always precedes the first live event on the wire.
	if h.snapshot != nil {
		if data, err := json.Marshal(Envelope{Event: "snapshot", Payload: h.snapshot(ctx)}); err == nil {
			client.trySend(data)
		} else {
			h.logger.Error().Err(err).Msg("failed to marshal snapshot")
		}
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Debug().Int("subscribers", h.SubscriberCount()).Msg("subscriber connected")
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

func (h *Hub) deliver(data []byte) {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	for _, client := range subscribers {
		client.trySend(data)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Subscribers are read-only; inbound frames only keep the connection
	// alive until close or error.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("subscriber read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
