// Package ws streams arbitrage observations to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
	"github.com/alanyoungcy/arbmonitor/internal/server/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

// Message types sent to clients.
const (
	TypeHello       = "hello"
	TypeObservation = "observation"
)

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Config controls the hub.
type Config struct {
	// AllowedOrigins restricts the upgrade; empty allows all.
	AllowedOrigins []string
	// Mode is reported in the hello frame.
	Mode      string
	StartedAt time.Time
	// BacklogSize is how many recent observations a new client receives
	// after the hello frame from Backlog. Zero disables the backlog.
	BacklogSize int
	Backlog     BacklogFunc
}

// BacklogFunc returns up to n recent observations, oldest first.
type BacklogFunc func(ctx context.Context, n int) ([]domain.Observation, error)

// Hub fans observations out to connected clients. It is a monitor sink and
// can also relay observations published on the Redis channel by another
// process.
type Hub struct {
	cfg        Config
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. Call Run before serving connections.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BacklogSize > sendBufferSize-1 {
		cfg.BacklogSize = sendBufferSize - 1
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin lets non-browser clients without an Origin header through.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || middleware.OriginAllowed(h.cfg.AllowedOrigins, origin)
}

// Name identifies the hub in sink logs.
func (h *Hub) Name() string { return "ws" }

// Publish queues obs for every connected client. It never blocks past ctx.
func (h *Hub) Publish(ctx context.Context, obs domain.Observation) error {
	frame, err := encode(TypeObservation, obs)
	if err != nil {
		return err
	}
	return h.enqueue(ctx, frame)
}

func (h *Hub) enqueue(ctx context.Context, frame []byte) error {
	select {
	case h.broadcast <- frame:
		return nil
	case <-h.done:
		return fmt.Errorf("ws: hub stopped")
	case <-ctx.Done():
		return fmt.Errorf("ws: broadcast: %w", ctx.Err())
	}
}

func encode(typ string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// Relay forwards raw observation payloads from a pub/sub channel until ctx
// is cancelled.
func (h *Hub) Relay(ctx context.Context, bus domain.SignalBus, channel string) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("ws: relay %s: %w", channel, err)
	}
	h.logger.Info("relaying channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			frame, err := json.Marshal(Envelope{Type: TypeObservation, Payload: data})
			if err != nil {
				h.logger.Warn("dropping malformed relay payload", slog.String("error", err.Error()))
				continue
			}
			if err := h.enqueue(ctx, frame); err != nil {
				return nil
			}
		}
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case frame := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	if hello, err := encode(TypeHello, map[string]any{
		"mode":           h.cfg.Mode,
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
	}); err == nil {
		c.send <- hello
	}
	h.sendBacklog(r.Context(), c)

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) sendBacklog(ctx context.Context, c *client) {
	if h.cfg.Backlog == nil || h.cfg.BacklogSize <= 0 {
		return
	}
	rows, err := h.cfg.Backlog(ctx, h.cfg.BacklogSize)
	if err != nil {
		h.logger.Warn("backlog read failed", slog.String("error", err.Error()))
		return
	}
	if len(rows) > h.cfg.BacklogSize {
		rows = rows[len(rows)-h.cfg.BacklogSize:]
	}
	for _, obs := range rows {
		frame, err := encode(TypeObservation, obs)
		if err != nil {
			continue
		}
		c.send <- frame
	}
}

// readPump only services control frames; clients do not send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ domain.ObservationSink = (*Hub)(nil)
