// Package ws serves the downstream websocket endpoints. Every connection is
// one relay listener; the relay shares a single upstream subscription per
// topic across all of them.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/platform/realtime"
	"github.com/alanyoungcy/btcguess/internal/relay"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

var (
	errSlowClient   = errors.New("ws: client send buffer full")
	errClientClosed = errors.New("ws: client closed")
)

// Frame kinds sent to clients.
const (
	FramePrice = "price"
	FrameGuess = "guess"
	FrameError = "error"
)

// Frame is the JSON envelope written to clients.
type Frame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Hub upgrades websocket requests and attaches each connection to a relay.
type Hub struct {
	prices   *relay.PriceRelay
	guesses  *relay.GuessRelay
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. Origins follow the server CORS list; an empty list
// or "*" accepts every origin.
func NewHub(prices *relay.PriceRelay, guesses *relay.GuessRelay, origins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		prices:  prices,
		guesses: guesses,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origins),
		},
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
}

func checkOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.ToLower(origin)]
	}
}

// HandlePrices streams every price tick.
// GET /ws/prices
func (h *Hub) HandlePrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		http.Error(w, "price stream disabled", http.StatusServiceUnavailable)
		return
	}
	serve(h, w, r, h.prices, relay.PriceTopic, FramePrice)
}

// HandleGuesses streams settled and failed guesses for one owner.
// GET /ws/guesses/{owner}
func (h *Hub) HandleGuesses(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.PathValue("owner"))
	if owner == "" {
		http.Error(w, "owner required", http.StatusBadRequest)
		return
	}
	if h.guesses == nil {
		http.Error(w, "guess stream disabled", http.StatusServiceUnavailable)
		return
	}
	serve(h, w, r, h.guesses, owner, FrameGuess)
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
}

func serve[M any](h *Hub, w http.ResponseWriter, r *http.Request, rl *relay.Relay[M], topic, kind string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	sub := rl.Subscribe(topic, relay.Callbacks[M]{
		OnData: func(msg M) error {
			return c.enqueue(Frame{Type: kind, Topic: topic, Data: msg})
		},
		OnError: func(err error) {
			_ = c.enqueue(Frame{Type: FrameError, Topic: topic, Error: describe(err)})
		},
	})

	h.logger.Info("ws: client connected",
		slog.String("kind", kind),
		slog.String("topic", topic),
		slog.Int("total_clients", h.Clients()),
	)

	go c.writePump()
	go func() {
		c.readPump()
		sub.Stop()
		c.close()
		h.remove(c)
	}()
}

// describe keeps upstream payloads out of client frames.
func describe(err error) string {
	var pe *realtime.ProtocolError
	switch {
	case errors.As(err, &pe):
		return "upstream rejected the subscription"
	case errors.Is(err, domain.ErrWSDisconnect):
		return "upstream disconnected, reconnecting"
	default:
		return "upstream error"
	}
}

// client represents a single WebSocket connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// enqueue never blocks the relay: a full buffer drops the message and counts
// as a listener failure.
func (c *client) enqueue(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errSlowClient
	}
}

// close asks writePump to send a close frame and drop the connection.
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump discards client frames; it exists to process control frames and
// notice the peer going away.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
