package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/observability"
)

const (
	// writeWait is the time allowed to write a frame to the source.
	writeWait = 10 * time.Second

	// readTimeout drops a connection that has gone silent, keepalives
	// included.
	readTimeout = 5 * time.Minute
)

// Config holds connection settings shared by every topic.
type Config struct {
	URL              string
	APIKey           string
	ReconnectDelay   time.Duration
	GracePeriod      time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	return c
}

// Sink receives decoded messages. *relay.Relay satisfies it.
type Sink[M any] interface {
	Broadcast(topic string, msg M)
	BroadcastError(topic string, err error)
}

type topicConn struct {
	topic      string
	active     bool
	conn       *websocket.Conn
	subID      string
	connecting bool
	reconnect  *time.Timer
	grace      *time.Timer
	writeMu    sync.Mutex
}

// Manager keeps at most one live connection per topic. Start and Stop never
// block; all network work happens on background goroutines, and the sink is
// always called without the manager lock held.
type Manager[M any] struct {
	name    string
	cfg     Config
	sub     Subscription[M]
	sink    Sink[M]
	dialer  *websocket.Dialer
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	topics map[string]*topicConn
	closed bool
}

// NewManager creates a Manager. Call SetSink before the first Start.
func NewManager[M any](name string, cfg Config, sub Subscription[M], metrics *observability.Metrics, logger *slog.Logger) *Manager[M] {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Manager[M]{
		name:    name,
		cfg:     cfg,
		sub:     sub,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		metrics: metrics,
		logger:  logger.With(slog.String("component", "realtime"), slog.String("relay", name)),
		topics:  make(map[string]*topicConn),
	}
}

// SetSink sets where decoded messages go.
func (m *Manager[M]) SetSink(s Sink[M]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = s
}

// Start marks topic as wanted. It cancels a pending grace teardown or opens
// the connection if none is live or on its way.
func (m *Manager[M]) Start(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	tc, ok := m.topics[topic]
	if !ok {
		tc = &topicConn{topic: topic}
		m.topics[topic] = tc
	}
	tc.active = true
	if tc.grace != nil {
		tc.grace.Stop()
		tc.grace = nil
		m.logger.Debug("grace teardown cancelled", slog.String("topic", topic))
	}
	if tc.conn == nil && !tc.connecting && tc.reconnect == nil {
		tc.connecting = true
		go m.connect(tc, "initial")
	}
}

// Stop marks topic as unwanted. The connection stays open for the grace
// period and is closed afterwards unless Start is called again.
func (m *Manager[M]) Stop(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.topics[topic]
	if !ok || !tc.active {
		return
	}
	tc.active = false
	if tc.grace == nil {
		tc.grace = time.AfterFunc(m.cfg.GracePeriod, func() { m.expire(tc) })
	}
}

// Close tears down every topic immediately.
func (m *Manager[M]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var conns []*websocket.Conn
	for topic, tc := range m.topics {
		stopTimers(tc)
		if tc.conn != nil {
			conns = append(conns, tc.conn)
			tc.conn = nil
		}
		delete(m.topics, topic)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.Close()
	}
	return nil
}

// Topics returns the number of topics with live or lingering state.
func (m *Manager[M]) Topics() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

func (m *Manager[M]) expire(tc *topicConn) {
	m.mu.Lock()
	if m.topics[tc.topic] != tc || tc.active {
		m.mu.Unlock()
		return
	}
	delete(m.topics, tc.topic)
	stopTimers(tc)
	conn, subID := tc.conn, tc.subID
	tc.conn = nil
	m.mu.Unlock()

	m.logger.Info("grace period over, closing upstream", slog.String("topic", tc.topic))
	if conn == nil {
		return
	}
	if subID != "" {
		_ = m.write(tc, conn, envelope{Type: typeStop, ID: subID})
	}
	conn.Close()
}

func (m *Manager[M]) connect(tc *topicConn, kind string) {
	m.metrics.UpstreamConnect(m.name, kind)
	log := m.logger.With(slog.String("topic", tc.topic))

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if m.cfg.APIKey != "" {
		header.Set("x-api-key", m.cfg.APIKey)
	}
	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, header)

	m.mu.Lock()
	tc.connecting = false
	if err != nil {
		log.Warn("upstream dial failed", slog.String("error", err.Error()))
		if m.topics[tc.topic] == tc && tc.active {
			m.scheduleReconnectLocked(tc)
		}
		m.mu.Unlock()
		return
	}
	if m.closed || m.topics[tc.topic] != tc {
		m.mu.Unlock()
		conn.Close()
		return
	}
	tc.conn = conn
	tc.subID = uuid.NewString()
	m.mu.Unlock()

	log.Info("upstream connected", slog.String("kind", kind))
	if err := m.write(tc, conn, envelope{Type: typeInit}); err != nil {
		log.Warn("send init failed", slog.String("error", err.Error()))
	}
	m.readLoop(tc, conn)
}

func (m *Manager[M]) readLoop(tc *topicConn, conn *websocket.Conn) {
	log := m.logger.With(slog.String("topic", tc.topic))
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Info("upstream closed", slog.String("error", err.Error()))
			break
		}
		m.handle(tc, conn, raw)
	}
	conn.Close()

	m.mu.Lock()
	if tc.conn == conn {
		tc.conn = nil
	}
	dropped := !m.closed && m.topics[tc.topic] == tc && tc.active
	if dropped {
		m.scheduleReconnectLocked(tc)
	}
	m.mu.Unlock()

	if sink := m.currentSink(); dropped && sink != nil {
		sink.BroadcastError(tc.topic, fmt.Errorf("realtime: %s: %w", tc.topic, domain.ErrWSDisconnect))
	}
}

// scheduleReconnectLocked arms at most one reconnect per topic.
func (m *Manager[M]) scheduleReconnectLocked(tc *topicConn) {
	if tc.reconnect != nil || tc.connecting {
		return
	}
	tc.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		tc.reconnect = nil
		if m.closed || m.topics[tc.topic] != tc || !tc.active || tc.conn != nil || tc.connecting {
			m.mu.Unlock()
			return
		}
		tc.connecting = true
		m.mu.Unlock()
		m.connect(tc, "reconnect")
	})
}

func (m *Manager[M]) handle(tc *topicConn, conn *websocket.Conn, raw []byte) {
	log := m.logger.With(slog.String("topic", tc.topic))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.metrics.UpstreamDrop(m.name, string(dropMalformed))
		log.Warn("malformed frame ignored", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case typeAck:
		if env.ID == "" {
			m.subscribe(tc, conn)
			return
		}
		log.Info("subscription acknowledged", slog.String("id", env.ID))

	case typeData:
		msg, why := m.sub.decode(env.Payload)
		if why != dropNone {
			m.metrics.UpstreamDrop(m.name, string(why))
			log.Debug("data frame dropped", slog.String("why", string(why)))
			return
		}
		if sink := m.currentSink(); sink != nil {
			sink.Broadcast(tc.topic, msg)
		}

	case typeError:
		log.Warn("source reported error", slog.String("payload", string(env.Payload)))
		if sink := m.currentSink(); sink != nil {
			sink.BroadcastError(tc.topic, &ProtocolError{Topic: tc.topic, Payload: string(env.Payload)})
		}

	case typeKeepalive:
		log.Debug("keepalive")

	case typeComplete:
		log.Info("source completed subscription", slog.String("id", env.ID))

	default:
		m.metrics.UpstreamDrop(m.name, "unknown")
		log.Warn("unrecognised frame ignored", slog.String("type", env.Type))
	}
}

func (m *Manager[M]) subscribe(tc *topicConn, conn *websocket.Conn) {
	m.mu.Lock()
	subID := tc.subID
	m.mu.Unlock()

	query, vars := m.sub.Request(tc.topic)
	p := startPayload{Query: query, Variables: vars}
	if m.cfg.APIKey != "" {
		p.AuthContext = map[string]string{"x-api-key": m.cfg.APIKey}
	}
	payload, err := json.Marshal(p)
	if err != nil {
		m.logger.Error("marshal start payload", slog.String("error", err.Error()))
		return
	}
	if err := m.write(tc, conn, envelope{Type: typeStart, ID: subID, Payload: payload}); err != nil {
		m.logger.Warn("send start failed",
			slog.String("topic", tc.topic), slog.String("error", err.Error()))
	}
}

func (m *Manager[M]) write(tc *topicConn, conn *websocket.Conn, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", env.Type, err)
	}
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager[M]) currentSink() Sink[M] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink
}

func stopTimers(tc *topicConn) {
	if tc.grace != nil {
		tc.grace.Stop()
		tc.grace = nil
	}
	if tc.reconnect != nil {
		tc.reconnect.Stop()
		tc.reconnect = nil
	}
}
