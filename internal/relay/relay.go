// Package relay multiplexes many in-process listeners onto one upstream
// subscription per topic.
package relay

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/btcguess/internal/observability"
)

// Callbacks receive messages for one listener. OnData may fail or panic
// without affecting other listeners. OnError is optional.
type Callbacks[M any] struct {
	OnData  func(M) error
	OnError func(error)
}

// Upstream owns the shared source subscription for a topic. Both calls are
// made with the relay lock held and must not block or call back into the
// relay synchronously.
type Upstream interface {
	Start(topic string)
	Stop(topic string)
}

type listener[M any] struct {
	cb Callbacks[M]
}

// Relay fans messages for a topic out to every listener subscribed to it.
// The first listener on a topic starts the upstream and the last one to
// leave stops it.
type Relay[M any] struct {
	name     string
	upstream Upstream
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	topics map[string]map[*listener[M]]struct{}
}

// New creates a Relay. upstream may be nil when messages only arrive through
// Broadcast.
func New[M any](name string, upstream Upstream, metrics *observability.Metrics, logger *slog.Logger) *Relay[M] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay[M]{
		name:     name,
		upstream: upstream,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "relay"), slog.String("relay", name)),
		topics:   make(map[string]map[*listener[M]]struct{}),
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once sync.Once
	stop func()
}

// Stop removes the listener. Calling it more than once is a no-op.
func (s *Subscription) Stop() {
	s.once.Do(s.stop)
}

// Subscribe registers cb on topic.
func (r *Relay[M]) Subscribe(topic string, cb Callbacks[M]) *Subscription {
	l := &listener[M]{cb: cb}

	r.mu.Lock()
	set, ok := r.topics[topic]
	if !ok {
		set = make(map[*listener[M]]struct{})
		r.topics[topic] = set
	}
	set[l] = struct{}{}
	first := len(set) == 1
	if first && r.upstream != nil {
		r.upstream.Start(topic)
	}
	r.mu.Unlock()

	r.metrics.Listeners(r.name, 1)
	if first {
		r.logger.Info("first listener, upstream started", slog.String("topic", topic))
	}
	return &Subscription{stop: func() { r.remove(topic, l) }}
}

func (r *Relay[M]) remove(topic string, l *listener[M]) {
	r.mu.Lock()
	set, ok := r.topics[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := set[l]; !ok {
		r.mu.Unlock()
		return
	}
	delete(set, l)
	last := len(set) == 0
	if last {
		delete(r.topics, topic)
		if r.upstream != nil {
			r.upstream.Stop(topic)
		}
	}
	r.mu.Unlock()

	r.metrics.Listeners(r.name, -1)
	if last {
		r.logger.Info("last listener gone, upstream released", slog.String("topic", topic))
	}
}

// Broadcast delivers msg to every listener on topic.
func (r *Relay[M]) Broadcast(topic string, msg M) {
	for _, l := range r.snapshot(topic) {
		if err := r.deliver(l, msg); err != nil {
			r.metrics.ListenerFailure(r.name)
			r.logger.Warn("listener failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
	}
}

// BroadcastError forwards an upstream error to every listener on topic that
// registered an OnError callback.
func (r *Relay[M]) BroadcastError(topic string, err error) {
	for _, l := range r.snapshot(topic) {
		if l.cb.OnError == nil {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.metrics.ListenerFailure(r.name)
					r.logger.Warn("listener error callback panicked",
						slog.String("topic", topic), slog.Any("panic", p))
				}
			}()
			l.cb.OnError(err)
		}()
	}
}

// Listeners returns the number of listeners on topic.
func (r *Relay[M]) Listeners(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

// Close shuts the upstream down if it supports it.
func (r *Relay[M]) Close() error {
	if c, ok := r.upstream.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Relay[M]) snapshot(topic string) []*listener[M] {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.topics[topic]
	out := make([]*listener[M], 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}

func (r *Relay[M]) deliver(l *listener[M], msg M) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panic: %v", p)
		}
	}()
	if l.cb.OnData == nil {
		return nil
	}
	return l.cb.OnData(msg)
}
