package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/metrics"
)

const defaultSendTimeout = 5 * time.Second

// Subscriber is one live push consumer. Send must deliver messages in the
// order it is called; the hub never calls Send concurrently for the same
// subscriber within one broadcast.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
}

// Logger defines the logging behaviour required by the hub.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Option func(*Hub)

// WithSendTimeout bounds every single delivery.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithLogger attaches a logger for send failures and membership changes.
func WithLogger(l Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// OnRemove is called once for every subscriber that leaves the hub, either
// explicitly or after a failed send. Transports use it to close the connection.
func OnRemove(fn func(Subscriber)) Option {
	return func(h *Hub) { h.onRemove = fn }
}

// Hub fans messages out to the current set of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	// broadcasts are serialized to keep per-subscriber ordering
	sendMu      sync.Mutex
	sendTimeout time.Duration
	logger      Logger
	onRemove    func(Subscriber)
}

func New(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]Subscriber),
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds s after its transport handshake completed. A subscriber with
// the same ID replaces the previous one.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subscribers[s.ID()] = s
	n := len(h.subscribers)
	h.mu.Unlock()

	metrics.SetSubscribers(n)
	h.info("hub: subscriber registered", "subscriber", s.ID(), "subscribers", n)
}

// Remove drops s. Removing an unknown subscriber is a no-op.
func (h *Hub) Remove(s Subscriber) {
	if h.remove(s.ID()) {
		h.info("hub: subscriber removed", "subscriber", s.ID())
	}
}

func (h *Hub) remove(id string) bool {
	h.mu.Lock()
	s, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return false
	}
	metrics.SetSubscribers(n)
	if h.onRemove != nil {
		h.onRemove(s)
	}
	return true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast delivers msg to every subscriber present when it was called.
// Failed subscribers are removed after the whole pass; Broadcast itself
// never fails.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.RLock()
	snapshot := make([]Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []string
	)
	for _, s := range snapshot {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()

			if err := s.Send(sendCtx, msg); err != nil {
				h.warn("hub: send failed, dropping subscriber", "subscriber", s.ID(), "error", err)
				failedMu.Lock()
				failed = append(failed, s.ID())
				failedMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	removed := 0
	for _, id := range failed {
		if h.remove(id) {
			removed++
		}
	}
	if removed > 0 {
		metrics.IncSubscriberRemovals(removed)
	}
}

func (h *Hub) info(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Info(msg, args...)
	}
}

func (h *Hub) warn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}

type dataMessage struct {
	Type string        `json:"type"`
	Data domain.Sample `json:"data"`
}

type statusMessage struct {
	Type      string `json:"type"`
	Measuring bool   `json:"measuring"`
	Recording bool   `json:"recording"`
}

// DataMessage encodes {"type":"data","data":{...}}.
func DataMessage(sample domain.Sample) ([]byte, error) {
	if sample == nil {
		sample = domain.Sample{}
	}
	return json.Marshal(dataMessage{Type: "data", Data: sample})
}

// StatusMessage encodes {"type":"status","measuring":..,"recording":..}.
func StatusMessage(measuring, recording bool) ([]byte, error) {
	return json.Marshal(statusMessage{Type: "status", Measuring: measuring, Recording: recording})
}

var _ domain.Broadcaster = (*Hub)(nil)
