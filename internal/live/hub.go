// Package live fans detection events out to connected dashboard clients over
// WebSocket.
//
// Publishing never blocks the caller: each subscriber has a small outbound
// buffer and frames for a subscriber whose buffer is full are dropped. A
// dashboard that falls behind misses alerts on its live view but can always
// resync from the HTTP API.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/soundalert/internal/alert"
)

// Message types sent to subscribers.
const (
	TypeStatus       = "status"
	TypeSoundAlert   = "sound_alert"
	TypeNotification = "notification"
)

// WelcomeMessage is the text of the status frame sent on connect.
const WelcomeMessage = "Connected to Sound Alert Pro"

const (
	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// Envelope is the JSON frame written to subscribers.
type Envelope struct {
	Type       string `json:"type"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	Monitoring *bool  `json:"monitoring,omitempty"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithStatus sets the function reporting whether monitoring is running; its
// value is included in the status frame sent to each new subscriber.
func WithStatus(fn func() bool) Option {
	return func(h *Hub) { h.status = fn }
}

// WithBuffer sets the per-subscriber outbound buffer size (default 16).
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from hosts
// matching the given patterns (see websocket.AcceptOptions.OriginPatterns).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub is the live broadcast sink. It implements http.Handler for the
// WebSocket endpoint.
//
// Thread-safe for concurrent use.
type Hub struct {
	status  func() bool
	buffer  int
	origins []string

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Uint64
}

type subscriber struct {
	msgs chan []byte
}

// NewHub creates a Hub with the supplied options.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		status: func() bool { return false },
		buffer: defaultBuffer,
		subs:   make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetStatus replaces the monitoring-status function. It must be called
// before the hub starts serving.
func (h *Hub) SetStatus(fn func() bool) {
	h.status = fn
}

// Publish sends a sound_alert frame for ev to every subscriber.
func (h *Hub) Publish(ev alert.DetectionEvent) {
	if err := h.Broadcast(TypeSoundAlert, ev); err != nil {
		slog.Warn("live: failed to encode event", "label", ev.Label, "err", err)
	}
}

// Broadcast encodes data under the given message type and enqueues it for
// every subscriber without blocking.
func (h *Hub) Broadcast(msgType string, data any) error {
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("live: encode %s: %w", msgType, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.msgs <- frame:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the number of frames dropped for slow subscribers since
// the hub was created.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		close(s.msgs)
		delete(h.subs, s)
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams frames until the
// client disconnects or the hub is closed. Incoming client messages are
// discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("live: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	monitoring := h.status()
	welcome, err := json.Marshal(Envelope{Type: TypeStatus, Message: WelcomeMessage, Monitoring: &monitoring})
	if err != nil {
		return
	}

	sub := &subscriber{msgs: make(chan []byte, h.buffer)}
	sub.msgs <- welcome
	if !h.add(sub) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(sub)

	slog.Debug("live: subscriber connected", "remote", r.RemoteAddr)
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case frame, ok := <-sub.msgs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeTimeout(ctx, conn, frame); err != nil {
				slog.Debug("live: subscriber write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

func writeTimeout(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}
