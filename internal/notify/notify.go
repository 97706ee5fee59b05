// Package notify delivers side notifications (push messages, chat posts) for
// detections that pass the cooldown throttle.
//
// Every delivery channel implements [Notifier]. The monitoring loop calls
// Notify from a background goroutine and only logs failures, so a broken
// push service never stalls detection. Concrete channels live in
// sub-packages (notify/discord, notify/webhook); this package provides the
// no-op and live-feed channels and the circuit-breaker wrapper.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/live"
	"github.com/MrWong99/soundalert/internal/resilience"
)

// ErrDelivery is wrapped by every error a Notifier returns.
var ErrDelivery = errors.New("notify: delivery failed")

// Notification is the message delivered for one detection.
type Notification struct {
	Event alert.DetectionEvent `json:"event"`
	Tier  string               `json:"tier"`
	Title string               `json:"title"`
	Body  string               `json:"body"`
}

// New builds the notification for ev.
func New(ev alert.DetectionEvent) Notification {
	return Notification{
		Event: ev,
		Tier:  alert.TierOf(ev.Priority).String(),
		Title: "🔊 " + ev.Label + " detected",
		Body:  fmt.Sprintf("%.1f%% confidence - Check Sound Alert Pro", float64(ev.Confidence)*100),
	}
}

// Notifier delivers a notification to one channel. Implementations must be
// safe for concurrent use and should honour ctx for cancellation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts an ordinary function to the [Notifier] interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Notification) error { return nil }

// Broadcaster is the subset of [live.Hub] used by the live notifier.
type Broadcaster interface {
	Broadcast(msgType string, data any) error
}

var _ Broadcaster = (*live.Hub)(nil)

// Live delivers notifications as "notification" frames on the live feed, for
// dashboards that raise their own browser or OS notifications.
type Live struct {
	hub Broadcaster
}

// NewLive returns a Live notifier broadcasting through hub.
func NewLive(hub Broadcaster) *Live {
	return &Live{hub: hub}
}

// Notify implements Notifier.
func (l *Live) Notify(_ context.Context, n Notification) error {
	if err := l.hub.Broadcast(live.TypeNotification, n); err != nil {
		return fmt.Errorf("%w: live: %w", ErrDelivery, err)
	}
	return nil
}

// breakerNotifier guards a Notifier with a circuit breaker.
type breakerNotifier struct {
	next Notifier
	cb   *resilience.CircuitBreaker
}

// WithBreaker wraps n so that after repeated failures deliveries are rejected
// immediately until the breaker's reset timeout elapses. A rejected delivery
// returns an error wrapping both ErrDelivery and resilience.ErrCircuitOpen.
func WithBreaker(n Notifier, cb *resilience.CircuitBreaker) Notifier {
	return &breakerNotifier{next: n, cb: cb}
}

func (b *breakerNotifier) Notify(ctx context.Context, n Notification) error {
	err := b.cb.Execute(func() error { return b.next.Notify(ctx, n) })
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return err
}
