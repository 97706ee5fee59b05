package notify_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/notify"
	"github.com/MrWong99/soundalert/internal/resilience"
)

// recordingHub implements notify.Broadcaster.
type recordingHub struct {
	msgType string
	data    any
	err     error
}

func (h *recordingHub) Broadcast(msgType string, data any) error {
	h.msgType, h.data = msgType, data
	return h.err
}

func TestNew_Notification(t *testing.T) {
	t.Parallel()

	n := notify.New(alert.DetectionEvent{Label: "Baby cry, infant cry", Confidence: 0.456, Priority: 7})
	if n.Title != "🔊 Baby cry, infant cry detected" {
		t.Errorf("Title = %q", n.Title)
	}
	if n.Body != "45.6% confidence - Check Sound Alert Pro" {
		t.Errorf("Body = %q", n.Body)
	}
	if n.Tier != "high" {
		t.Errorf("Tier = %q, want high", n.Tier)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	if err := (notify.Nop{}).Notify(context.Background(), notify.Notification{}); err != nil {
		t.Errorf("Nop.Notify: %v", err)
	}
}

func TestLive(t *testing.T) {
	t.Parallel()

	hub := &recordingHub{}
	n := notify.NewLive(hub)
	note := notify.New(alert.DetectionEvent{Label: "Siren", Priority: 9})
	if err := n.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if hub.msgType != "notification" {
		t.Errorf("msgType = %q, want notification", hub.msgType)
	}
	if got, ok := hub.data.(notify.Notification); !ok || got.Title != note.Title {
		t.Errorf("data = %#v", hub.data)
	}

	hub.err = errors.New("encode failed")
	if err := n.Notify(context.Background(), note); !errors.Is(err, notify.ErrDelivery) {
		t.Errorf("err = %v, want ErrDelivery", err)
	}
}

func TestWithBreaker_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	failing := notify.NotifierFunc(func(context.Context, notify.Notification) error {
		calls.Add(1)
		return notify.ErrDelivery
	})
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	n := notify.WithBreaker(failing, cb)

	for range 2 {
		if err := n.Notify(context.Background(), notify.Notification{}); !errors.Is(err, notify.ErrDelivery) {
			t.Fatalf("err = %v, want ErrDelivery", err)
		}
	}
	err := n.Notify(context.Background(), notify.Notification{})
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, notify.ErrDelivery) {
		t.Errorf("err = %v, want ErrCircuitOpen wrapped in ErrDelivery", err)
	}
	if calls.Load() != 2 {
		t.Errorf("inner notifier called %d times, want 2", calls.Load())
	}
}

func TestWithBreaker_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	n := notify.WithBreaker(notify.Nop{}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	if err := n.Notify(context.Background(), notify.Notification{}); err != nil {
		t.Errorf("Notify: %v", err)
	}
}
