// Package alert holds the decision logic that turns a classifier verdict into
// an alert: the detection event record, label priorities, the per-label
// notification cooldown, the time-of-day schedule gate and the set of labels
// the user has enabled.
//
// Everything in this package is deterministic given its inputs; the current
// time is always passed in by the caller.
package alert

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// ClockLayout is the wall-clock format used for the "timestamp" field of
// alert payloads and log rows.
const ClockLayout = "15:04:05"

// DetectionEvent is one accepted detection. Events are created once and never
// mutated; copies may be shared freely between goroutines.
type DetectionEvent struct {
	ID         uint64
	Label      string
	Confidence float32
	Priority   int
	Timestamp  time.Time
}

// eventJSON is the wire form shared by the live feed and the HTTP API.
type eventJSON struct {
	ID         uint64    `json:"id"`
	Sound      string    `json:"sound"`
	Confidence float32   `json:"confidence"`
	Priority   int       `json:"priority"`
	Timestamp  string    `json:"timestamp"`
	DetectedAt time.Time `json:"detected_at"`
}

// MarshalJSON renders the event with the wall-clock "timestamp" that
// dashboards display and a full RFC 3339 "detected_at".
func (e DetectionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:         e.ID,
		Sound:      e.Label,
		Confidence: e.Confidence,
		Priority:   e.Priority,
		Timestamp:  e.Timestamp.Format(ClockLayout),
		DetectedAt: e.Timestamp,
	})
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (e *DetectionEvent) UnmarshalJSON(data []byte) error {
	var v eventJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*e = DetectionEvent{
		ID:         v.ID,
		Label:      v.Sound,
		Confidence: v.Confidence,
		Priority:   v.Priority,
		Timestamp:  v.DetectedAt,
	}
	return nil
}

// IDSource hands out strictly increasing event IDs. IDs are seeded from the
// Unix millisecond clock so they stay roughly sortable across restarts, but
// two events in the same millisecond still get distinct IDs.
type IDSource struct {
	last atomic.Uint64
}

// Next returns an ID greater than every ID previously returned.
func (s *IDSource) Next(now time.Time) uint64 {
	ms := uint64(max(now.UnixMilli(), 0))
	for {
		prev := s.last.Load()
		id := max(prev+1, ms)
		if s.last.CompareAndSwap(prev, id) {
			return id
		}
	}
}
