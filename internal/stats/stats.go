// Package stats aggregates accepted detections into the counters and the
// bounded timeline shown on dashboards, and keeps pipeline latency samples
// for percentile reporting.
package stats

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/soundalert/internal/alert"
)

// DefaultTimelineSize is the number of timeline entries retained.
const DefaultTimelineSize = 200

// HourLayout formats hourly bucket keys ("2026-03-02 23:00").
const HourLayout = "2006-01-02 15:00"

// SessionLayout formats the session start time.
const SessionLayout = "2006-01-02 15:04:05"

// TimelineEntry is one detection in the rolling timeline.
type TimelineEntry struct {
	Timestamp  string  `json:"timestamp"`
	Sound      string  `json:"sound"`
	Confidence float32 `json:"confidence"`
	Epoch      float64 `json:"epoch"`
}

// Aggregator keeps running detection statistics. Counters are unbounded; the
// timeline keeps the most recent entries up to its capacity.
//
// Thread-safe for concurrent use. The lock is held only while updating or
// copying state.
type Aggregator struct {
	mu sync.Mutex

	hourly       map[string]int
	frequency    map[string]int
	timeline     *Ring[TimelineEntry]
	total        int64
	sessionStart time.Time

	capture  latencyBuffer
	classify latencyBuffer
}

// New returns an Aggregator whose timeline holds capacity entries. A
// non-positive capacity selects DefaultTimelineSize.
func New(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultTimelineSize
	}
	return &Aggregator{
		hourly:    make(map[string]int),
		frequency: make(map[string]int),
		timeline:  NewRing[TimelineEntry](capacity),
		capture:   newLatencyBuffer(100),
		classify:  newLatencyBuffer(100),
	}
}

// Record folds an accepted detection into the statistics. The hourly bucket
// is derived from the event's own timestamp in its location.
func (a *Aggregator) Record(ev alert.DetectionEvent) {
	entry := TimelineEntry{
		Timestamp:  ev.Timestamp.Format(alert.ClockLayout),
		Sound:      ev.Label,
		Confidence: ev.Confidence,
		Epoch:      float64(ev.Timestamp.UnixNano()) / 1e9,
	}
	hour := ev.Timestamp.Format(HourLayout)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hourly[hour]++
	a.frequency[ev.Label]++
	a.timeline.Push(entry)
	a.total++
}

// MarkSessionStart records when the current monitoring session began.
func (a *Aggregator) MarkSessionStart(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionStart = t
}

// RecordCapture records the latency of one audio capture.
func (a *Aggregator) RecordCapture(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capture.add(d)
}

// RecordClassify records the latency of one classifier call.
func (a *Aggregator) RecordClassify(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.classify.add(d)
}

// LatencyPercentiles holds p50 and p95 values for a pipeline stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time copy of the statistics. It shares no memory
// with the Aggregator.
type Snapshot struct {
	HourlyCounts   map[string]int
	SoundFrequency map[string]int
	Timeline       []TimelineEntry
	Total          int64
	SessionStart   time.Time
	Capture        LatencyPercentiles
	Classify       LatencyPercentiles
}

// Snapshot returns a deep copy of the current statistics.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		HourlyCounts:   maps.Clone(a.hourly),
		SoundFrequency: maps.Clone(a.frequency),
		Timeline:       a.timeline.Items(),
		Total:          a.total,
		SessionStart:   a.sessionStart,
		Capture:        a.capture.percentiles(),
		Classify:       a.classify.percentiles(),
	}
}

// RecentTimeline returns the last n timeline entries of the snapshot, oldest
// first.
func (s Snapshot) RecentTimeline(n int) []TimelineEntry {
	if n >= len(s.Timeline) {
		return s.Timeline
	}
	return s.Timeline[len(s.Timeline)-n:]
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	ring *Ring[time.Duration]
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{ring: NewRing[time.Duration](size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.ring.Push(d)
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	sorted := lb.ring.Items()
	if len(sorted) == 0 {
		return LatencyPercentiles{}
	}
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
