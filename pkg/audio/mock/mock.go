// Package mock provides an in-memory mock implementation of the
// [audio.Capturer] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every call so that tests can
// assert on call counts and arguments, and it replays scripted results in
// order.
//
// Typical usage:
//
//	c := &mock.Capturer{
//	    Results: []mock.Result{{Samples: make([]float32, 96000)}},
//	}
//	samples, err := c.Capture(ctx, 2*time.Second, 48000, 1)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/soundalert/pkg/audio"
)

// Result is one scripted outcome of [Capturer.Capture].
type Result struct {
	Samples []float32
	Err     error
}

// CaptureCall records a single invocation of [Capturer.Capture].
type CaptureCall struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Capturer is a mock implementation of [audio.Capturer].
type Capturer struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted, the last
	// entry is repeated. When empty, a silent buffer of the requested size is
	// returned.
	Results []Result

	// OnCapture, if set, is invoked at the start of every call (outside the
	// mutex). Tests use it to block or synchronise with the caller.
	OnCapture func(ctx context.Context)

	// Calls records every invocation.
	Calls []CaptureCall

	next int
}

// Capture records the call and returns the next scripted [Result].
func (c *Capturer) Capture(ctx context.Context, duration time.Duration, sampleRate, channels int) ([]float32, error) {
	c.mu.Lock()
	hook := c.OnCapture
	c.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, CaptureCall{Duration: duration, SampleRate: sampleRate, Channels: channels})

	if len(c.Results) == 0 {
		f := audio.Format{SampleRate: sampleRate, Channels: channels}
		return make([]float32, f.Samples(duration)), nil
	}
	idx := c.next
	if idx >= len(c.Results) {
		idx = len(c.Results) - 1
	} else {
		c.next++
	}
	r := c.Results[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]float32, len(r.Samples))
	copy(out, r.Samples)
	return out, nil
}

// CallCount returns the number of Capture calls so far. Thread-safe.
func (c *Capturer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Ensure Capturer implements audio.Capturer at compile time.
var _ audio.Capturer = (*Capturer)(nil)
