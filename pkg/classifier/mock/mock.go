// Package mock provides an in-memory mock implementation of the
// [classifier.Classifier] interface for use in unit tests.
//
// Typical usage:
//
//	c := &mock.Classifier{
//	    Results: []mock.Result{{Scores: mock.OneHot(4, 2, 0.82)}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/soundalert/pkg/classifier"
)

// Result is one scripted outcome of [Classifier.Infer].
type Result struct {
	Scores classifier.Scores
	Err    error
}

// Classifier is a mock implementation of [classifier.Classifier]. It is safe
// for concurrent use.
type Classifier struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted, the last
	// entry is repeated. When empty, Infer returns a single all-zero frame of
	// width 1.
	Results []Result

	// Waveforms records the length of every waveform passed to Infer.
	Waveforms []int

	next int
}

// Infer records the call and returns the next scripted [Result].
func (c *Classifier) Infer(_ context.Context, waveform []float32) (classifier.Scores, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Waveforms = append(c.Waveforms, len(waveform))

	if len(c.Results) == 0 {
		return classifier.Scores{{0}}, nil
	}
	idx := c.next
	if idx >= len(c.Results) {
		idx = len(c.Results) - 1
	} else {
		c.next++
	}
	r := c.Results[idx]
	return r.Scores, r.Err
}

// CallCount returns the number of Infer calls so far.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Waveforms)
}

// OneHot returns a single-frame score matrix of width k where index carries
// confidence and every other label scores zero.
func OneHot(k, index int, confidence float32) classifier.Scores {
	row := make([]float32, k)
	row[index] = confidence
	return classifier.Scores{row}
}

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)
