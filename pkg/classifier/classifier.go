// Package classifier defines the audio-event classifier abstraction used by
// the monitoring loop, together with the label vocabulary and the reduction of
// per-frame scores into a single detection.
//
// Implementations live in sub-packages (classifier/tfserving, classifier/mock)
// so that the monitor depends only on the [Classifier] interface.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Scores is the raw classifier output: one row per analysis frame, each row
// holding one confidence per vocabulary label.
type Scores [][]float32

// Classifier scores a prepared waveform against a fixed label vocabulary.
//
// waveform is mono float32 audio at the rate and length the model expects
// (16 kHz, 15600 samples for YAMNet). Infer must not retain waveform after it
// returns. Implementations must be safe for concurrent use.
type Classifier interface {
	Infer(ctx context.Context, waveform []float32) (Scores, error)
}

// ClassifierFunc adapts an ordinary function to the [Classifier] interface.
type ClassifierFunc func(ctx context.Context, waveform []float32) (Scores, error)

// Infer calls f.
func (f ClassifierFunc) Infer(ctx context.Context, waveform []float32) (Scores, error) {
	return f(ctx, waveform)
}

// ErrEmptyScores is returned by [Reduce] when the classifier produced no
// frames or zero-width rows.
var ErrEmptyScores = errors.New("classifier: empty score matrix")

// ErrNonFiniteScores is returned by [Reduce] when a label's mean score is NaN
// or infinite.
var ErrNonFiniteScores = errors.New("classifier: non-finite score")

// Reduce averages scores across frames and returns the index and mean
// confidence of the highest-scoring label. Ties resolve to the lowest index.
//
// All rows must have the same width; a ragged matrix is an error, and so is a
// NaN or infinite mean for any label.
func Reduce(scores Scores) (int, float32, error) {
	if len(scores) == 0 || len(scores[0]) == 0 {
		return 0, 0, ErrEmptyScores
	}
	width := len(scores[0])
	mean := make([]float64, width)
	for i, row := range scores {
		if len(row) != width {
			return 0, 0, fmt.Errorf("classifier: ragged score matrix: row %d has %d labels, want %d", i, len(row), width)
		}
		for j, v := range row {
			mean[j] += float64(v)
		}
	}

	for j, sum := range mean {
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return 0, 0, fmt.Errorf("%w: label %d", ErrNonFiniteScores, j)
		}
	}

	best := 0
	for j := 1; j < width; j++ {
		if mean[j] > mean[best] {
			best = j
		}
	}
	return best, float32(mean[best] / float64(len(scores))), nil
}
