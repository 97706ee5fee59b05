package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Samples returns the number of frames (samples per channel) covering d at
// this format's sample rate.
func (f Format) Samples(d time.Duration) int {
	if f.SampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

// Capturer records a fixed-duration window of audio from an input device.
//
// Capture blocks for roughly the requested duration and returns mono float32
// samples in the range [-1.0, 1.0] at sampleRate. Multi-channel devices are
// down-mixed by the implementation. The supplied ctx is only used to abort a
// capture during process shutdown; callers must not rely on it for
// responsiveness.
//
// Implementations must be safe for use from a single goroutine at a time.
type Capturer interface {
	Capture(ctx context.Context, duration time.Duration, sampleRate, channels int) ([]float32, error)
}

// CapturerFunc adapts an ordinary function to the [Capturer] interface.
type CapturerFunc func(ctx context.Context, duration time.Duration, sampleRate, channels int) ([]float32, error)

// Capture calls f.
func (f CapturerFunc) Capture(ctx context.Context, duration time.Duration, sampleRate, channels int) ([]float32, error) {
	return f(ctx, duration, sampleRate, channels)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
