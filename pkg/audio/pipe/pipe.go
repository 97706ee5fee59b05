// Package pipe provides an [audio.Capturer] that reads raw 16-bit
// little-endian PCM from a named pipe or file, for setups where another
// process owns the sound device (e.g. `parec --raw > /run/soundalert.pcm`).
//
// The path is opened lazily on the first Capture and kept open across
// captures so the stream is consumed continuously. Any read error (including
// the writer going away) closes the handle; the next Capture reopens the path.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/soundalert/pkg/audio"
)

// Compile-time assertion that Capturer implements audio.Capturer.
var _ audio.Capturer = (*Capturer)(nil)

// Capturer reads capture windows from a PCM stream at a fixed path.
type Capturer struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns a Capturer reading from path. The path is not opened until the
// first Capture.
func New(path string) (*Capturer, error) {
	if path == "" {
		return nil, errors.New("pipe: path must not be empty")
	}
	return &Capturer{path: path}, nil
}

// Path returns the configured stream path.
func (c *Capturer) Path() string { return c.path }

// Capture reads exactly duration*sampleRate frames from the stream. Opening a
// FIFO blocks until a writer appears; cancelling ctx unblocks both the open
// and a pending read.
func (c *Capturer) Capture(ctx context.Context, duration time.Duration, sampleRate, channels int) ([]float32, error) {
	if channels <= 0 {
		channels = 1
	}
	frames := audio.Format{SampleRate: sampleRate, Channels: channels}.Samples(duration)
	if frames <= 0 {
		return nil, fmt.Errorf("pipe: invalid capture window %s at %d Hz", duration, sampleRate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.open(ctx)
	if err != nil {
		return nil, err
	}

	// Closing the file is the only way to interrupt a blocked read on a pipe.
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	buf := make([]byte, frames*channels*2)
	_, err = io.ReadFull(f, buf)
	interrupted := !stop()

	if err != nil || interrupted {
		_ = f.Close()
		c.f = nil
		if interrupted {
			return nil, fmt.Errorf("pipe: read %s: %w", c.path, context.Cause(ctx))
		}
		return nil, fmt.Errorf("pipe: read %s: %w", c.path, err)
	}
	return audio.PCM16ToFloat32(buf, channels), nil
}

// Close releases the underlying file handle if one is open.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

// open returns the current handle, opening the path if necessary. The caller
// must hold c.mu.
func (c *Capturer) open(ctx context.Context) (*os.File, error) {
	if c.f != nil {
		return c.f, nil
	}

	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.Open(c.path)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("pipe: open %s: %w", c.path, r.err)
		}
		c.f = r.f
		return r.f, nil
	case <-ctx.Done():
		// Reap the handle once the pending open completes.
		go func() {
			if r := <-ch; r.f != nil {
				_ = r.f.Close()
			}
		}()
		return nil, fmt.Errorf("pipe: open %s: %w", c.path, context.Cause(ctx))
	}
}
