// Package alsa provides an [audio.Capturer] that records from an ALSA device by
// running the arecord utility from alsa-utils.
//
// Each Capture call spawns one arecord process that records exactly the
// requested number of frames as raw 16-bit little-endian PCM on stdout, which
// is then converted to mono float32. Spawning per window keeps the device free
// between captures (the monitor may sit idle outside its schedule for hours)
// and means a device that disappears and comes back is picked up on the next
// capture without any reconnect logic.
//
// Usage:
//
//	c := alsa.New(alsa.WithDevice("hw:1,0"))
//	samples, err := c.Capture(ctx, 2*time.Second, 48000, 1)
package alsa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/soundalert/pkg/audio"
)

const (
	defaultCommand = "arecord"

	// defaultDevice is the USB microphone slot on a typical Raspberry Pi setup.
	defaultDevice = "hw:1,0"
)

// ErrNoAudio is returned when the recorder exits cleanly without producing a
// single complete frame.
var ErrNoAudio = errors.New("alsa: no audio captured")

// Compile-time assertion that Capturer implements audio.Capturer.
var _ audio.Capturer = (*Capturer)(nil)

// Option is a functional option for configuring a Capturer.
type Option func(*Capturer)

// WithDevice sets the ALSA PCM device name passed to arecord -D
// (e.g., "hw:1,0", "plughw:CARD=Mic", "default"). Defaults to "hw:1,0".
func WithDevice(device string) Option {
	return func(c *Capturer) {
		if device != "" {
			c.device = device
		}
	}
}

// WithCommand overrides the recorder executable. Defaults to "arecord" looked
// up on PATH.
func WithCommand(command string) Option {
	return func(c *Capturer) {
		if command != "" {
			c.command = command
		}
	}
}

// Capturer records audio windows with arecord.
type Capturer struct {
	command string
	device  string
}

// New creates a Capturer with the supplied options.
func New(opts ...Option) *Capturer {
	c := &Capturer{
		command: defaultCommand,
		device:  defaultDevice,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Device returns the configured ALSA device name.
func (c *Capturer) Device() string { return c.device }

// Capture records duration worth of audio at sampleRate with the given number
// of channels and returns mono float32 samples. It blocks until arecord exits.
func (c *Capturer) Capture(ctx context.Context, duration time.Duration, sampleRate, channels int) ([]float32, error) {
	if channels <= 0 {
		channels = 1
	}
	frames := audio.Format{SampleRate: sampleRate, Channels: channels}.Samples(duration)
	if frames <= 0 {
		return nil, fmt.Errorf("alsa: invalid capture window %s at %d Hz", duration, sampleRate)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command, c.args(frames, sampleRate, channels)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("alsa: %s on %s: %w", c.command, c.device, err)
		}
		return nil, fmt.Errorf("alsa: %s on %s: %w: %s", c.command, c.device, err, msg)
	}

	samples := audio.PCM16ToFloat32(stdout.Bytes(), channels)
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	return samples, nil
}

// args builds the arecord command line for a single capture window.
func (c *Capturer) args(frames, sampleRate, channels int) []string {
	return []string{
		"-q",
		"-D", c.device,
		"-f", "S16_LE",
		"-t", "raw",
		"-r", strconv.Itoa(sampleRate),
		"-c", strconv.Itoa(channels),
		"-s", strconv.Itoa(frames),
	}
}
