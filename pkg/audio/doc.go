// Package audio defines the capture abstraction and the PCM helpers that turn
// raw microphone buffers into classifier-ready waveforms.
//
// The two primary pieces are:
//
//   - [Capturer]: a blocking "record N samples" primitive implemented by
//     device-specific adapter packages (audio/alsa, audio/pipe).
//   - [Prepare]: resamples, pads and trims a capture buffer into the fixed
//     input shape expected by the classifier.
//
// This package lives under pkg/ because external code (third-party capture
// adapters) is expected to implement [Capturer].
package audio
