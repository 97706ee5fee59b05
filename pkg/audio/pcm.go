package audio

import "encoding/binary"

// PCM16ToFloat32 converts interleaved 16-bit signed little-endian PCM to mono
// float32 samples normalised to [-1.0, 1.0]. Multi-channel input is down-mixed
// by averaging all channels per frame. Trailing bytes that do not form a
// complete frame are ignored.
func PCM16ToFloat32(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Float32ToPCM16 encodes mono float32 samples as 16-bit signed little-endian
// PCM. Samples outside [-1.0, 1.0] are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
