package audio

import (
	"fmt"
	"math"
)

// sincZeroCrossings is the number of sinc zero crossings kept on each side of
// the interpolation point. 16 gives a transition band narrow enough for
// sound-event classification without making a 2s window expensive.
const sincZeroCrossings = 16

// Prepare converts a raw mono capture buffer at srcRate into the fixed-length
// waveform a classifier expects:
//
//  1. If srcRate differs from targetRate the buffer is resampled with a
//     band-limited windowed-sinc filter to floor(len(raw)*targetRate/srcRate)
//     samples.
//  2. A result longer than targetLen is truncated to its first targetLen
//     samples.
//  3. A shorter result is right-padded with zeros.
//
// The returned slice always has exactly targetLen samples and never aliases
// raw. Prepare is pure and deterministic.
func Prepare(raw []float32, srcRate, targetRate, targetLen int) ([]float32, error) {
	if srcRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("audio: prepare: invalid sample rates %d -> %d", srcRate, targetRate)
	}
	if targetLen <= 0 {
		return nil, fmt.Errorf("audio: prepare: invalid target length %d", targetLen)
	}

	samples := raw
	if srcRate != targetRate {
		samples = Resample(raw, srcRate, targetRate)
	}

	out := make([]float32, targetLen)
	copy(out, samples)
	return out, nil
}

// Resample converts mono float32 samples from srcRate to dstRate using a
// Blackman-windowed sinc interpolator. When downsampling, the filter cutoff is
// lowered to the destination Nyquist frequency so that content above it is
// removed instead of aliased. The output holds
// floor(len(in)*dstRate/srcRate) samples. If the rates are equal a copy of in
// is returned.
func Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return nil
	}
	if srcRate == dstRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	outLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		return []float32{}
	}

	// step is the distance between output samples measured in input samples.
	step := float64(srcRate) / float64(dstRate)
	cutoff := 1.0
	if dstRate < srcRate {
		cutoff = float64(dstRate) / float64(srcRate)
	}
	halfWidth := float64(sincZeroCrossings) / cutoff

	out := make([]float32, outLen)
	last := len(in) - 1
	for i := range outLen {
		center := float64(i) * step
		lo := max(int(math.Ceil(center-halfWidth)), 0)
		hi := min(int(math.Floor(center+halfWidth)), last)

		var acc float64
		for j := lo; j <= hi; j++ {
			x := float64(j) - center
			acc += float64(in[j]) * cutoff * sinc(cutoff*x) * blackman(x/halfWidth)
		}
		out[i] = float32(acc)
	}
	return out
}

// sinc is the normalised sinc function sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman evaluates a Blackman window centred on zero for u in [-1, 1].
// Values outside that range are zero.
func blackman(u float64) float64 {
	if u < -1 || u > 1 {
		return 0
	}
	return 0.42 + 0.5*math.Cos(math.Pi*u) + 0.08*math.Cos(2*math.Pi*u)
}
