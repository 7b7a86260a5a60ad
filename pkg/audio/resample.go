package audio

import (
	"math"
	"math/rand/v2"
	"sync"
)

// FIR low-pass parameters for the 24 kHz → 16 kHz path. The cutoff sits at
// 0.6 × the target Nyquist (8 kHz) so aliasing products are attenuated before
// decimation.
const (
	firTaps     = 64
	firCutoffHz = 7200.0
)

var (
	firOnce sync.Once
	firCoef []float64
)

// firCoefficients returns the 64-tap Blackman-windowed sinc kernel, normalised
// to unit DC gain. Computed once on first use.
func firCoefficients() []float64 {
	firOnce.Do(func() {
		coef := make([]float64, firTaps)
		center := float64(firTaps-1) / 2
		fc := firCutoffHz / CloudRate // normalised cutoff (cycles per sample)
		var sum float64
		for k := range coef {
			x := float64(k) - center
			var s float64
			if x == 0 {
				s = 2 * fc
			} else {
				s = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
			}
			// Blackman window.
			w := 0.42 -
				0.5*math.Cos(2*math.Pi*float64(k)/float64(firTaps-1)) +
				0.08*math.Cos(4*math.Pi*float64(k)/float64(firTaps-1))
			coef[k] = s * w
			sum += coef[k]
		}
		for k := range coef {
			coef[k] /= sum
		}
		firCoef = coef
	})
	return firCoef
}

// Upsample16To24 converts 16 kHz mono PCM to 24 kHz using linear interpolation
// at the 3:2 ratio with TPDF dither (±0.5 LSB) applied before the int16
// re-quantisation. An odd trailing byte is discarded; empty input yields nil.
//
// A full 640-byte gateway frame always produces exactly one 960-byte frame.
func Upsample16To24(pcm []byte) []byte {
	src := decodeSamples(pcm)
	n := len(src)
	if n == 0 {
		return nil
	}
	dstSamples := n * 3 / 2
	out := make([]byte, dstSamples*2)
	ratio := 2.0 / 3.0
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := float64(src[idx])
		s1 := s0
		if idx+1 < n {
			s1 = float64(src[idx+1])
		}
		v := s0*(1-frac) + s1*frac + tpdfDither()
		putSample(out, i, clampInt16(v))
	}
	return out
}

// Downsample24To16 converts 24 kHz mono PCM to 16 kHz. The input is first
// convolved with the anti-alias FIR (centered, zero-padded at the edges so the
// linear-phase kernel introduces no net delay), then decimated at the 3:2
// ratio. An odd trailing byte is discarded; empty input yields nil.
func Downsample24To16(pcm []byte) []byte {
	src := decodeSamples(pcm)
	n := len(src)
	if n == 0 {
		return nil
	}
	coef := firCoefficients()
	half := firTaps / 2

	filtered := make([]float64, n)
	for i := range filtered {
		var acc float64
		for k, c := range coef {
			j := i + k - half
			if j < 0 || j >= n {
				continue // zero padding beyond the edges
			}
			acc += c * float64(src[j])
		}
		filtered[i] = acc
	}

	dstSamples := n * 2 / 3
	out := make([]byte, dstSamples*2)
	ratio := 1.5
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := filtered[idx]
		s1 := s0
		if idx+1 < n {
			s1 = filtered[idx+1]
		}
		putSample(out, i, clampInt16(s0*(1-frac)+s1*frac))
	}
	return out
}

// tpdfDither returns triangular-PDF dither in the range (-0.5, +0.5) LSB.
func tpdfDither() float64 {
	return (rand.Float64() - rand.Float64()) * 0.5
}

// decodeSamples interprets pcm as little-endian int16 samples. An odd trailing
// byte is ignored rather than treated as corruption — upstream producers may
// split buffers at arbitrary offsets.
func decodeSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	src := make([]int16, n)
	for i := range src {
		src[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return src
}

// putSample writes sample i as little-endian int16 into out.
func putSample(out []byte, i int, v int16) {
	out[i*2] = byte(v)
	out[i*2+1] = byte(v >> 8)
}

// clampInt16 rounds v to the nearest integer and clamps it to int16 range.
func clampInt16(v float64) int16 {
	r := math.Round(v)
	if r > 32767 {
		return 32767
	}
	if r < -32768 {
		return -32768
	}
	return int16(r)
}
