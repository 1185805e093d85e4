package audio

import (
	"fmt"
	"math"

	"whispr/internal/domain"
)

// LowpassQ is the biquad quality factor (Butterworth, flat passband).
const LowpassQ = 0.7071067811865476

// Resample converts a stream to targetRateHz. Only channel 0 of a
// multi-channel source is kept. Before rate reduction the signal is run
// through a second-order low-pass at targetRateHz/2.
//
// A stream already at the target rate is returned unchanged, including its
// channel layout.
func Resample(stream Stream, targetRateHz int) (Stream, error) {
	if targetRateHz <= 0 {
		return Stream{}, fmt.Errorf("%w: target rate %d", domain.ErrUnsupportedFormat, targetRateHz)
	}
	if stream.Channels() <= 0 {
		return Stream{}, fmt.Errorf("%w: stream has no channels", domain.ErrUnsupportedFormat)
	}
	seconds := stream.Seconds()
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Stream{}, fmt.Errorf("%w: stream duration is not finite (rate %d)", domain.ErrUnsupportedFormat, stream.SampleRate())
	}

	sourceRate := stream.SampleRate()
	if sourceRate == targetRateHz {
		return stream, nil
	}

	mono := stream.Channel(0)
	if targetRateHz < sourceRate {
		newBiquadLowpass(float64(sourceRate), float64(targetRateHz)/2, LowpassQ).process(mono)
	}

	n := ResampledLength(len(mono), sourceRate, targetRateHz)
	out := make([]float32, n)
	step := float64(sourceRate) / float64(targetRateHz)
	last := len(mono) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = mono[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = mono[j] + (mono[j+1]-mono[j])*frac
	}
	return NewStream(out, targetRateHz, 1), nil
}

// ResampledLength is ceil(frames * target / source) in integer arithmetic.
func ResampledLength(frames int, sourceRateHz int, targetRateHz int) int {
	if frames <= 0 || sourceRateHz <= 0 || targetRateHz <= 0 {
		return 0
	}
	num := int64(frames) * int64(targetRateHz)
	return int((num + int64(sourceRateHz) - 1) / int64(sourceRateHz))
}

// biquad is an RBJ cookbook filter with normalized coefficients.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func newBiquadLowpass(sampleRate float64, cutoff float64, q float64) *biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cosW0) / 2 / a0,
		b1: (1 - cosW0) / a0,
		b2: (1 - cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// process filters samples in place (transposed direct form II).
func (f *biquad) process(samples []float32) {
	for i, s := range samples {
		x := float64(s)
		y := f.b0*x + f.z1
		f.z1 = f.b1*x - f.a1*y + f.z2
		f.z2 = f.b2*x - f.a2*y
		samples[i] = float32(y)
	}
}
