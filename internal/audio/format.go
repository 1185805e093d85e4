// Package audio converts captured float samples into the canonical clip
// format consumed by transcription backends.
package audio

import (
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
)

const (
	CanonicalChannels      = 1
	CanonicalSampleRateHz  = 16000
	CanonicalBitsPerSample = 16
)

// AudioFormat describes an encoded PCM layout.
type AudioFormat struct {
	Channels      uint32
	SampleRateHz  uint32
	BitsPerSample uint16
}

var canonical = AudioFormat{
	Channels:      CanonicalChannels,
	SampleRateHz:  CanonicalSampleRateHz,
	BitsPerSample: CanonicalBitsPerSample,
}

// Canonical returns the mono 16 kHz 16-bit format every clip is encoded to.
func Canonical() AudioFormat {
	return canonical
}

func (f AudioFormat) bytesPerSample() uint32 {
	return uint32(f.BitsPerSample) / 8
}

func (f AudioFormat) blockAlign() uint32 {
	return f.Channels * f.bytesPerSample()
}

// Stream is a finite run of interleaved float samples at a source rate.
type Stream struct {
	buf *goaudio.Float32Buffer
}

// NewStream wraps interleaved samples. The slice is owned by the stream afterwards.
func NewStream(samples []float32, sampleRateHz int, channels int) Stream {
	return Stream{buf: &goaudio.Float32Buffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRateHz},
		Data:   samples,
	}}
}

func (s Stream) Channels() int {
	if s.buf == nil || s.buf.Format == nil {
		return 0
	}
	return s.buf.Format.NumChannels
}

func (s Stream) SampleRate() int {
	if s.buf == nil || s.buf.Format == nil {
		return 0
	}
	return s.buf.Format.SampleRate
}

// Samples returns the interleaved sample slice without copying.
func (s Stream) Samples() []float32 {
	if s.buf == nil {
		return nil
	}
	return s.buf.Data
}

// Len is the total number of samples across all channels.
func (s Stream) Len() int {
	return len(s.Samples())
}

// Frames is the number of sample frames (one sample per channel).
func (s Stream) Frames() int {
	channels := s.Channels()
	if channels <= 0 {
		return 0
	}
	return s.Len() / channels
}

// Seconds returns the stream length in seconds. It is not finite when the
// sample rate is zero.
func (s Stream) Seconds() float64 {
	return float64(s.Frames()) / float64(s.SampleRate())
}

// Duration is Seconds as a time.Duration; zero when Seconds is not finite.
func (s Stream) Duration() time.Duration {
	seconds := s.Seconds()
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Channel extracts one channel as a new mono slice.
func (s Stream) Channel(index int) []float32 {
	channels := s.Channels()
	if channels <= 0 || index < 0 || index >= channels {
		return nil
	}
	data := s.Samples()
	if channels == 1 {
		out := make([]float32, len(data))
		copy(out, data)
		return out
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		out[i] = data[i*channels+index]
	}
	return out
}
