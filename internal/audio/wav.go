package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-audio/wav"

	"whispr/internal/domain"
)

// HeaderSize is the length of the RIFF/WAVE header written by Encode.
const HeaderSize = 44

const wavFormatPCM = 1

// EncodedClip is a complete WAV file: header followed by PCM payload.
type EncodedClip struct {
	data   []byte
	format AudioFormat
}

// Bytes returns the full container. Callers must not modify it.
func (c EncodedClip) Bytes() []byte { return c.data }

func (c EncodedClip) Header() []byte {
	if len(c.data) < HeaderSize {
		return nil
	}
	return c.data[:HeaderSize]
}

func (c EncodedClip) Payload() []byte {
	if len(c.data) < HeaderSize {
		return nil
	}
	return c.data[HeaderSize:]
}

func (c EncodedClip) Format() AudioFormat { return c.format }

func (c EncodedClip) Len() int { return len(c.data) }

// Frames is the number of PCM frames in the payload.
func (c EncodedClip) Frames() int {
	align := int(c.format.blockAlign())
	if align == 0 {
		return 0
	}
	return len(c.Payload()) / align
}

func (c EncodedClip) Duration() time.Duration {
	if c.format.SampleRateHz == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.format.SampleRateHz)
}

// Encode produces a 16-bit PCM WAV clip in format. A stream at a different
// rate is resampled first; a mono target takes channel 0 of the source.
func Encode(stream Stream, format AudioFormat) (EncodedClip, error) {
	if stream.Len() == 0 || stream.Frames() == 0 {
		return EncodedClip{}, domain.ErrEmptyStream
	}
	if format.BitsPerSample != 16 || format.Channels == 0 || format.SampleRateHz == 0 {
		return EncodedClip{}, fmt.Errorf("%w: cannot encode %d-bit %d-channel %d Hz", domain.ErrUnsupportedFormat,
			format.BitsPerSample, format.Channels, format.SampleRateHz)
	}

	if stream.SampleRate() != int(format.SampleRateHz) {
		resampled, err := Resample(stream, int(format.SampleRateHz))
		if err != nil {
			return EncodedClip{}, err
		}
		stream = resampled
	}

	var samples []float32
	switch {
	case format.Channels == 1:
		samples = stream.Channel(0)
	case int(format.Channels) == stream.Channels():
		samples = stream.Samples()
	default:
		return EncodedClip{}, fmt.Errorf("%w: %d-channel stream into %d-channel clip", domain.ErrUnsupportedFormat,
			stream.Channels(), format.Channels)
	}
	if len(samples) == 0 {
		return EncodedClip{}, domain.ErrEmptyStream
	}

	frames := uint32(len(samples)) / format.Channels
	dataSize := frames * format.blockAlign()
	data := make([]byte, HeaderSize+int(dataSize))
	writeHeader(data[:HeaderSize], format, dataSize)

	payload := data[HeaderSize:]
	for i := 0; i < int(frames*format.Channels); i++ {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(pcm16(samples[i])))
	}
	return EncodedClip{data: data, format: format}, nil
}

func writeHeader(h []byte, format AudioFormat, dataSize uint32) {
	le := binary.LittleEndian
	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], HeaderSize+dataSize-8)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16)
	le.PutUint16(h[20:22], wavFormatPCM)
	le.PutUint16(h[22:24], uint16(format.Channels))
	le.PutUint32(h[24:28], format.SampleRateHz)
	le.PutUint32(h[28:32], format.SampleRateHz*format.blockAlign())
	le.PutUint16(h[32:34], uint16(format.blockAlign()))
	le.PutUint16(h[34:36], format.BitsPerSample)
	copy(h[36:40], "data")
	le.PutUint32(h[40:44], dataSize)
}

// pcm16 clamps to [-1, 1] and scales negatives by 32768, the rest by 32767,
// so both ends of the int16 range are reachable.
func pcm16(v float32) int16 {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int16(f * 32768)
	}
	return int16(f * 32767)
}

// ClipInfo is what a WAV decoder reports for a clip.
type ClipInfo struct {
	Channels      int
	SampleRateHz  int
	BitsPerSample int
	Frames        int
	Duration      time.Duration
}

// Inspect parses a clip's header with a WAV decoder.
func Inspect(clip EncodedClip) (ClipInfo, error) {
	decoder := wav.NewDecoder(bytes.NewReader(clip.Bytes()))
	if !decoder.IsValidFile() {
		return ClipInfo{}, invalidClip(decoder.Err())
	}
	if err := decoder.FwdToPCM(); err != nil {
		return ClipInfo{}, invalidClip(err)
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		return ClipInfo{}, fmt.Errorf("%w: wav format tag %d", domain.ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	info := ClipInfo{
		Channels:      int(decoder.NumChans),
		SampleRateHz:  int(decoder.SampleRate),
		BitsPerSample: int(decoder.BitDepth),
	}
	if align := info.Channels * info.BitsPerSample / 8; align > 0 {
		info.Frames = decoder.PCMSize / align
	}
	if info.SampleRateHz > 0 {
		info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRateHz)
	}
	return info, nil
}

// Decode reads a 16-bit clip back into a float stream, inverting the
// encoder's scaling.
func Decode(clip EncodedClip) (Stream, error) {
	decoder := wav.NewDecoder(bytes.NewReader(clip.Bytes()))
	if !decoder.IsValidFile() {
		return Stream{}, invalidClip(decoder.Err())
	}
	if decoder.BitDepth != 16 {
		return Stream{}, fmt.Errorf("%w: %d-bit clip", domain.ErrUnsupportedFormat, decoder.BitDepth)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Stream{}, invalidClip(err)
	}

	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return NewStream(out, int(decoder.SampleRate), int(decoder.NumChans)), nil
}

func invalidClip(err error) error {
	if err == nil {
		err = errors.New("not a wav file")
	}
	return fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
}
