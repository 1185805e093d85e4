package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gordonklaus/portaudio"

	"whispr/internal/ports"
)

// PortAudioProvider opens microphone streams through PortAudio.
type PortAudioProvider struct {
	queueDepth      int
	framesPerBuffer int
	logger          *slog.Logger
}

type PortAudioOptions struct {
	QueueDepth      int
	FramesPerBuffer int
	Logger          *slog.Logger
}

func NewPortAudioProvider(opts PortAudioOptions) *PortAudioProvider {
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PortAudioProvider{
		queueDepth:      opts.QueueDepth,
		framesPerBuffer: opts.FramesPerBuffer,
		logger:          opts.Logger,
	}
}

// OpenInput prefers the selector's layout (mono 16 kHz by default) and falls
// back to the device's native rate and channel count.
func (p *PortAudioProvider) OpenInput(ctx context.Context, selector ports.DeviceSelector) (ports.DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	device, err := findInputDevice(selector.DeviceID)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	var handle *chunkHandle
	callback := func(in []float32) {
		handle.push(in)
	}

	params, format := p.negotiate(device, selector, callback)
	handle = newChunkHandle(format, p.queueDepth, p.logger)

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open stream on %q failed: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start stream on %q failed: %w", device.Name, err)
	}

	handle.stop = func() error {
		return errors.Join(stream.Stop(), stream.Close(), portaudio.Terminate())
	}
	p.logger.Debug("portaudio input opened",
		"device", device.Name,
		"sample_rate", format.SampleRateHz,
		"channels", format.Channels,
	)
	return handle, nil
}

func (p *PortAudioProvider) negotiate(device *portaudio.DeviceInfo, selector ports.DeviceSelector, callback func([]float32)) (portaudio.StreamParameters, ports.DeviceFormat) {
	rate := selector.SampleRateHz
	if rate <= 0 {
		rate = 16000
	}
	channels := selector.Channels
	if channels <= 0 {
		channels = 1
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.FramesPerBuffer = p.framesPerBuffer
	params.Input.Channels = channels
	params.SampleRate = float64(rate)
	if channels <= device.MaxInputChannels && portaudio.IsFormatSupported(params, callback) == nil {
		return params, ports.DeviceFormat{SampleRateHz: rate, Channels: channels}
	}

	native := ports.DeviceFormat{
		SampleRateHz: int(device.DefaultSampleRate),
		Channels:     device.MaxInputChannels,
	}
	if native.Channels <= 0 {
		native.Channels = 1
	}
	params.Input.Channels = native.Channels
	params.SampleRate = device.DefaultSampleRate
	p.logger.Info("device does not support preferred format; capturing at native format",
		"device", device.Name,
		"sample_rate", native.SampleRateHz,
		"channels", native.Channels,
	)
	return params, native
}

func findInputDevice(id string) (*portaudio.DeviceInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.EqualFold(id, "default") {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	for _, device := range devices {
		if device.MaxInputChannels > 0 && strings.EqualFold(strings.TrimSpace(device.Name), id) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", id)
}

// ListPortAudioInputs returns the names of devices that can record.
func ListPortAudioInputs() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	names := make([]string, 0, len(devices))
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			names = append(names, device.Name)
		}
	}
	return names, nil
}
