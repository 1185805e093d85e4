package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"whispr/internal/ports"
)

// FFMPEGProvider captures microphone audio by running ffmpeg and reading
// raw float32 samples from its stdout.
type FFMPEGProvider struct {
	command     string
	inputFormat string
	queueDepth  int
	logger      *slog.Logger
}

type FFMPEGOptions struct {
	Command     string
	InputFormat string
	QueueDepth  int
	Logger      *slog.Logger
}

func NewFFMPEGProvider(opts FFMPEGOptions) *FFMPEGProvider {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.InputFormat == "" {
		opts.InputFormat = "pulse"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FFMPEGProvider{
		command:     opts.Command,
		inputFormat: opts.InputFormat,
		queueDepth:  opts.QueueDepth,
		logger:      opts.Logger,
	}
}

// ffmpeg resamples on its own, so the requested layout is always honored.
func (p *FFMPEGProvider) OpenInput(ctx context.Context, selector ports.DeviceSelector) (ports.DeviceHandle, error) {
	format := ports.DeviceFormat{SampleRateHz: selector.SampleRateHz, Channels: selector.Channels}
	if format.SampleRateHz <= 0 {
		format.SampleRateHz = 16000
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	device := selector.DeviceID
	if device == "" {
		device = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", p.inputFormat,
		"-i", device,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRateHz),
		"-f", "f32le",
		"-",
	}

	// The process outlives ctx; it is stopped through the handle.
	cmd := exec.Command(p.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	proc := &ffmpegProcess{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		exited:  make(chan struct{}),
	}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.exited)
	}()

	select {
	case <-proc.exited:
		if proc.waitErr != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", proc.waitErr, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	handle := newChunkHandle(format, p.queueDepth, p.logger)
	handle.stop = proc.Stop

	go proc.pump(handle, format.Channels*512)
	return handle, nil
}

type ffmpegProcess struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	exited  chan struct{}
	// waitErr is written once before exited is closed.
	waitErr error

	mu       sync.Mutex
	stopping bool

	stopOnce sync.Once
	stopErr  error
}

// pump converts f32le bytes into sample chunks until stdout closes.
func (p *ffmpegProcess) pump(handle *chunkHandle, samplesPerChunk int) {
	buf := make([]byte, samplesPerChunk*4)
	chunk := make([]float32, samplesPerChunk)
	var carry int
	for {
		n, err := p.stdout.Read(buf[carry:])
		n += carry
		whole := n - n%4
		for i := 0; i < whole; i += 4 {
			chunk[i/4] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
		}
		handle.push(chunk[:whole/4])
		carry = copy(buf, buf[whole:n])

		if err != nil {
			if p.isStopping() {
				handle.finish()
				return
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("ffmpeg closed its output")
			}
			select {
			case <-p.exited:
				if detail := stringsTrimSpaceSafe(p.stderr.String()); detail != "" {
					err = fmt.Errorf("%w: %s", err, detail)
				}
			case <-time.After(time.Second):
			}
			handle.fail(err)
			return
		}
	}
}

func (p *ffmpegProcess) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *ffmpegProcess) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopping = true
		p.mu.Unlock()

		if p.process != nil {
			_ = p.process.Signal(os.Interrupt)
		}

		select {
		case <-p.exited:
		case <-time.After(1200 * time.Millisecond):
			if p.process != nil {
				_ = p.process.Kill()
			}
			<-p.exited
		}
		p.stopErr = normalizeStopErr(p.waitErr)

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})

	return p.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
