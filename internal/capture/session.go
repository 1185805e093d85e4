package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"whispr/internal/audio"
	"whispr/internal/domain"
	"whispr/internal/ports"
)

var (
	ErrSessionAborted = errors.New("capture session was aborted")
	ErrNotCapturing   = errors.New("capture session is not capturing")
)

const defaultDrainTimeout = 2 * time.Second

// Options tunes a Manager.
type Options struct {
	// DrainTimeout bounds how long Finalize waits for queued chunks after the
	// device is closed.
	DrainTimeout time.Duration
	Logger       *slog.Logger
	NewID        func() string
}

// Manager begins capture sessions and allows at most one at a time.
type Manager struct {
	provider ports.DeviceProvider
	opts     Options

	mu     sync.Mutex
	active *Session
}

func NewManager(provider ports.DeviceProvider, opts Options) *Manager {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{provider: provider, opts: opts}
}

// Begin opens the selected device and starts accumulating its samples.
func (m *Manager) Begin(ctx context.Context, selector ports.DeviceSelector, onFailure func(string, error)) (ports.CaptureSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrSessionConflict, m.active.id, m.active.State())
	}

	handle, err := m.provider.OpenInput(ctx, selector)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	session := &Session{
		id:           m.opts.NewID(),
		handle:       handle,
		format:       handle.Format(),
		drainTimeout: m.opts.DrainTimeout,
		onFailure:    onFailure,
		state:        domain.SessionStateCapturing,
		done:         make(chan struct{}),
		startedAt:    time.Now(),
	}
	session.logger = m.opts.Logger.With("session", session.id)
	session.release = func() { m.release(session) }
	m.active = session

	go session.consume()

	session.logger.Info("capture started",
		"device", selector.DeviceID,
		"sample_rate", session.format.SampleRateHz,
		"channels", session.format.Channels,
	)
	return session, nil
}

// Active reports whether a session currently holds the device.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// Session accumulates device chunks until it is finalized or aborted.
type Session struct {
	id           string
	handle       ports.DeviceHandle
	format       ports.DeviceFormat
	drainTimeout time.Duration
	onFailure    func(string, error)
	logger       *slog.Logger
	startedAt    time.Time

	release     func()
	releaseOnce sync.Once
	closeErr    error

	mu     sync.Mutex
	state  domain.SessionState
	buf    []float32
	sealed bool
	chunks int

	done chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Finalize stops the device, drains queued chunks, and returns everything
// captured. An empty stream is returned when nothing arrived.
func (s *Session) Finalize(ctx context.Context) (audio.Stream, error) {
	s.mu.Lock()
	if s.state != domain.SessionStateCapturing {
		state := s.state
		s.mu.Unlock()
		if state == domain.SessionStateAborted {
			return audio.Stream{}, ErrSessionAborted
		}
		return audio.Stream{}, fmt.Errorf("%w: %s", ErrNotCapturing, state)
	}
	s.state = domain.SessionStateFinalizing
	s.mu.Unlock()

	if err := s.releaseDevice(); err != nil {
		s.logger.Warn("input device close failed", "error", err)
	}
	if !s.awaitDrain(ctx) {
		s.logger.Warn("capture drain timed out; keeping chunks received so far")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	if s.state == domain.SessionStateAborted {
		return audio.Stream{}, ErrSessionAborted
	}
	samples := s.buf
	s.buf = nil
	s.state = domain.SessionStateIdle

	stream := audio.NewStream(samples, s.format.SampleRateHz, s.format.Channels)
	s.logger.Info("capture finalized",
		"chunks", s.chunks,
		"frames", stream.Frames(),
		"elapsed", time.Since(s.startedAt).Round(time.Millisecond),
	)
	return stream, nil
}

// Abort stops the device and discards captured samples. It is safe to call
// from any state; calls after the session ended are no-ops.
func (s *Session) Abort() error {
	s.mu.Lock()
	switch s.state {
	case domain.SessionStateCapturing, domain.SessionStateFinalizing:
		s.state = domain.SessionStateAborted
		s.sealed = true
		s.buf = nil
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.releaseDevice()
	s.awaitDrain(context.Background())
	s.logger.Info("capture aborted")
	return err
}

// releaseDevice closes the handle and frees the manager slot exactly once.
func (s *Session) releaseDevice() error {
	s.releaseOnce.Do(func() {
		s.closeErr = s.handle.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}

func (s *Session) awaitDrain(ctx context.Context) bool {
	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// consume is the only reader of the device's chunk channel.
func (s *Session) consume() {
	for chunk := range s.handle.Chunks() {
		s.mu.Lock()
		if !s.sealed {
			s.buf = append(s.buf, chunk...)
			s.chunks++
		}
		s.mu.Unlock()
	}
	close(s.done)

	s.mu.Lock()
	capturing := s.state == domain.SessionStateCapturing
	s.mu.Unlock()
	if !capturing {
		return
	}

	err := s.handle.Err()
	if err == nil {
		err = errors.New("input stream ended unexpectedly")
	}
	s.logger.Warn("input device stopped while capturing", "error", err)
	if s.onFailure != nil {
		s.onFailure(s.id, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err))
	}
}
