package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"whispr/internal/audio"
	"whispr/internal/domain"
	"whispr/internal/ports"
)

var ErrNoActiveSession = errors.New("no active recording session")

const defaultTranscriptionTimeout = 60 * time.Second

// Config controls how hotkeys map onto recordings.
type Config struct {
	Mode domain.RecordingMode
	// Hotkey restricts the coordinator to one combination; empty accepts any.
	Hotkey domain.KeySymbol
	Device ports.DeviceSelector
	// TailGrace keeps capturing briefly after the stop trigger so the last
	// syllable is not cut off. Zero disables it.
	TailGrace            time.Duration
	TranscriptionTimeout time.Duration
	Format               audio.AudioFormat
}

// Dependencies are the collaborators driven by the coordinator. Results,
// Events, Telemetry and Logger are optional.
type Dependencies struct {
	Hotkeys   ports.HotkeySource
	Indicator ports.IndicatorSurface
	Captures  ports.CaptureSessions
	Transport ports.TranscriptionTransport
	Results   ports.ResultSink
	Events    ports.EventSink
	Telemetry ports.Telemetry
	Logger    *slog.Logger
}

// Coordinator is the recording state machine. All transitions happen under
// mu; hotkeys, device failures and explicit calls are serialized by it.
type Coordinator struct {
	hotkeys   ports.HotkeySource
	indicator ports.IndicatorSurface
	captures  ports.CaptureSessions
	events    ports.EventSink
	telemetry ports.Telemetry
	logger    *slog.Logger
	pipeline  clipPipeline
	cfg       Config

	lifetime context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu         sync.Mutex
	state      domain.CoordinatorState
	ready      bool
	closed     bool
	current    ports.CaptureSession
	armedBy    domain.KeySymbol
	suppressed domain.KeySymbol
}

func NewCoordinator(deps Dependencies, cfg Config) *Coordinator {
	if cfg.Mode == "" {
		cfg.Mode = domain.RecordingModePressAndHold
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = defaultTranscriptionTimeout
	}
	if cfg.Format == (audio.AudioFormat{}) {
		cfg.Format = audio.Canonical()
	}
	if deps.Events == nil {
		deps.Events = EventFanOut{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = noopTelemetry{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		hotkeys:   deps.Hotkeys,
		indicator: deps.Indicator,
		captures:  deps.Captures,
		events:    deps.Events,
		telemetry: deps.Telemetry,
		logger:    deps.Logger,
		pipeline: clipPipeline{
			transport: deps.Transport,
			results:   deps.Results,
			events:    deps.Events,
			telemetry: deps.Telemetry,
			logger:    deps.Logger,
			format:    cfg.Format,
			timeout:   cfg.TranscriptionTimeout,
			mode:      cfg.Mode,
			now:       time.Now,
		},
		cfg:      cfg,
		lifetime: lifetime,
		cancel:   cancel,
		state:    domain.CoordinatorWaitingForTrigger,
	}
}

// Run feeds hotkey events into the state machine until ctx is done or the
// source closes its channel.
func (c *Coordinator) Run(ctx context.Context) {
	events := c.hotkeys.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleHotkey(ctx, ev)
		}
	}
}

// MarkIndicatorReady opens the readiness gate. Triggers before it are dropped.
func (c *Coordinator) MarkIndicatorReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return
	}
	c.ready = true
	c.logger.Info("indicator ready")
	c.events.SessionStateChanged(c.state, domain.SessionReasonReady)
}

// HandleHotkey applies one hotkey event.
func (c *Coordinator) HandleHotkey(ctx context.Context, ev domain.HotkeyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if !c.ready {
		c.logger.Info("indicator not ready; ignoring hotkey", "hotkey", ev.Identity, "kind", ev.Kind)
		c.telemetry.HotkeyDropped()
		return
	}
	if c.cfg.Hotkey != "" && ev.Identity != c.cfg.Hotkey {
		return
	}

	if c.cfg.Mode == domain.RecordingModeToggle {
		if ev.Kind != domain.HotkeyDown {
			return
		}
		if c.state == domain.CoordinatorWaitingForTrigger {
			c.startLocked(ctx, ev.Identity)
		} else {
			c.stopLocked(ctx)
		}
		return
	}

	switch ev.Kind {
	case domain.HotkeyDown:
		if c.state != domain.CoordinatorWaitingForTrigger {
			c.logger.Debug("duplicate hotkey press ignored", "hotkey", ev.Identity)
			return
		}
		c.startLocked(ctx, ev.Identity)
	case domain.HotkeyUp:
		if c.state != domain.CoordinatorArmedCapturing || ev.Identity != c.armedBy {
			c.logger.Debug("hotkey release without press ignored", "hotkey", ev.Identity)
			return
		}
		c.stopLocked(ctx)
	}
}

// Abort discards the active capture without transcribing it.
func (c *Coordinator) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNoActiveSession
	}
	c.abortLocked(domain.SessionReasonRecordingDiscarded)
	return nil
}

// Status returns the current coordinator status.
func (c *Coordinator) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		State:          c.state,
		Mode:           c.cfg.Mode,
		IndicatorReady: c.ready,
		Active:         c.current != nil,
	}
}

// Wait blocks until every started pipeline has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Shutdown aborts any capture, then waits for in-flight pipelines until ctx
// is done, after which they are cancelled.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	if c.current != nil {
		c.abortLocked(domain.SessionReasonRecordingDiscarded)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.cancel()
	return err
}

func (c *Coordinator) startLocked(ctx context.Context, identity domain.KeySymbol) {
	c.state = domain.CoordinatorArmedCapturing
	c.armedBy = identity

	session, err := c.captures.Begin(ctx, c.cfg.Device, c.deviceFailed)
	if err != nil {
		c.failLocked(err, "")
		return
	}
	c.current = session

	if c.cfg.Mode == domain.RecordingModePressAndHold {
		if err := c.hotkeys.Suppress(identity); err != nil {
			c.logger.Warn("hotkey suppress failed", "hotkey", identity, "error", err)
		} else {
			c.suppressed = identity
		}
	}

	c.showActive()
	c.telemetry.SessionStarted()
	c.events.SessionStateChanged(c.state, domain.SessionReasonRecordingStarted)
}

func (c *Coordinator) stopLocked(ctx context.Context) {
	session := c.current
	if session == nil {
		c.resetLocked()
		return
	}

	c.waitTail(ctx)
	stream, err := session.Finalize(ctx)

	c.resumeLocked()
	c.current = nil
	c.state = domain.CoordinatorWaitingForTrigger
	if err != nil {
		c.failLocked(err, "")
		return
	}

	c.events.SessionStateChanged(c.state, domain.SessionReasonTranscribing)
	c.inflight.Add(1)
	go func(id string) {
		defer c.inflight.Done()
		c.runPipeline(id, stream)
	}(session.ID())
}

func (c *Coordinator) runPipeline(sessionID string, stream audio.Stream) {
	transcript, reason, err := c.pipeline.Run(c.lifetime, sessionID, stream)
	c.telemetry.SessionEnded(reason)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.CoordinatorWaitingForTrigger {
		c.showIdle()
	}

	if err != nil {
		code, _ := domain.Classify(err)
		c.logger.Warn("recording pipeline failed", "session", sessionID, "reason", reason, "error", err)
		c.events.SessionError(code, err.Error())
		c.events.SessionStateChanged(c.state, reason)
		return
	}

	c.logger.Info("transcript ready", "session", sessionID, "provider", transcript.Provider, "chars", len(transcript.Text))
	c.events.TranscriptReady(transcript)
	c.events.SessionStateChanged(c.state, reason)
}

// deviceFailed runs on the capture goroutine when the device stream ends on
// its own.
func (c *Coordinator) deviceFailed(sessionID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID() != sessionID {
		return
	}
	if abortErr := c.current.Abort(); abortErr != nil {
		c.logger.Warn("releasing failed device", "session", sessionID, "error", abortErr)
	}
	c.current = nil
	c.failLocked(err, domain.SessionReasonDeviceLost)
}

func (c *Coordinator) abortLocked(reason domain.SessionStateReason) {
	if err := c.current.Abort(); err != nil {
		c.logger.Warn("capture abort failed", "session", c.current.ID(), "error", err)
	}
	c.current = nil
	c.resetLocked()
	c.showIdle()
	c.telemetry.SessionEnded(reason)
	c.events.SessionStateChanged(c.state, reason)
}

// failLocked ends the current attempt. No retry is made.
func (c *Coordinator) failLocked(err error, reason domain.SessionStateReason) {
	code, classified := domain.Classify(err)
	if reason == "" {
		reason = classified
	}
	if errors.Is(err, domain.ErrSessionConflict) {
		c.logger.Error("capture session conflict", "error", err)
	} else {
		c.logger.Warn("recording attempt failed", "reason", reason, "error", err)
	}

	c.resetLocked()
	c.showIdle()
	c.telemetry.SessionEnded(reason)
	c.events.SessionError(code, err.Error())
	c.events.SessionStateChanged(c.state, reason)
}

func (c *Coordinator) resetLocked() {
	c.resumeLocked()
	c.state = domain.CoordinatorWaitingForTrigger
	c.armedBy = ""
}

func (c *Coordinator) resumeLocked() {
	if c.suppressed == "" {
		return
	}
	if err := c.hotkeys.Resume(c.suppressed); err != nil {
		c.logger.Warn("hotkey resume failed", "hotkey", c.suppressed, "error", err)
	}
	c.suppressed = ""
}

func (c *Coordinator) waitTail(ctx context.Context) {
	if c.cfg.TailGrace <= 0 {
		return
	}
	timer := time.NewTimer(c.cfg.TailGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (c *Coordinator) showActive() {
	if c.indicator == nil {
		return
	}
	if err := c.indicator.ShowActive(); err != nil {
		c.logger.Warn("indicator show active failed", "error", err)
	}
}

func (c *Coordinator) showIdle() {
	if c.indicator == nil {
		return
	}
	if err := c.indicator.ShowIdle(); err != nil {
		c.logger.Warn("indicator show idle failed", "error", err)
	}
}
