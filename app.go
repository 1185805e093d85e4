package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"whispr/internal/bootstrap"
	"whispr/internal/capture"
	"whispr/internal/config"
	"whispr/internal/domain"
	"whispr/internal/logging"
	"whispr/internal/usecase"
)

const (
	eventSession    = "whispr:session"
	eventTranscript = "whispr:transcript"
	eventError      = "whispr:error"
	eventIndicator  = "whispr:indicator"

	indicatorMargin    = 20
	indicatorOffscreen = 100
	shutdownTimeout    = 5 * time.Second
)

// App is the Wails application root. Its window is the recording indicator.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services  *bootstrap.Services
	logger    *slog.Logger
	logCloser io.Closer
	bootErr   error

	screens     func(ctx context.Context) ([]runtime.Screen, error)
	windowSize  func(ctx context.Context) (int, int)
	setPosition func(ctx context.Context, x int, y int)
	emit        func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{
		logger:      slog.Default(),
		screens:     runtime.ScreenGetAll,
		windowSize:  runtime.WindowGetSize,
		setPosition: runtime.WindowSetPosition,
		emit:        runtime.EventsEmit,
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		a.fail(err)
		return
	}
	a.logger, a.logCloser = logging.New(cfg.Logging)
	slog.SetDefault(a.logger)

	services, err := bootstrap.Build(cfg, a.logger, bootstrap.Surfaces{Indicator: a, Events: a})
	if err != nil {
		a.fail(err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := services.Start(runCtx); err != nil {
		cancel()
		_ = services.Shutdown(context.Background())
		a.fail(err)
		return
	}
	a.services = services
	a.cancel = cancel

	if err := a.ShowIdle(); err != nil {
		a.logger.Warn("failed to park indicator", "error", err)
	}
	a.logger.Info("whispr started", "config", cfg.Path)
}

// domReady opens the coordinator's readiness gate once the indicator page
// has loaded.
func (a *App) domReady(context.Context) {
	if a.services == nil {
		return
	}
	a.services.Coordinator.MarkIndicatorReady()
}

func (a *App) shutdown(context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.services != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.services.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown incomplete", "error", err)
		}
		cancel()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) fail(err error) {
	a.bootErr = err
	a.logger.Error("startup failed", "error", err)
	a.SessionError(domain.ErrorCodeStartup, err.Error())
}

// GetStatus returns the current recording status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		status := domain.Status{State: domain.CoordinatorWaitingForTrigger}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.services.Coordinator.Status()
}

// AbortRecording discards an in-progress recording.
func (a *App) AbortRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Coordinator.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// RecentTranscripts returns up to limit transcripts, newest first.
func (a *App) RecentTranscripts(limit int) ([]domain.Transcript, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	if a.services.History == nil {
		return []domain.Transcript{}, nil
	}
	return a.services.History.Recent(limit)
}

// ListAudioInputs returns the names of the capture devices PortAudio sees.
func (a *App) ListAudioInputs() ([]string, error) {
	return capture.ListPortAudioInputs()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":     cfg.Transcription.Provider,
		"hotkey":       cfg.Hotkey.Shortcut,
		"mode":         cfg.Hotkey.Mode,
		"audioBackend": cfg.Audio.Backend,
		"audioInput":   cfg.Audio.InputDevice,
		"configFile":   cfg.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ShowActive centers the indicator near the bottom of the current screen.
func (a *App) ShowActive() error {
	if a.ctx == nil {
		return errors.New("indicator window is not available")
	}
	screens, err := a.screens(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to read screens: %w", err)
	}
	width, height := a.windowSize(a.ctx)
	x, y, err := activePosition(screens, width, height)
	if err != nil {
		return err
	}
	a.setPosition(a.ctx, x, y)
	a.emit(a.ctx, eventIndicator, map[string]bool{"active": true})
	return nil
}

// ShowIdle moves the indicator off screen.
func (a *App) ShowIdle() error {
	if a.ctx == nil {
		return errors.New("indicator window is not available")
	}
	screens, err := a.screens(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to read screens: %w", err)
	}
	screen, ok := pickScreen(screens)
	if !ok {
		return errors.New("no screen available")
	}
	a.setPosition(a.ctx, screen.Size.Width+indicatorOffscreen, screen.Size.Height+indicatorOffscreen)
	a.emit(a.ctx, eventIndicator, map[string]bool{"active": false})
	return nil
}

func activePosition(screens []runtime.Screen, width int, height int) (int, int, error) {
	screen, ok := pickScreen(screens)
	if !ok {
		return 0, 0, errors.New("no screen available")
	}
	x := max((screen.Size.Width-width)/2, 0)
	y := max(screen.Size.Height-height-indicatorMargin, 0)
	return x, y, nil
}

// pickScreen prefers the screen holding the window, then the primary one.
func pickScreen(screens []runtime.Screen) (runtime.Screen, bool) {
	for _, s := range screens {
		if s.IsCurrent {
			return s, true
		}
	}
	for _, s := range screens {
		if s.IsPrimary {
			return s, true
		}
	}
	if len(screens) > 0 {
		return screens[0], true
	}
	return runtime.Screen{}, false
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.CoordinatorState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptReady emits a finished transcript.
func (a *App) TranscriptReady(transcript domain.Transcript) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventTranscript, transcript)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.SessionReasonTranscriptDelivered:
		return "Transcript delivered"
	case domain.SessionReasonDeliveryFailed:
		return "Transcript ready (delivery failed)"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonNoAudio:
		return "No audio captured"
	case domain.SessionReasonDeviceUnavailable:
		return "Microphone unavailable"
	case domain.SessionReasonSessionConflict:
		return "Another recording is already running"
	case domain.SessionReasonUnsupportedFormat:
		return "Unsupported audio format"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonDeviceLost:
		return "Microphone disconnected"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDeviceUnavailable:
		return "Microphone unavailable"
	case domain.ErrorCodeSessionConflict:
		return "Recording already in progress"
	case domain.ErrorCodeUnsupportedFormat:
		return "Unsupported audio format"
	case domain.ErrorCodeEmptyStream:
		return "No audio captured"
	case domain.ErrorCodeTransport:
		return "Transcription error"
	case domain.ErrorCodeDelivery:
		return "Paste or clipboard failed"
	case domain.ErrorCodeIndicator:
		return "Indicator issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
