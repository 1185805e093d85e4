package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/net/http2"

	"whispr/internal/capture"
	"whispr/internal/config"
	"whispr/internal/delivery"
	"whispr/internal/domain"
	"whispr/internal/history"
	"whispr/internal/hotkey"
	"whispr/internal/metrics"
	"whispr/internal/notify"
	"whispr/internal/ports"
	"whispr/internal/providers/deepgram"
	"whispr/internal/providers/local"
	"whispr/internal/providers/openai"
	"whispr/internal/providers/whisperapi"
	"whispr/internal/usecase"
)

// Surfaces are the UI-owned collaborators. Clipboard and Paster default to
// the system clipboard and keyboard.
type Surfaces struct {
	Indicator ports.IndicatorSurface
	Events    ports.EventSink
	Clipboard ports.Clipboard
	Paster    delivery.Paster
}

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      *slog.Logger
	Coordinator *usecase.Coordinator
	Hotkeys     *hotkey.Source
	Metrics     *metrics.Metrics
	// History is nil when disabled.
	History  *history.Store
	Provider string

	metricsServer *metrics.Server
	closers       []io.Closer
}

// Build wires all backend dependencies for the current runtime.
func Build(cfg config.Config, logger *slog.Logger, surfaces Surfaces) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if surfaces.Indicator == nil {
		return nil, errors.New("indicator surface is required")
	}
	if surfaces.Clipboard == nil {
		surfaces.Clipboard = delivery.SystemClipboard{}
	}
	if surfaces.Paster == nil {
		surfaces.Paster = delivery.NewKeyboardPaster()
	}

	mode, err := domain.ParseRecordingMode(cfg.Hotkey.Mode)
	if err != nil {
		return nil, err
	}
	combo, err := hotkey.ParseAccelerator(cfg.Hotkey.Shortcut, runtime.GOOS)
	if err != nil {
		return nil, fmt.Errorf("invalid hotkey %q: %w", cfg.Hotkey.Shortcut, err)
	}
	devices, err := newDeviceProvider(cfg.Audio, logger)
	if err != nil {
		return nil, err
	}

	services := &Services{
		Config:   cfg,
		Logger:   logger,
		Hotkeys:  hotkey.NewSource([]hotkey.Combo{combo}, logger.With("component", "hotkey")),
		Metrics:  metrics.New(),
		Provider: cfg.Transcription.Provider,
	}

	helperPastes := cfg.Transcription.Local.HelperPastes && cfg.Delivery.AutoPaste
	transport, closer, err := newTransport(cfg.Transcription, helperPastes, newHTTPClient(cfg.Transcription), logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		services.closers = append(services.closers, closer)
	}

	results := usecase.ResultChain{
		delivery.NewSink(surfaces.Clipboard, surfaces.Paster, delivery.Options{
			Copy:        cfg.Delivery.CopyToClipboard,
			AutoPaste:   cfg.Delivery.AutoPaste && !helperPastes,
			SettleDelay: cfg.Delivery.PasteDelay,
			Logger:      logger.With("component", "delivery"),
		}),
	}
	if cfg.History.Enabled {
		store, err := history.Open(history.Options{
			Path:       cfg.History.Path,
			MaxEntries: cfg.History.Limit,
			Logger:     logger.With("component", "history"),
		})
		if err != nil {
			services.close()
			return nil, err
		}
		services.History = store
		services.closers = append(services.closers, store)
		results = append(results, store)
	}

	var events usecase.EventFanOut
	if surfaces.Events != nil {
		events = append(events, surfaces.Events)
	}
	if cfg.Notifications.Enabled {
		events = append(events, notify.New(notify.Options{
			OnTranscript: cfg.Notifications.OnTranscript,
			Logger:       logger.With("component", "notify"),
		}))
	}

	if cfg.Metrics.Address != "" {
		services.metricsServer = metrics.NewServer(cfg.Metrics.Address, services.Metrics, logger)
	}

	services.Coordinator = usecase.NewCoordinator(usecase.Dependencies{
		Hotkeys:   services.Hotkeys,
		Indicator: surfaces.Indicator,
		Captures: capture.NewManager(devices, capture.Options{
			DrainTimeout: cfg.Audio.DrainTimeout,
			Logger:       logger.With("component", "capture"),
		}),
		Transport: transport,
		Results:   results,
		Events:    events,
		Telemetry: services.Metrics,
		Logger:    logger.With("component", "coordinator"),
	}, usecase.Config{
		Mode:   mode,
		Hotkey: combo.ID,
		Device: ports.DeviceSelector{
			DeviceID:     cfg.Audio.InputDevice,
			SampleRateHz: cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
		},
		TailGrace:            cfg.Audio.TailGrace,
		TranscriptionTimeout: cfg.Transcription.Timeout,
	})

	logger.Info("services assembled",
		"mode", mode,
		"hotkey", combo.ID,
		"backend", cfg.Audio.Backend,
		"provider", cfg.Transcription.Provider,
		"history", cfg.History.Enabled,
	)
	return services, nil
}

// Start begins serving metrics and consuming hotkeys. Both loops stop when
// ctx is done.
func (s *Services) Start(ctx context.Context) error {
	if s.metricsServer != nil {
		if _, err := s.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	go func() {
		if err := s.Hotkeys.Run(ctx); err != nil {
			s.Logger.Error("hotkey source stopped", "error", err)
		}
	}()
	go s.Coordinator.Run(ctx)
	return nil
}

// Shutdown stops the coordinator, then releases the transport, history and
// metrics listener.
func (s *Services) Shutdown(ctx context.Context) error {
	var errs []error
	if s.Coordinator != nil {
		if err := s.Coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("coordinator shutdown: %w", err))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if err := s.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Services) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newDeviceProvider(cfg config.AudioConfig, logger *slog.Logger) (ports.DeviceProvider, error) {
	logger = logger.With("component", "device", "backend", cfg.Backend)
	switch cfg.Backend {
	case config.BackendPortAudio:
		return capture.NewPortAudioProvider(capture.PortAudioOptions{
			QueueDepth:      cfg.QueueDepth,
			FramesPerBuffer: cfg.FramesPerBuffer,
			Logger:          logger,
		}), nil
	case config.BackendFFMPEG:
		return capture.NewFFMPEGProvider(capture.FFMPEGOptions{
			Command:     cfg.FFMPEGCommand,
			InputFormat: cfg.InputFormat,
			QueueDepth:  cfg.QueueDepth,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// newTransport returns the configured backend and, when it owns resources,
// the closer that releases them.
func newTransport(cfg config.TranscriptionConfig, helperPastes bool, client *http.Client, logger *slog.Logger) (ports.TranscriptionTransport, io.Closer, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		helper := local.NewHelper(local.Config{
			Command:   cfg.Local.Command,
			Args:      cfg.Local.Args,
			Dir:       cfg.Local.Dir,
			AutoPaste: helperPastes,
			Logger:    logger.With("component", "local-helper"),
		})
		return helper, helper, nil
	case config.ProviderWhisperAPI:
		return whisperapi.NewTransport(whisperapi.Config{
			Endpoint: cfg.WhisperAPI.Endpoint,
			APIKey:   cfg.WhisperAPI.APIKey,
			Model:    cfg.WhisperAPI.Model,
			Language: cfg.WhisperAPI.Language,
			Prompt:   cfg.WhisperAPI.Prompt,
			TextPath: cfg.WhisperAPI.TextPath,
		}, client), nil, nil
	case config.ProviderOpenAI:
		return openai.NewTranscriber(openai.Config{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			Language: cfg.OpenAI.Language,
			Prompt:   cfg.OpenAI.Prompt,
		}, client), nil, nil
	case config.ProviderDeepgram:
		return deepgram.NewTransport(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}

// newHTTPClient has no client-level timeout; each request is bounded by the
// coordinator's transcription deadline.
func newHTTPClient(cfg config.TranscriptionConfig) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if !cfg.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.EnableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return &http.Client{Transport: tr}
}
