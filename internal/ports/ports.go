package ports

import (
	"context"
	"time"

	"whispr/internal/audio"
	"whispr/internal/domain"
)

// HotkeySource delivers global hotkey presses and releases.
type HotkeySource interface {
	Events() <-chan domain.HotkeyEvent
	// Suppress stops Down deliveries for identity until Resume. Up events
	// are still delivered so a held key can be released.
	Suppress(identity domain.KeySymbol) error
	Resume(identity domain.KeySymbol) error
}

// IndicatorSurface is the on-screen recording indicator.
type IndicatorSurface interface {
	ShowActive() error
	ShowIdle() error
}

// DeviceSelector picks an input device; an empty DeviceID means the system default.
type DeviceSelector struct {
	DeviceID string
	// Preferred layout; used when the device supports it.
	SampleRateHz int
	Channels     int
}

// DeviceFormat is the layout a device handle actually delivers.
type DeviceFormat struct {
	SampleRateHz int
	Channels     int
}

// DeviceHandle is an open input stream. Chunks is closed once the device
// stops producing, after Close or on failure.
type DeviceHandle interface {
	Format() DeviceFormat
	Chunks() <-chan []float32
	Err() error
	Close() error
}

// DeviceProvider opens input devices.
type DeviceProvider interface {
	OpenInput(ctx context.Context, selector DeviceSelector) (DeviceHandle, error)
}

// CaptureSession is one recording lifecycle.
type CaptureSession interface {
	ID() string
	State() domain.SessionState
	Finalize(ctx context.Context) (audio.Stream, error)
	Abort() error
}

// CaptureSessions begins capture sessions. onFailure runs when the device
// stream ends on its own while the session is still capturing.
type CaptureSessions interface {
	Begin(ctx context.Context, selector DeviceSelector, onFailure func(sessionID string, err error)) (CaptureSession, error)
}

// TranscriptionTransport sends an encoded clip to a transcription backend.
type TranscriptionTransport interface {
	Submit(ctx context.Context, clip audio.EncodedClip) (domain.TranscriptionResult, error)
}

// ResultSink receives a finished transcript.
type ResultSink interface {
	Deliver(ctx context.Context, transcript domain.Transcript) error
}

// Clipboard reads and writes the system clipboard text.
type Clipboard interface {
	Text(ctx context.Context) (string, error)
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.CoordinatorState, reason domain.SessionStateReason)
	TranscriptReady(transcript domain.Transcript)
	SessionError(code domain.ErrorCode, detail string)
}

// Telemetry records session and pipeline measurements.
type Telemetry interface {
	SessionStarted()
	SessionEnded(reason domain.SessionStateReason)
	HotkeyDropped()
	ClipEncoded(duration time.Duration)
	TransportCompleted(provider string, latency time.Duration, err error)
}
