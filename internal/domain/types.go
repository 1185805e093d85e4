package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecordingMode selects how hotkey presses map onto capture sessions.
type RecordingMode string

const (
	RecordingModePressAndHold RecordingMode = "press-and-hold"
	RecordingModeToggle       RecordingMode = "toggle"
)

// ParseRecordingMode accepts the configured mode name, case-insensitively.
func ParseRecordingMode(value string) (RecordingMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(RecordingModePressAndHold), "press_and_hold", "hold", "ptt":
		return RecordingModePressAndHold, nil
	case string(RecordingModeToggle):
		return RecordingModeToggle, nil
	default:
		return "", fmt.Errorf("unknown recording mode %q", value)
	}
}

// SessionState models a single capture lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateCapturing  SessionState = "capturing"
	SessionStateFinalizing SessionState = "finalizing"
	SessionStateAborted    SessionState = "aborted"
)

// CoordinatorState is the trigger-level state owned by the recording coordinator.
type CoordinatorState string

const (
	CoordinatorWaitingForTrigger CoordinatorState = "waiting_for_trigger"
	CoordinatorArmedCapturing    CoordinatorState = "armed_capturing"
)

// HotkeyKind distinguishes key press from key release.
type HotkeyKind string

const (
	HotkeyDown HotkeyKind = "down"
	HotkeyUp   HotkeyKind = "up"
)

// KeySymbol identifies a key combination, e.g. "ctrl+shift+space".
type KeySymbol string

// HotkeyEvent is a single press or release of a registered combination.
type HotkeyEvent struct {
	Kind     HotkeyKind
	Identity KeySymbol
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady               SessionStateReason = "ready"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonTranscribing        SessionStateReason = "transcribing"
	SessionReasonTranscriptDelivered SessionStateReason = "transcript_delivered"
	SessionReasonDeliveryFailed      SessionStateReason = "delivery_failed"
	SessionReasonRecordingDiscarded  SessionStateReason = "recording_discarded"
	SessionReasonNoAudio             SessionStateReason = "no_audio"
	SessionReasonDeviceUnavailable   SessionStateReason = "device_unavailable"
	SessionReasonSessionConflict     SessionStateReason = "session_conflict"
	SessionReasonUnsupportedFormat   SessionStateReason = "unsupported_format"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonDeviceLost          SessionStateReason = "device_lost"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeDeviceUnavailable ErrorCode = "device_unavailable"
	ErrorCodeSessionConflict   ErrorCode = "session_conflict"
	ErrorCodeUnsupportedFormat ErrorCode = "unsupported_format"
	ErrorCodeEmptyStream       ErrorCode = "empty_stream"
	ErrorCodeTransport         ErrorCode = "transport"
	ErrorCodeDelivery          ErrorCode = "delivery"
	ErrorCodeIndicator         ErrorCode = "indicator"
)

// TranscriptionResult is the opaque answer of a transcription backend.
type TranscriptionResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// Transcript is a delivered transcription together with its capture context.
type Transcript struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Provider  string        `json:"provider"`
	Mode      RecordingMode `json:"mode"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Status summarizes the current runtime status.
type Status struct {
	State          CoordinatorState `json:"state"`
	Mode           RecordingMode    `json:"mode"`
	IndicatorReady bool             `json:"indicatorReady"`
	Active         bool             `json:"active"`
	Message        string           `json:"message,omitempty"`
}
