package domain

import "errors"

var (
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrSessionConflict   = errors.New("a capture session is already active")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyStream       = errors.New("no audio captured")
	ErrTransport         = errors.New("transcription transport failed")
)

// Classify maps an error onto the code and reason surfaced to the UI.
func Classify(err error) (ErrorCode, SessionStateReason) {
	switch {
	case errors.Is(err, ErrDeviceUnavailable):
		return ErrorCodeDeviceUnavailable, SessionReasonDeviceUnavailable
	case errors.Is(err, ErrSessionConflict):
		return ErrorCodeSessionConflict, SessionReasonSessionConflict
	case errors.Is(err, ErrUnsupportedFormat):
		return ErrorCodeUnsupportedFormat, SessionReasonUnsupportedFormat
	case errors.Is(err, ErrEmptyStream):
		return ErrorCodeEmptyStream, SessionReasonNoAudio
	default:
		return ErrorCodeTransport, SessionReasonTranscriptionFailed
	}
}
