// Package notify raises desktop notifications for session outcomes.
package notify

import (
	"log/slog"
	"unicode/utf8"

	"github.com/gen2brain/beeep"

	"whispr/internal/domain"
)

const (
	defaultTitle   = "Whispr"
	maxPreviewRune = 120
)

type Options struct {
	Title string
	// OnTranscript also notifies for successful transcripts; errors always notify.
	OnTranscript bool
	Logger       *slog.Logger
}

// Notifier is an EventSink that shows transcripts and errors as desktop
// notifications.
type Notifier struct {
	opts   Options
	logger *slog.Logger
	send   func(title, message string) error
}

func New(opts Options) *Notifier {
	if opts.Title == "" {
		opts.Title = defaultTitle
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Notifier{opts: opts, logger: opts.Logger, send: desktopNotify}
}

func (n *Notifier) SessionStateChanged(domain.CoordinatorState, domain.SessionStateReason) {}

func (n *Notifier) TranscriptReady(transcript domain.Transcript) {
	if !n.opts.OnTranscript || transcript.Text == "" {
		return
	}
	n.notify(n.opts.Title, preview(transcript.Text))
}

func (n *Notifier) SessionError(code domain.ErrorCode, detail string) {
	n.notify(n.opts.Title+": "+errorTitle(code), preview(detail))
}

func (n *Notifier) notify(title, message string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("desktop notification failed", "error", err)
	}
}

func desktopNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func errorTitle(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeDeviceUnavailable:
		return "microphone unavailable"
	case domain.ErrorCodeSessionConflict:
		return "recording already active"
	case domain.ErrorCodeEmptyStream:
		return "no audio captured"
	case domain.ErrorCodeUnsupportedFormat:
		return "unsupported audio format"
	case domain.ErrorCodeDelivery:
		return "could not paste transcript"
	case domain.ErrorCodeTransport:
		return "transcription failed"
	default:
		return "error"
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= maxPreviewRune {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxPreviewRune]) + "…"
}
