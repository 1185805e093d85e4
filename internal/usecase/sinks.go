package usecase

import (
	"context"
	"errors"
	"time"

	"whispr/internal/domain"
	"whispr/internal/ports"
)

// EventFanOut forwards every event to each sink in order.
type EventFanOut []ports.EventSink

func (f EventFanOut) SessionStateChanged(state domain.CoordinatorState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(state, reason)
	}
}

func (f EventFanOut) TranscriptReady(transcript domain.Transcript) {
	for _, sink := range f {
		sink.TranscriptReady(transcript)
	}
}

func (f EventFanOut) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}

// ResultChain delivers to every sink even when an earlier one fails.
type ResultChain []ports.ResultSink

func (c ResultChain) Deliver(ctx context.Context, transcript domain.Transcript) error {
	var errs []error
	for _, sink := range c {
		if err := sink.Deliver(ctx, transcript); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopTelemetry struct{}

func (noopTelemetry) SessionStarted()                                 {}
func (noopTelemetry) SessionEnded(domain.SessionStateReason)          {}
func (noopTelemetry) HotkeyDropped()                                  {}
func (noopTelemetry) ClipEncoded(time.Duration)                       {}
func (noopTelemetry) TransportCompleted(string, time.Duration, error) {}
