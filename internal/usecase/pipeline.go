package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"whispr/internal/audio"
	"whispr/internal/domain"
	"whispr/internal/ports"
)

// clipPipeline turns a finalized capture into a delivered transcript:
// resample, encode, submit, deliver.
type clipPipeline struct {
	transport ports.TranscriptionTransport
	results   ports.ResultSink
	events    ports.EventSink
	telemetry ports.Telemetry
	logger    *slog.Logger
	format    audio.AudioFormat
	timeout   time.Duration
	mode      domain.RecordingMode
	now       func() time.Time
}

func (p clipPipeline) Run(ctx context.Context, sessionID string, stream audio.Stream) (domain.Transcript, domain.SessionStateReason, error) {
	if stream.Len() == 0 {
		return domain.Transcript{}, domain.SessionReasonNoAudio, domain.ErrEmptyStream
	}

	resampled, err := audio.Resample(stream, int(p.format.SampleRateHz))
	if err != nil {
		return domain.Transcript{}, domain.SessionReasonUnsupportedFormat, err
	}
	clip, err := audio.Encode(resampled, p.format)
	if err != nil {
		_, reason := domain.Classify(err)
		return domain.Transcript{}, reason, err
	}
	info, err := audio.Inspect(clip)
	if err != nil {
		return domain.Transcript{}, domain.SessionReasonUnsupportedFormat, err
	}
	p.telemetry.ClipEncoded(info.Duration)
	p.logger.Debug("clip encoded",
		"session", sessionID,
		"bytes", clip.Len(),
		"duration", info.Duration,
		"sample_rate", info.SampleRateHz,
	)

	submitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := p.transport.Submit(submitCtx, clip)
	p.telemetry.TransportCompleted(result.Provider, time.Since(started), err)
	if err != nil {
		if !errors.Is(err, domain.ErrTransport) {
			err = fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		return domain.Transcript{}, domain.SessionReasonTranscriptionFailed, err
	}

	transcript := domain.Transcript{
		ID:        sessionID,
		Text:      strings.TrimSpace(result.Text),
		Provider:  result.Provider,
		Mode:      p.mode,
		Duration:  info.Duration,
		CreatedAt: p.now(),
	}
	if p.results == nil {
		return transcript, domain.SessionReasonTranscriptDelivered, nil
	}
	if err := p.results.Deliver(ctx, transcript); err != nil {
		p.logger.Warn("transcript delivery failed", "session", sessionID, "error", err)
		p.events.SessionError(domain.ErrorCodeDelivery, "transcript ready but delivery failed")
		return transcript, domain.SessionReasonDeliveryFailed, nil
	}
	return transcript, domain.SessionReasonTranscriptDelivered, nil
}
