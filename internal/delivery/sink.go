// Package delivery hands finished transcripts to the user through the
// clipboard, optionally pasting them into the focused window.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"whispr/internal/domain"
	"whispr/internal/ports"
)

const (
	defaultSettleDelay  = 80 * time.Millisecond
	defaultRestoreDelay = 120 * time.Millisecond
)

// Paster triggers a paste into the focused window.
type Paster interface {
	Paste() error
}

type Options struct {
	// Copy leaves the transcript on the clipboard.
	Copy bool
	// AutoPaste pastes the transcript, then restores the previous clipboard
	// contents unless Copy is set.
	AutoPaste    bool
	SettleDelay  time.Duration
	RestoreDelay time.Duration
	Logger       *slog.Logger
}

type Sink struct {
	clipboard ports.Clipboard
	paster    Paster
	opts      Options
	logger    *slog.Logger

	mu sync.Mutex
}

func NewSink(clipboard ports.Clipboard, paster Paster, opts Options) *Sink {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.RestoreDelay <= 0 {
		opts.RestoreDelay = defaultRestoreDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sink{clipboard: clipboard, paster: paster, opts: opts, logger: opts.Logger}
}

func (s *Sink) Deliver(ctx context.Context, transcript domain.Transcript) error {
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		s.logger.Info("empty transcript; nothing to deliver", "session", transcript.ID)
		return nil
	}
	if !s.opts.Copy && !s.opts.AutoPaste {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var previous string
	restore := false
	if s.opts.AutoPaste && !s.opts.Copy {
		var err error
		previous, err = s.clipboard.Text(ctx)
		if err != nil {
			s.logger.Debug("clipboard read failed; previous contents will not be restored", "error", err)
		} else {
			restore = true
		}
	}

	if err := s.clipboard.SetText(ctx, text); err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}
	if !s.opts.AutoPaste {
		return nil
	}

	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}
	if s.paster == nil {
		return fmt.Errorf("paste transcript: no paster configured")
	}
	// On failure the transcript stays on the clipboard for a manual paste.
	if err := s.paster.Paste(); err != nil {
		return fmt.Errorf("paste transcript: %w", err)
	}
	s.logger.Debug("transcript pasted", "session", transcript.ID, "chars", len(text))

	if !restore {
		return nil
	}
	if err := sleep(ctx, s.opts.RestoreDelay); err != nil {
		return err
	}
	if err := s.clipboard.SetText(ctx, previous); err != nil {
		s.logger.Warn("clipboard restore failed", "error", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
