package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"

	"whispr/internal/domain"
)

var ErrUnknownHotkey = errors.New("hotkey is not registered")

// Source watches the global keyboard hook and emits Down/Up events for the
// registered combinations. Down fires once per press; OS auto-repeat of a
// held key is folded into that press.
type Source struct {
	combos []Combo
	events chan domain.HotkeyEvent
	logger *slog.Logger

	start func() chan hook.Event
	end   func()

	mu         sync.Mutex
	held       map[uint16]bool
	pressed    map[domain.KeySymbol]bool
	suppressed map[domain.KeySymbol]bool
}

func NewSource(combos []Combo, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		combos:     combos,
		events:     make(chan domain.HotkeyEvent, 32),
		logger:     logger,
		start:      hook.Start,
		end:        hook.End,
		held:       map[uint16]bool{},
		pressed:    map[domain.KeySymbol]bool{},
		suppressed: map[domain.KeySymbol]bool{},
	}
}

func (s *Source) Events() <-chan domain.HotkeyEvent {
	return s.events
}

// Run reads the OS hook until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	raw := s.start()
	defer s.end()

	for _, combo := range s.combos {
		s.logger.Info("hotkey registered", "hotkey", combo.ID)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-raw:
			if !ok {
				return nil
			}
			s.handle(ev)
		}
	}
}

func (s *Source) Suppress(identity domain.KeySymbol) error {
	return s.setSuppressed(identity, true)
}

func (s *Source) Resume(identity domain.KeySymbol) error {
	return s.setSuppressed(identity, false)
}

func (s *Source) setSuppressed(identity domain.KeySymbol, value bool) error {
	if !s.registered(identity) {
		return fmt.Errorf("%w: %s", ErrUnknownHotkey, identity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value {
		s.suppressed[identity] = true
	} else {
		delete(s.suppressed, identity)
	}
	return nil
}

func (s *Source) registered(identity domain.KeySymbol) bool {
	for _, combo := range s.combos {
		if combo.ID == identity {
			return true
		}
	}
	return false
}

func (s *Source) handle(ev hook.Event) {
	switch ev.Kind {
	case hook.KeyHold, hook.KeyDown:
		if ev.Keycode == 0 {
			return
		}
		s.press(ev.Keycode)
	case hook.KeyUp:
		s.release(ev.Keycode)
	}
}

func (s *Source) press(code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.held[code] = true
	for _, combo := range s.combos {
		if combo.Key != code || !s.modifiersHeld(combo) || s.pressed[combo.ID] {
			continue
		}
		s.pressed[combo.ID] = true
		if s.suppressed[combo.ID] {
			continue
		}
		s.emit(domain.HotkeyEvent{Kind: domain.HotkeyDown, Identity: combo.ID})
	}
}

func (s *Source) release(code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.held, code)
	for _, combo := range s.combos {
		if !s.pressed[combo.ID] {
			continue
		}
		if combo.Key != code && !isModifierOf(combo, code) {
			continue
		}
		delete(s.pressed, combo.ID)
		s.emit(domain.HotkeyEvent{Kind: domain.HotkeyUp, Identity: combo.ID})
	}
}

func (s *Source) modifiersHeld(combo Combo) bool {
	for _, mod := range combo.Modifiers {
		held := false
		for _, c := range modifierCodes[mod] {
			if s.held[c] {
				held = true
				break
			}
		}
		if !held {
			return false
		}
	}
	return true
}

// emit never blocks the hook loop; a full queue drops the event.
func (s *Source) emit(ev domain.HotkeyEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("hotkey event queue full; dropping event", "hotkey", ev.Identity, "kind", ev.Kind)
	}
}
