package delivery

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) Text(context.Context) (string, error) {
	if clipboard.Unsupported {
		return "", errors.New("clipboard is not supported on this system")
	}
	return clipboard.ReadAll()
}

func (SystemClipboard) SetText(_ context.Context, text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard is not supported on this system")
	}
	return clipboard.WriteAll(text)
}

// KeyboardPaster sends the platform paste shortcut to the focused window.
type KeyboardPaster struct {
	goos string

	mu sync.Mutex
	kb *keybd_event.KeyBonding
}

func NewKeyboardPaster() *KeyboardPaster {
	return &KeyboardPaster{goos: runtime.GOOS}
}

func (p *KeyboardPaster) Paste() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.kb == nil {
		kb, err := keybd_event.NewKeyBonding()
		if err != nil {
			return err
		}
		p.kb = &kb
	}
	p.kb.Clear()
	if p.goos == "darwin" {
		p.kb.HasSuper(true)
	} else {
		p.kb.HasCTRL(true)
	}
	p.kb.SetKeys(keybd_event.VK_V)
	return p.kb.Launching()
}
