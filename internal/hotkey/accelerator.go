// Package hotkey turns global keyboard events into press/release events for
// configured key combinations.
package hotkey

import (
	"fmt"
	"sort"
	"strings"

	hook "github.com/robotn/gohook"

	"whispr/internal/domain"
)

// DefaultAccelerator is the shortcut used when none is configured.
const DefaultAccelerator = "CommandOrControl+Shift+Space"

// Modifier keycodes (left and right variants) as reported by libuiohook.
var modifierCodes = map[string][]uint16{
	"ctrl":  {0x001D, 0x0E1D},
	"alt":   {0x0038, 0x0E38},
	"shift": {0x002A, 0x0036},
	"cmd":   {0x0E5B, 0x0E5C},
}

var modifierOrder = map[string]int{"ctrl": 0, "alt": 1, "shift": 2, "cmd": 3}

var keyAliases = map[string]string{
	"return":   "enter",
	"escape":   "esc",
	"spacebar": "space",
	"del":      "delete",
	"plus":     "=",
}

// Combo is a parsed accelerator: modifiers that must be held plus one key.
type Combo struct {
	ID        domain.KeySymbol
	Key       uint16
	Modifiers []string
}

// ParseAccelerator parses an accelerator such as "CommandOrControl+Shift+Space".
// CommandOrControl resolves to cmd on darwin and ctrl elsewhere.
func ParseAccelerator(spec string, goos string) (Combo, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Combo{}, fmt.Errorf("empty accelerator")
	}

	var (
		mods    []string
		keyName string
	)
	seen := map[string]bool{}
	for _, part := range strings.Split(spec, "+") {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			return Combo{}, fmt.Errorf("accelerator %q has an empty segment", spec)
		}
		if mod, ok := modifierName(token, goos); ok {
			if !seen[mod] {
				seen[mod] = true
				mods = append(mods, mod)
			}
			continue
		}
		if keyName != "" {
			return Combo{}, fmt.Errorf("accelerator %q names more than one key (%q and %q)", spec, keyName, token)
		}
		keyName = token
	}
	if keyName == "" {
		return Combo{}, fmt.Errorf("accelerator %q has no key", spec)
	}
	if alias, ok := keyAliases[keyName]; ok {
		keyName = alias
	}
	code, ok := hook.Keycode[keyName]
	if !ok {
		return Combo{}, fmt.Errorf("accelerator %q: unknown key %q", spec, keyName)
	}

	sort.Slice(mods, func(i, j int) bool { return modifierOrder[mods[i]] < modifierOrder[mods[j]] })
	id := strings.Join(append(append([]string(nil), mods...), keyName), "+")
	return Combo{ID: domain.KeySymbol(id), Key: code, Modifiers: mods}, nil
}

func modifierName(token string, goos string) (string, bool) {
	switch token {
	case "commandorcontrol", "cmdorctrl", "cmdorcontrol", "commandorctrl":
		if goos == "darwin" {
			return "cmd", true
		}
		return "ctrl", true
	case "ctrl", "control":
		return "ctrl", true
	case "cmd", "command", "super", "meta", "win":
		return "cmd", true
	case "alt", "option", "altgr":
		return "alt", true
	case "shift":
		return "shift", true
	}
	return "", false
}

func isModifierOf(combo Combo, code uint16) bool {
	for _, mod := range combo.Modifiers {
		for _, c := range modifierCodes[mod] {
			if c == code {
				return true
			}
		}
	}
	return false
}
