package input

import (
	"fmt"
	"sort"
	"strings"

	hevdev "github.com/holoplot/go-evdev"
)

// Key names are the evdev names in lower case, without the KEY_ prefix for
// keys and with the btn_ prefix kept for buttons: "a", "leftctrl", "btn_left".

const (
	btnMisc          = 0x100
	keyOK            = 0x160
	btnTriggerHappy  = 0x2c0
	btnTriggerHappy4 = 0x2e7
)

var (
	keyNames = map[uint16]string{}
	keyCodes = map[string]uint16{}
)

// buttons we always want named, whatever the generated tables contain
var buttonCodes = map[string]hevdev.EvCode{
	"BTN_LEFT":    hevdev.BTN_LEFT,
	"BTN_RIGHT":   hevdev.BTN_RIGHT,
	"BTN_MIDDLE":  hevdev.BTN_MIDDLE,
	"BTN_SIDE":    hevdev.BTN_SIDE,
	"BTN_EXTRA":   hevdev.BTN_EXTRA,
	"BTN_FORWARD": hevdev.BTN_FORWARD,
	"BTN_BACK":    hevdev.BTN_BACK,
	"BTN_TASK":    hevdev.BTN_TASK,
	"BTN_TOUCH":   hevdev.BTN_TOUCH,
}

func init() {
	for name, code := range hevdev.KEYFromString {
		registerKeyName(name, uint16(code))
	}
	for name, code := range buttonCodes {
		registerKeyName(name, uint16(code))
	}
}

func registerKeyName(evName string, code uint16) {
	if strings.HasSuffix(evName, "_MAX") || strings.HasSuffix(evName, "_CNT") {
		return
	}
	name := normalizeKeyName(evName)
	if name == "" {
		return
	}
	keyCodes[name] = code
	// several names share a code; the shortest wins, then the lexically smaller
	if cur, ok := keyNames[code]; !ok || len(name) < len(cur) || (len(name) == len(cur) && name < cur) {
		keyNames[code] = name
	}
}

func normalizeKeyName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "key_")
}

// KeyName returns the canonical name of an EV_KEY code
func KeyName(code uint16) string {
	if name, ok := keyNames[code]; ok {
		return name
	}
	return fmt.Sprintf("key_%d", code)
}

// KeyCode returns the EV_KEY code for a name. "KEY_A", "a" and "A" are equivalent.
func KeyCode(name string) (uint16, bool) {
	code, ok := keyCodes[normalizeKeyName(name)]
	return code, ok
}

// IsButton reports whether an EV_KEY code is in one of the button ranges
func IsButton(code uint16) bool {
	return (code >= btnMisc && code < keyOK) ||
		(code >= btnTriggerHappy && code <= btnTriggerHappy4)
}

// IsModifier reports whether a key name is one of the eight modifier keys
func IsModifier(name string) bool {
	switch normalizeKeyName(name) {
	case "leftctrl", "rightctrl", "leftshift", "rightshift",
		"leftalt", "rightalt", "leftmeta", "rightmeta":
		return true
	}
	return false
}

// KeyNames returns every known canonical name, sorted
func KeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for _, n := range keyNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Aliases maps friendly names to other names or canonical key names
type Aliases map[string]string

// DefaultAliases are always available unless overridden
var DefaultAliases = Aliases{
	"ctrl":    "leftctrl",
	"control": "leftctrl",
	"shift":   "leftshift",
	"alt":     "leftalt",
	"altgr":   "rightalt",
	"super":   "leftmeta",
	"meta":    "leftmeta",
	"win":     "leftmeta",
	"cmd":     "leftmeta",
	"escape":  "esc",
	"return":  "enter",
	"del":     "delete",
	"ins":     "insert",
	"pgup":    "pageup",
	"pgdn":    "pagedown",
	"lmb":     "btn_left",
	"rmb":     "btn_right",
	"mmb":     "btn_middle",
}

// Merge returns a new alias table with extra entries overriding a's
func (a Aliases) Merge(extra map[string]string) Aliases {
	out := make(Aliases, len(a)+len(extra))
	for k, v := range a {
		out[normalizeKeyName(k)] = v
	}
	for k, v := range extra {
		out[normalizeKeyName(k)] = v
	}
	return out
}

// Resolve follows aliases until a key name is reached and returns the
// canonical name for its code, the one decoded events carry.
func (a Aliases) Resolve(name string) (string, error) {
	orig := name
	name = normalizeKeyName(name)
	visited := make(map[string]struct{})
	for {
		if _, seen := visited[name]; seen {
			return "", fmt.Errorf("%w: %s", ErrAliasCycle, orig)
		}
		visited[name] = struct{}{}

		next, ok := a[name]
		if !ok {
			break
		}
		name = normalizeKeyName(next)
	}
	code, ok := keyCodes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, orig)
	}
	return KeyName(code), nil
}
