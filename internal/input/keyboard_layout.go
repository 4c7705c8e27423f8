package input

import (
	"fmt"
	"unicode"

	evdev "github.com/gvalkov/golang-evdev"
)

// keyStroke is the key and shift state that produces a character
type keyStroke struct {
	code  uint16
	shift bool
}

// usLayout maps printable ASCII to keys on a US layout. Typing goes through
// the virtual device, so the compositor's active layout applies; other
// layouts will produce other characters.
var usLayout = map[rune]keyStroke{
	' ':  {evdev.KEY_SPACE, false},
	'\n': {evdev.KEY_ENTER, false},
	'\t': {evdev.KEY_TAB, false},

	'1': {evdev.KEY_1, false}, '!': {evdev.KEY_1, true},
	'2': {evdev.KEY_2, false}, '@': {evdev.KEY_2, true},
	'3': {evdev.KEY_3, false}, '#': {evdev.KEY_3, true},
	'4': {evdev.KEY_4, false}, '$': {evdev.KEY_4, true},
	'5': {evdev.KEY_5, false}, '%': {evdev.KEY_5, true},
	'6': {evdev.KEY_6, false}, '^': {evdev.KEY_6, true},
	'7': {evdev.KEY_7, false}, '&': {evdev.KEY_7, true},
	'8': {evdev.KEY_8, false}, '*': {evdev.KEY_8, true},
	'9': {evdev.KEY_9, false}, '(': {evdev.KEY_9, true},
	'0': {evdev.KEY_0, false}, ')': {evdev.KEY_0, true},

	'-': {evdev.KEY_MINUS, false}, '_': {evdev.KEY_MINUS, true},
	'=': {evdev.KEY_EQUAL, false}, '+': {evdev.KEY_EQUAL, true},
	'[': {evdev.KEY_LEFTBRACE, false}, '{': {evdev.KEY_LEFTBRACE, true},
	']': {evdev.KEY_RIGHTBRACE, false}, '}': {evdev.KEY_RIGHTBRACE, true},
	'\\': {evdev.KEY_BACKSLASH, false}, '|': {evdev.KEY_BACKSLASH, true},
	';': {evdev.KEY_SEMICOLON, false}, ':': {evdev.KEY_SEMICOLON, true},
	'\'': {evdev.KEY_APOSTROPHE, false}, '"': {evdev.KEY_APOSTROPHE, true},
	'`': {evdev.KEY_GRAVE, false}, '~': {evdev.KEY_GRAVE, true},
	',': {evdev.KEY_COMMA, false}, '<': {evdev.KEY_COMMA, true},
	'.': {evdev.KEY_DOT, false}, '>': {evdev.KEY_DOT, true},
	'/': {evdev.KEY_SLASH, false}, '?': {evdev.KEY_SLASH, true},
}

var letterKeys = [26]uint16{
	evdev.KEY_A, evdev.KEY_B, evdev.KEY_C, evdev.KEY_D, evdev.KEY_E, evdev.KEY_F,
	evdev.KEY_G, evdev.KEY_H, evdev.KEY_I, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L,
	evdev.KEY_M, evdev.KEY_N, evdev.KEY_O, evdev.KEY_P, evdev.KEY_Q, evdev.KEY_R,
	evdev.KEY_S, evdev.KEY_T, evdev.KEY_U, evdev.KEY_V, evdev.KEY_W, evdev.KEY_X,
	evdev.KEY_Y, evdev.KEY_Z,
}

func strokeFor(r rune) (keyStroke, bool) {
	if r >= 'a' && r <= 'z' {
		return keyStroke{letterKeys[r-'a'], false}, true
	}
	if r >= 'A' && r <= 'Z' {
		return keyStroke{letterKeys[unicode.ToLower(r)-'a'], true}, true
	}
	s, ok := usLayout[r]
	return s, ok
}

// TextEvents returns the raw frames that type text. Characters with no key
// on the US layout are an error so nothing is typed half way.
func TextEvents(text string) ([]RawEvent, error) {
	shift := uint16(evdev.KEY_LEFTSHIFT)
	var events []RawEvent
	for _, r := range text {
		s, ok := strokeFor(r)
		if !ok {
			return nil, fmt.Errorf("cannot type %q: no key on the US layout", r)
		}
		if s.shift {
			events = append(events, RawEvent{Type: EvKey, Code: shift, Value: ValuePress}, SynReportEvent)
		}
		events = append(events,
			RawEvent{Type: EvKey, Code: s.code, Value: ValuePress}, SynReportEvent,
			RawEvent{Type: EvKey, Code: s.code, Value: ValueRelease}, SynReportEvent,
		)
		if s.shift {
			events = append(events, RawEvent{Type: EvKey, Code: shift, Value: ValueRelease}, SynReportEvent)
		}
	}
	return events, nil
}

// TypeText types text through out
func TypeText(out VirtualOutput, text string) error {
	if out == nil {
		return fmt.Errorf("%w: cannot type text", ErrTargetUnavailable)
	}
	events, err := TextEvents(text)
	if err != nil {
		return err
	}
	return out.Write(events...)
}

// KeyTap returns the frames for pressing codes in order and releasing them
// in reverse, as a chord is typed by hand.
func KeyTap(codes ...uint16) []RawEvent {
	events := make([]RawEvent, 0, len(codes)*4)
	for _, c := range codes {
		events = append(events, RawEvent{Type: EvKey, Code: c, Value: ValuePress}, SynReportEvent)
	}
	for i := len(codes) - 1; i >= 0; i-- {
		events = append(events, RawEvent{Type: EvKey, Code: codes[i], Value: ValueRelease}, SynReportEvent)
	}
	return events
}
