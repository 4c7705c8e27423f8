// Package trigger matches recent key and button events against registered
// patterns and runs actions when one completes.
package trigger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/hookd/internal/input"
)

var (
	// ErrDuplicatePattern is returned when a pattern is registered twice
	ErrDuplicatePattern = errors.New("pattern already registered")
	// ErrEmptyPattern is returned for patterns without members
	ErrEmptyPattern = errors.New("pattern is empty")
	// ErrInvalidHotkey is returned for hotkey strings that cannot be parsed
	ErrInvalidHotkey = errors.New("invalid hotkey")
	// ErrStarted is returned when registering on a running manager
	ErrStarted = errors.New("trigger manager already started")
)

// Member is one element of a pattern: a key going down or up
type Member struct {
	Name  string
	Press bool
}

// Down is a press of name
func Down(name string) Member { return Member{Name: name, Press: true} }

// Up is a release of name
func Up(name string) Member { return Member{Name: name} }

func (m Member) String() string {
	if m.Press {
		return m.Name + " press"
	}
	return m.Name + " release"
}

func memberOf(ev input.KeyEvent) Member {
	return Member{Name: ev.Name, Press: ev.Press}
}

// Pattern is an ordered run of members that must appear back to back
type Pattern []Member

func (p Pattern) String() string {
	parts := make([]string, len(p))
	for i, m := range p {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}

// Chord presses names in order and releases them in reverse, the way a
// combination like ctrl+s is typed.
func Chord(names ...string) Pattern {
	p := make(Pattern, 0, len(names)*2)
	for _, n := range names {
		p = append(p, Down(n))
	}
	for i := len(names) - 1; i >= 0; i-- {
		p = append(p, Up(names[i]))
	}
	return p
}

// ParseHotkey turns "ctrl+s" or "ctrl+k ctrl+c" into a pattern. Names go
// through aliases; whitespace separates chords typed one after another.
func ParseHotkey(hotkey string, aliases input.Aliases) (Pattern, error) {
	chords := strings.Fields(hotkey)
	if len(chords) == 0 {
		return nil, ErrEmptyPattern
	}

	var p Pattern
	for _, chord := range chords {
		parts := strings.Split(chord, "+")
		names := make([]string, 0, len(parts))
		for _, part := range parts {
			if part == "" {
				return nil, fmt.Errorf("%w: %q has an empty key", ErrInvalidHotkey, hotkey)
			}
			name, err := aliases.Resolve(part)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %w", ErrInvalidHotkey, hotkey, err)
			}
			names = append(names, name)
		}
		p = append(p, Chord(names...)...)
	}
	return p, nil
}

// canonical returns a copy with every known key under the name its
// decoded events carry
func (p Pattern) canonical() Pattern {
	out := make(Pattern, len(p))
	for i, m := range p {
		if code, ok := input.KeyCode(m.Name); ok {
			m.Name = input.KeyName(code)
		}
		out[i] = m
	}
	return out
}

// usesButtons reports whether any member is a mouse button
func (p Pattern) usesButtons() bool {
	for _, m := range p {
		if code, ok := input.KeyCode(m.Name); ok && input.IsButton(code) {
			return true
		}
	}
	return false
}

// triggers marks the members whose raw event is withheld when the pattern
// is blocked: presses of non-modifier keys, or every press when the
// pattern is made of modifiers only.
func (p Pattern) triggers() []bool {
	marks := make([]bool, len(p))
	found := false
	for i, m := range p {
		if m.Press && !input.IsModifier(m.Name) {
			marks[i] = true
			found = true
		}
	}
	if !found {
		for i, m := range p {
			marks[i] = m.Press
		}
	}
	return marks
}
