package input

import (
	"fmt"
	"sort"
	"sync"
)

// Kind is the class of events and devices a hook listens to
type Kind int

const (
	// KindKeys receives keyboard keys from keyboards
	KindKeys Kind = iota
	// KindButtons receives buttons and wheel events from pointing devices
	KindButtons
	// KindCursor receives pointer motion from pointing devices
	KindCursor
	// KindCustom receives every event from devices chosen by a filter
	KindCustom
)

var kinds = []Kind{KindKeys, KindButtons, KindCursor, KindCustom}

func (k Kind) String() string {
	switch k {
	case KindKeys:
		return "keys"
	case KindButtons:
		return "buttons"
	case KindCursor:
		return "cursor"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown hook kind %q", s)
}

// Accepts reports whether events of this kind include ev
func (k Kind) Accepts(ev Event) bool {
	if k == KindCustom {
		return true
	}
	switch e := ev.(type) {
	case KeyEvent:
		switch k {
		case KindKeys:
			return !e.IsButton()
		case KindButtons:
			return e.IsButton()
		}
	case ScrollEvent:
		return k == KindButtons
	case MoveEvent:
		return k == KindCursor
	}
	return false
}

// Matches reports whether devices of category c carry this kind's events.
// KindCustom relies on the hook's device filter instead.
func (k Kind) Matches(c Category) bool {
	if c == CategorySelf {
		return false
	}
	switch k {
	case KindKeys:
		return c == CategoryKeyboard
	case KindButtons, KindCursor:
		return c == CategoryMouse
	default:
		return true
	}
}

// KindState is the state shared by all hooks of one kind: which keys are
// held as seen by this kind, how many hooks are active and which one owns
// reinjection.
type KindState struct {
	kind Kind

	mu         sync.Mutex
	pressed    map[string]struct{}
	active     int
	reinjector *Hook
}

func newKindState(k Kind) *KindState {
	return &KindState{kind: k, pressed: make(map[string]struct{})}
}

// Kind returns the kind this state belongs to
func (s *KindState) Kind() Kind { return s.kind }

// Observe updates the pressed set with ev and returns ev annotated with
// Multipress. It runs once per event per kind.
func (s *KindState) Observe(ev Event) Event {
	key, ok := ev.(KeyEvent)
	if !ok {
		return ev
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key.Press {
		_, held := s.pressed[key.Name]
		key.Multipress = held
		s.pressed[key.Name] = struct{}{}
	} else {
		delete(s.pressed, key.Name)
		key.Multipress = false
	}
	return key
}

// Pressed returns the names currently held, sorted
func (s *KindState) Pressed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.pressed))
	for n := range s.pressed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Active returns the number of active hooks of this kind
func (s *KindState) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reinjector returns the hook owning reinjection, or nil
func (s *KindState) Reinjector() *Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reinjector
}

func (s *KindState) activate(h *Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.opts.Reinject != nil {
		if s.reinjector != nil && s.reinjector != h {
			return fmt.Errorf("%s: %w (hook %d)", s.kind, ErrReinjectorConflict, s.reinjector.id)
		}
		s.reinjector = h
	}
	s.active++
	return nil
}

func (s *KindState) deactivate(h *Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reinjector == h {
		s.reinjector = nil
	}
	if s.active > 0 {
		s.active--
	}
	if s.active == 0 {
		// nobody is left to see the releases
		s.pressed = make(map[string]struct{})
	}
}
