package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/hookd/internal/input"
	"github.com/bnema/hookd/internal/logger"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"
)

// DefaultDoublePressWindow bounds the gap between the two matches of a
// double press binding
const DefaultDoublePressWindow = 500 * time.Millisecond

// Options configures a Manager
type Options struct {
	// BufferSize is the minimum window length; it grows to fit the longest pattern
	BufferSize        int
	DoublePressWindow time.Duration
	// Aliases resolves names in hotkey strings
	Aliases input.Aliases
	// Priority of the manager's hooks
	Priority int
}

// Option adjusts a single binding
type Option func(*binding)

// WithBlock keeps the trigger keys of the pattern from reaching other
// applications. The manager still sees them.
func WithBlock() Option {
	return func(b *binding) { b.block = true }
}

// WithDoublePress fires the action only when the pattern matches twice
// within the double press window
func WithDoublePress() Option {
	return func(b *binding) { b.double = true }
}

type binding struct {
	hotkey   string
	pattern  Pattern
	action   Action
	block    bool
	double   bool
	triggers []bool
	fired    atomic.Int64
}

// suppresses reports whether the window's newest members are a prefix of
// the pattern that ends on a trigger member
func (b *binding) suppresses(w *window) bool {
	for i, t := range b.triggers {
		if t && w.endsWith(b.pattern[:i+1]) {
			return true
		}
	}
	return false
}

// Binding is a snapshot of a registered pattern
type Binding struct {
	Hotkey      string
	Pattern     Pattern
	Blocked     bool
	DoublePress bool
	Fired       int64
}

// Manager watches key and button events for registered patterns. Patterns
// are checked in registration order and the first one that matches wins;
// the window is then cleared, so a pattern matches once per occurrence.
//
// Events from several devices share one window. Chords split across
// devices may or may not match.
type Manager struct {
	p    *input.Pipeline
	opts Options

	mu       sync.Mutex
	bindings []*binding
	keys     map[string]struct{}
	win      *window
	lastHit  map[string]time.Time
	started  bool
	hooks    []*input.Hook
	ctx      context.Context
	cancel   context.CancelFunc

	// reinjection runs on multiplexer goroutines and keeps its own window
	rmu        sync.Mutex
	shadow     *window
	suppressed map[uint16]struct{}
	blocked    []*binding

	wg conc.WaitGroup
}

// NewManager creates a manager. p may be nil when events are fed to
// OnEvent directly.
func NewManager(p *input.Pipeline, opts Options) *Manager {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8
	}
	if opts.DoublePressWindow <= 0 {
		opts.DoublePressWindow = DefaultDoublePressWindow
	}
	if opts.Aliases == nil {
		opts.Aliases = input.DefaultAliases
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		p:          p,
		opts:       opts,
		keys:       make(map[string]struct{}),
		win:        newWindow(opts.BufferSize),
		lastHit:    make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
		shadow:     newWindow(opts.BufferSize),
		suppressed: make(map[uint16]struct{}),
	}
}

// Register binds action to pattern
func (m *Manager) Register(pattern Pattern, action Action, opts ...Option) error {
	return m.register(pattern.String(), pattern, action, opts)
}

// RegisterHotkey parses hotkey with ParseHotkey and binds action to it
func (m *Manager) RegisterHotkey(hotkey string, action Action, opts ...Option) error {
	pattern, err := ParseHotkey(hotkey, m.opts.Aliases)
	if err != nil {
		return err
	}
	return m.register(hotkey, pattern, action, opts)
}

func (m *Manager) register(hotkey string, pattern Pattern, action Action, opts []Option) error {
	if len(pattern) == 0 {
		return ErrEmptyPattern
	}
	if action == nil {
		return fmt.Errorf("%s: action is nil", hotkey)
	}
	pattern = pattern.canonical()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrStarted
	}
	key := pattern.String()
	if _, ok := m.keys[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePattern, hotkey)
	}

	b := &binding{
		hotkey:   hotkey,
		pattern:  pattern,
		action:   action,
		triggers: pattern.triggers(),
	}
	for _, opt := range opts {
		opt(b)
	}
	m.keys[key] = struct{}{}
	m.bindings = append(m.bindings, b)
	m.win.grow(len(pattern))

	m.rmu.Lock()
	m.shadow.grow(len(pattern))
	if b.block {
		m.blocked = append(m.blocked, b)
	}
	m.rmu.Unlock()

	logger.Debug("Hotkey registered", "hotkey", hotkey, "pattern", pattern, "block", b.block, "double", b.double)
	return nil
}

// Bindings returns the registered bindings in registration order
func (m *Manager) Bindings() []Binding {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Binding, len(m.bindings))
	for i, b := range m.bindings {
		out[i] = Binding{
			Hotkey:      b.hotkey,
			Pattern:     b.pattern,
			Blocked:     b.block,
			DoublePress: b.double,
			Fired:       b.fired.Load(),
		}
	}
	return out
}

// Window returns the members currently held in the match window
func (m *Manager) Window() []Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.snapshot()
}

// OnEvent feeds one event to the matcher. It is the callback of the
// manager's hooks and always lets the event continue.
func (m *Manager) OnEvent(ev input.Event) input.Verdict {
	key, ok := ev.(input.KeyEvent)
	if !ok || key.Repeat {
		return input.Continue
	}
	when := key.When()
	if when.IsZero() {
		when = time.Now()
	}

	m.mu.Lock()
	m.win.push(memberOf(key))

	var hit *binding
	for _, b := range m.bindings {
		if m.win.endsWith(b.pattern) {
			hit = b
			break
		}
	}
	if hit == nil {
		m.mu.Unlock()
		return input.Continue
	}
	m.win.clear()

	fire := true
	if hit.double {
		id := hit.pattern.String()
		last, seen := m.lastHit[id]
		if seen && when.Sub(last) <= m.opts.DoublePressWindow {
			delete(m.lastHit, id)
		} else {
			m.lastHit[id] = when
			fire = false
		}
	}
	ctx := m.ctx
	m.mu.Unlock()

	if !fire {
		logger.Debug("Waiting for second press", "hotkey", hit.hotkey)
		return input.Continue
	}
	m.dispatch(ctx, hit, Match{Hotkey: hit.hotkey, Pattern: hit.pattern, Event: key, Time: when})
	return input.Continue
}

func (m *Manager) dispatch(ctx context.Context, b *binding, match Match) {
	b.fired.Add(1)
	logger.Info("Hotkey matched", "hotkey", b.hotkey)

	m.wg.Go(func() {
		var catcher panics.Catcher
		catcher.Try(func() {
			if err := b.action.Run(ctx, match); err != nil {
				logger.Warn("Hotkey action failed", "hotkey", b.hotkey, "error", err)
			}
		})
		if r := catcher.Recovered(); r != nil {
			logger.Error("Hotkey action panicked", "hotkey", b.hotkey, "panic", r.Value)
		}
	})
}

// Reinject decides whether a grabbed event is written back. A press that
// completes a prefix of a blocked pattern on one of its trigger members is
// withheld, along with its autorepeats and its release. Everything else is
// forwarded.
func (m *Manager) Reinject(ev input.Event) bool {
	key, ok := ev.(input.KeyEvent)
	if !ok {
		return true
	}

	m.rmu.Lock()
	defer m.rmu.Unlock()

	_, held := m.suppressed[key.Code]
	if key.Repeat {
		return !held
	}

	m.shadow.push(memberOf(key))
	forward := true
	switch {
	case key.Press && held:
		forward = false
	case key.Press:
		for _, b := range m.blocked {
			if b.suppresses(m.shadow) {
				m.suppressed[key.Code] = struct{}{}
				forward = false
				break
			}
		}
	case held:
		delete(m.suppressed, key.Code)
		forward = false
	}

	for _, b := range m.blocked {
		if m.shadow.endsWith(b.pattern) {
			m.shadow.clear()
			break
		}
	}
	return forward
}

// Start registers the manager's hooks with the pipeline: one for keys, and
// one for buttons if any pattern uses them. When a pattern is blocked the
// hooks capture their devices and reinject through Reinject.
func (m *Manager) Start() error {
	if m.p == nil {
		return errors.New("trigger manager has no pipeline")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrStarted
	}
	if m.ctx.Err() != nil {
		m.ctx, m.cancel = context.WithCancel(context.Background())
	}

	blocked := 0
	buttons := false
	for _, b := range m.bindings {
		if b.block {
			blocked++
		}
		buttons = buttons || b.pattern.usesButtons()
	}

	opts := input.HookOptions{SuppressMultipress: true, Priority: m.opts.Priority}
	if blocked > 0 {
		opts.Capture = true
		opts.Reinject = m.Reinject
	}

	kinds := []input.Kind{input.KindKeys}
	if buttons {
		kinds = append(kinds, input.KindButtons)
	}
	for _, k := range kinds {
		h, err := m.p.RegisterHook(k, m.OnEvent, opts)
		if err == nil {
			err = h.Start()
		}
		if err != nil {
			for _, started := range m.hooks {
				started.Stop()
			}
			m.hooks = nil
			return fmt.Errorf("start %s hook: %w", k, err)
		}
		m.hooks = append(m.hooks, h)
	}

	m.started = true
	logger.Info("Trigger manager started", "bindings", len(m.bindings), "blocked", blocked, "buttons", buttons)
	return nil
}

// Stop detaches the manager's hooks and cancels running actions
func (m *Manager) Stop() error {
	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.started = false
	m.win.clear()
	m.cancel()
	m.mu.Unlock()

	var err error
	for _, h := range hooks {
		if serr := h.Stop(); serr != nil && !errors.Is(serr, input.ErrHookInactive) {
			err = multierr.Append(err, serr)
		}
	}

	m.rmu.Lock()
	m.shadow.clear()
	m.suppressed = make(map[uint16]struct{})
	m.rmu.Unlock()
	return err
}

// Wait blocks until every dispatched action has returned
func (m *Manager) Wait() {
	m.wg.Wait()
}
