package input

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/hookd/internal/logger"
	"go.uber.org/multierr"
)

// Options configures a Pipeline
type Options struct {
	// SelectTimeout bounds each multiplexer wait
	SelectTimeout time.Duration
	// QueueSize is the callback queue buffer
	QueueSize int
	Registry  RegistryOptions
}

type muxGroup int

const (
	groupKeyboards muxGroup = iota
	groupPointers
	groupOther
)

func (g muxGroup) String() string {
	switch g {
	case groupKeyboards:
		return "keyboards"
	case groupPointers:
		return "pointers"
	default:
		return "other"
	}
}

func groupOf(c Category) muxGroup {
	switch c {
	case CategoryKeyboard:
		return groupKeyboards
	case CategoryMouse:
		return groupPointers
	default:
		return groupOther
	}
}

// Pipeline ties the registry, the multiplexers, the queue reader and the
// hooks together. Hook state changes and hot-plug attachment are serialized
// by one mutex.
type Pipeline struct {
	backend  Backend
	out      VirtualOutput
	registry *Registry
	muxes    map[muxGroup]*Multiplexer
	queue    *QueueReader
	kinds    map[Kind]*KindState

	mu     sync.RWMutex
	active map[uint64]*Hook
	nextID uint64
	closed bool
}

// New creates a pipeline. out may be nil for a listen-only pipeline, in
// which case capturing hooks cannot start.
func New(backend Backend, out VirtualOutput, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		backend: backend,
		out:     out,
		muxes:   make(map[muxGroup]*Multiplexer),
		kinds:   make(map[Kind]*KindState),
		active:  make(map[uint64]*Hook),
	}
	for _, k := range kinds {
		p.kinds[k] = newKindState(k)
	}

	for _, g := range []muxGroup{groupKeyboards, groupPointers, groupOther} {
		m, err := NewMultiplexer(g.String(), opts.SelectTimeout, p)
		if err != nil {
			for _, created := range p.muxes {
				created.Close()
			}
			return nil, err
		}
		p.muxes[g] = m
	}

	p.queue = NewQueueReader(opts.QueueSize, p.dispatch)
	p.registry = NewRegistry(backend, opts.Registry)
	p.registry.Subscribe(p)
	return p, nil
}

// Start opens the initial device set and starts hot-plug polling.
// It fails with ErrNoDevices if nothing usable was found.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.registry.Start(ctx); err != nil {
		return fmt.Errorf("start device registry: %w", err)
	}
	return nil
}

func (p *Pipeline) Registry() *Registry     { return p.registry }
func (p *Pipeline) Output() VirtualOutput   { return p.out }
func (p *Pipeline) Kind(k Kind) *KindState  { return p.kinds[k] }
func (p *Pipeline) Devices() []*Device      { return p.registry.Devices() }
func (p *Pipeline) Queue() *QueueReader     { return p.queue }
func (p *Pipeline) BackendName() string     { return p.backend.Name() }

// RegisterHook creates an idle hook
func (p *Pipeline) RegisterHook(kind Kind, cb Callback, opts HookOptions) (*Hook, error) {
	if cb == nil {
		return nil, errors.New("hook callback is nil")
	}
	if _, ok := p.kinds[kind]; !ok {
		return nil, fmt.Errorf("unknown hook kind %d", int(kind))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPipelineClosed
	}
	p.nextID++
	done := make(chan struct{})
	close(done)
	return &Hook{
		id:       p.nextID,
		kind:     kind,
		callback: cb,
		opts:     opts,
		p:        p,
		done:     done,
	}, nil
}

// ActiveHooks returns running hooks ordered by priority
func (p *Pipeline) ActiveHooks() []*Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sortedActiveLocked()
}

func (p *Pipeline) sortedActiveLocked() []*Hook {
	hooks := make([]*Hook, 0, len(p.active))
	for _, h := range p.active {
		hooks = append(hooks, h)
	}
	sortHooks(hooks)
	return hooks
}

func sortHooks(hooks []*Hook) {
	sort.Slice(hooks, func(i, j int) bool {
		if hooks[i].opts.Priority != hooks[j].opts.Priority {
			return hooks[i].opts.Priority < hooks[j].opts.Priority
		}
		return hooks[i].id < hooks[j].id
	})
}

func (p *Pipeline) hooksLocked(ids []uint64) []*Hook {
	hooks := make([]*Hook, 0, len(ids))
	for _, id := range ids {
		if h, ok := p.active[id]; ok {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

func (p *Pipeline) muxFor(dev *Device) *Multiplexer {
	return p.muxes[groupOf(dev.Category())]
}

func (p *Pipeline) startHook(h *Hook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if h.active {
		return ErrHookActive
	}
	if h.opts.Capture && p.out == nil {
		return fmt.Errorf("%w: capturing hooks need a virtual output", ErrTargetUnavailable)
	}

	ks := p.kinds[h.kind]
	if err := ks.activate(h); err != nil {
		return err
	}

	var devices []*Device
	for _, d := range p.registry.Devices() {
		if h.matches(d) {
			devices = append(devices, d)
		}
	}

	if h.opts.Capture {
		var grabbed []*Device
		for _, d := range devices {
			if err := d.Grab(h.id, p.out); err != nil {
				for _, g := range grabbed {
					if uerr := g.Ungrab(h.id, p.out); uerr != nil {
						logger.Warn("Rollback ungrab failed", "device", g.Path(), "error", uerr)
					}
				}
				ks.deactivate(h)
				return err
			}
			grabbed = append(grabbed, d)
		}
	}

	if !h.opts.NoCollect {
		for _, d := range devices {
			p.collectLocked(h, d)
		}
	}

	h.active = true
	h.err = nil
	h.done = make(chan struct{})
	p.active[h.id] = h

	if h.opts.Timeout > 0 {
		done := h.done
		h.timer = time.AfterFunc(h.opts.Timeout, func() {
			p.expire(h, done)
		})
	}

	p.queue.Start()
	logger.Debug("Hook started", "hook", h.id, "kind", h.kind, "devices", len(devices), "capture", h.opts.Capture)
	return nil
}

// expire stops h if it is still in the run that armed the timer
func (p *Pipeline) expire(h *Hook, run chan struct{}) {
	p.mu.RLock()
	current := h.done == run && h.active
	p.mu.RUnlock()
	if !current {
		return
	}
	logger.Debug("Hook timed out", "hook", h.id)
	if err := p.stopHook(h, nil); err != nil && !errors.Is(err, ErrHookInactive) {
		logger.Warn("Stopping timed out hook failed", "hook", h.id, "error", err)
	}
}

func (p *Pipeline) collectLocked(h *Hook, d *Device) {
	if d.Collect(h.id) {
		if err := p.muxFor(d).Add(d); err != nil {
			logger.Warn("Cannot watch device", "device", d.Path(), "error", err)
		}
	}
}

func (p *Pipeline) attachLocked(h *Hook, d *Device) {
	if h.opts.Capture {
		if err := d.Grab(h.id, p.out); err != nil {
			logger.Warn("Cannot grab new device", "hook", h.id, "device", d.Path(), "error", err)
			return
		}
	}
	if !h.opts.NoCollect {
		p.collectLocked(h, d)
	}
}

func (p *Pipeline) stopHook(h *Hook, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !h.active {
		return ErrHookInactive
	}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}

	var err error
	for _, d := range p.registry.Devices() {
		if d.Uncollect(h.id) {
			p.muxFor(d).Remove(d)
		}
		err = multierr.Append(err, d.Ungrab(h.id, p.out))
	}

	p.kinds[h.kind].deactivate(h)
	delete(p.active, h.id)
	h.active = false
	h.err = cause
	close(h.done)

	if cause != nil {
		logger.Warn("Hook stopped", "hook", h.id, "cause", cause)
	} else {
		logger.Debug("Hook stopped", "hook", h.id)
	}
	return err
}

// DevicesChanged attaches active hooks to new devices and detaches lost ones
func (p *Pipeline) DevicesChanged(found, lost []*Device) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, d := range lost {
		p.muxFor(d).Remove(d)
		d.Forget(p.out)
	}
	hooks := p.sortedActiveLocked()
	for _, d := range found {
		if d.Category() == CategorySelf {
			continue
		}
		for _, h := range hooks {
			if h.matches(d) {
				p.attachLocked(h, d)
			}
		}
	}
}

// deliver runs on a multiplexer goroutine for every decoded event
func (p *Pipeline) deliver(dev *Device, ev Event) {
	if dev.Grabbed() {
		p.reinject(dev, ev)
	}
	p.queue.Push(dev, ev)
}

// reinject decides whether a grabbed event is written back. Events no
// capturing hook accepts pass through unchanged. Otherwise the highest
// priority capturing hook with a reinject function decides, and without
// one the event is suppressed.
func (p *Pipeline) reinject(dev *Device, ev Event) {
	p.mu.RLock()
	var capturers []*Hook
	for _, h := range p.hooksLocked(dev.Grabbers()) {
		if h.kind.Accepts(ev) {
			capturers = append(capturers, h)
		}
	}
	p.mu.RUnlock()

	if len(capturers) == 0 {
		p.write(ev)
		return
	}
	sortHooks(capturers)

	var decider *Hook
	for _, h := range capturers {
		if h.opts.Reinject != nil {
			decider = h
			break
		}
	}
	if decider == nil {
		return
	}

	forward, panicked := callReinject(decider, ev)
	if panicked != nil {
		logger.Error("Reinject function panicked, stopping hook", "hook", decider.id, "event", ev, "panic", panicked)
		cause := fmt.Errorf("%w: %v", ErrReinjectPanic, panicked)
		if err := p.stopHook(decider, cause); err != nil && !errors.Is(err, ErrHookInactive) {
			logger.Error("Emergency stop incomplete", "hook", decider.id, "error", err)
		}
		return
	}
	if forward {
		p.write(ev)
	}
}

func callReinject(h *Hook, ev Event) (forward bool, panicked interface{}) {
	defer func() {
		if r := recover(); r != nil {
			forward, panicked = false, r
		}
	}()
	return h.opts.Reinject(ev), nil
}

func (p *Pipeline) write(ev Event) {
	if p.out == nil {
		return
	}
	raws := append(append([]RawEvent(nil), ev.RawEvents()...), SynReportEvent)
	if err := p.out.Write(raws...); err != nil {
		logger.Warn("Reinjection failed", "event", ev, "error", err)
	}
}

// dispatch runs on the queue reader goroutine
func (p *Pipeline) dispatch(dev *Device, ev Event) {
	p.mu.RLock()
	var hooks []*Hook
	for _, h := range p.hooksLocked(dev.Collectors()) {
		if h.kind.Accepts(ev) {
			hooks = append(hooks, h)
		}
	}
	p.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	sortHooks(hooks)

	annotated := make(map[Kind]Event, 2)
	for _, h := range hooks {
		if _, ok := annotated[h.kind]; !ok {
			annotated[h.kind] = p.kinds[h.kind].Observe(ev)
		}
	}

	for _, h := range hooks {
		if !h.Active() {
			continue
		}
		if h.run(annotated[h.kind]).Blocks() {
			break
		}
	}
}

// deviceGone runs on a multiplexer goroutine after dev was unregistered
func (p *Pipeline) deviceGone(dev *Device, err error) {
	logger.Warn("Input device disconnected", "device", dev.Path(), "name", dev.Name(), "error", err)
	p.mu.Lock()
	defer p.mu.Unlock()
	dev.Forget(p.out)
}

// deviceFailed runs when decoding or enqueueing panicked for dev. It must
// not panic itself.
func (p *Pipeline) deviceFailed(dev *Device, recovered interface{}) {
	logger.Error("Device processing panicked, releasing device", "device", dev.Path(), "panic", recovered)
	if err := p.emergencyUnwind(dev); err != nil {
		logger.Error("Emergency unwind incomplete", "device", dev.Path(), "error", err)
	}
}

func (p *Pipeline) emergencyUnwind(dev *Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, fmt.Errorf("unwind panicked: %v", r))
		}
	}()

	for _, m := range p.muxes {
		m.Remove(dev)
	}
	ids := dev.Forget(p.out)
	err = multierr.Append(err, dev.ReleaseActiveKeys(p.out))

	p.mu.RLock()
	hooks := p.hooksLocked(ids)
	p.mu.RUnlock()

	cause := fmt.Errorf("%w: %s", ErrDeviceFault, dev.Path())
	for _, h := range hooks {
		if serr := p.stopHook(h, cause); serr != nil && !errors.Is(serr, ErrHookInactive) {
			err = multierr.Append(err, serr)
		}
	}
	return err
}

// ReleaseAll stops every hook and drops every grab. It is the escape hatch
// behind the release command, SIGUSR1 and the release file.
func (p *Pipeline) ReleaseAll(reason string) error {
	logger.Warn("Releasing all hooks and grabs", "reason", reason)

	var err error
	for _, h := range p.ActiveHooks() {
		if serr := p.stopHook(h, nil); serr != nil && !errors.Is(serr, ErrHookInactive) {
			err = multierr.Append(err, serr)
		}
	}
	for _, d := range p.registry.Devices() {
		if d.Grabbed() {
			d.Forget(p.out)
		}
	}
	return err
}

// Close releases everything and stops all goroutines. The virtual output
// belongs to the caller and stays open.
func (p *Pipeline) Close() error {
	err := p.ReleaseAll("shutdown")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return err
	}
	p.closed = true
	p.mu.Unlock()

	p.registry.Stop()
	for _, m := range p.muxes {
		err = multierr.Append(err, m.Close())
	}
	p.queue.Close()
	return multierr.Append(err, p.registry.Close())
}
