package input

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bnema/hookd/internal/logger"
	"github.com/sourcegraph/conc/panics"
)

// Callback handles one event. The verdict decides whether lower priority
// hooks see it and whether this hook keeps running.
type Callback func(ev Event) Verdict

// HookOptions configure a hook. The zero value listens to everything
// without grabbing.
type HookOptions struct {
	// Capture grabs matching devices so events reach nobody else unless
	// they are reinjected.
	Capture bool
	// NoCollect skips reading. A capturing hook that does not collect
	// simply swallows its devices.
	NoCollect bool
	// Timeout stops the hook automatically after this long
	Timeout time.Duration
	// Priority orders callbacks, lower first. Ties run in registration order.
	Priority int
	// IgnorePress and IgnoreRelease filter key events by direction
	IgnorePress   bool
	IgnoreRelease bool
	// SuppressMultipress drops presses of keys that are already held
	SuppressMultipress bool
	// Threaded runs each callback on its own goroutine. Block has no effect
	// there; Stop still stops the hook.
	Threaded bool
	// Reinject decides, for a capturing hook, whether a grabbed event is
	// written back to the virtual output. Only one hook per kind may set it.
	Reinject func(ev Event) bool
	// Devices narrows the devices the hook attaches to. KindCustom hooks
	// attach to every device it accepts.
	Devices func(desc Descriptor, c Category) bool
}

// Hook is a registered callback. It is idle until Start and returns to idle
// on Stop, on timeout, when its callback returns Stop, or when the pipeline
// tears it down after a fault.
type Hook struct {
	id       uint64
	kind     Kind
	callback Callback
	opts     HookOptions
	p        *Pipeline

	// guarded by p.mu
	active bool
	done   chan struct{}
	err    error
	timer  *time.Timer
}

func (h *Hook) ID() uint64      { return h.id }
func (h *Hook) Kind() Kind      { return h.kind }
func (h *Hook) Capturing() bool { return h.opts.Capture }
func (h *Hook) Priority() int   { return h.opts.Priority }

func (h *Hook) String() string {
	return fmt.Sprintf("hook %d (%s, priority %d)", h.id, h.kind, h.opts.Priority)
}

// Active reports whether the hook is running
func (h *Hook) Active() bool {
	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	return h.active
}

// Start attaches the hook to its devices
func (h *Hook) Start() error {
	return h.p.startHook(h)
}

// Stop detaches the hook
func (h *Hook) Stop() error {
	return h.p.stopHook(h, nil)
}

// Join blocks until the hook is idle. It returns the error that tore the
// hook down, or nil if it was stopped normally.
func (h *Hook) Join() error {
	h.p.mu.RLock()
	done := h.done
	h.p.mu.RUnlock()

	<-done

	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	return h.err
}

// matches reports whether the hook should attach to dev
func (h *Hook) matches(dev *Device) bool {
	if dev.Category() == CategorySelf {
		return false
	}
	if h.opts.Devices != nil && !h.opts.Devices(dev.Descriptor(), dev.Category()) {
		return false
	}
	return h.kind.Matches(dev.Category())
}

// wants applies the direction and multipress filters
func (h *Hook) wants(ev Event) bool {
	key, ok := ev.(KeyEvent)
	if !ok {
		return true
	}
	if key.Press && h.opts.IgnorePress {
		return false
	}
	if !key.Press && h.opts.IgnoreRelease {
		return false
	}
	if key.Multipress && h.opts.SuppressMultipress {
		return false
	}
	return true
}

// run invokes the callback. Panics are logged and treated as Continue.
func (h *Hook) run(ev Event) Verdict {
	if !h.wants(ev) {
		return Continue
	}

	if h.opts.Threaded {
		go func() {
			verdict := Continue
			var catcher panics.Catcher
			catcher.Try(func() { verdict = h.callback(ev) })
			if r := catcher.Recovered(); r != nil {
				logger.Error("Hook callback panicked", "hook", h.id, "event", ev, "panic", r.Value)
				return
			}
			h.stopIf(verdict)
		}()
		return Continue
	}

	verdict := Continue
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Hook callback panicked", "hook", h.id, "event", ev, "panic", r, "stack", string(debug.Stack()))
				verdict = Continue
			}
		}()
		verdict = h.callback(ev)
	}()

	h.stopIf(verdict)
	return verdict
}

func (h *Hook) stopIf(verdict Verdict) {
	if !verdict.Stops() {
		return
	}
	if err := h.Stop(); err != nil {
		logger.Debug("Stop requested by callback", "hook", h.id, "error", err)
	}
}
