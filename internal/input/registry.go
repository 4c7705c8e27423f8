package input

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/hookd/internal/logger"
	"go.uber.org/multierr"
)

// lostAfterMisses is how many consecutive polls a device may be missing
// before it is reported lost. One miss is tolerated for nodes that are
// briefly recreated.
const lostAfterMisses = 2

// hotplugSettle delays the early poll after a node appears so udev can
// apply permissions first
const hotplugSettle = 250 * time.Millisecond

// ChangeListener is told about devices appearing and disappearing. Lost
// devices are closed after every listener has returned.
type ChangeListener interface {
	DevicesChanged(found, lost []*Device)
}

// RegistryOptions configures the device registry
type RegistryOptions struct {
	PollInterval time.Duration
	// DeviceDir is watched for early polls; empty disables the watch
	DeviceDir string
	// Include keeps only devices whose name or path contains one of the entries
	Include []string
	// Exclude drops devices whose name or path contains one of the entries
	Exclude []string
	// VirtualName is the name prefix of our own output device
	VirtualName string
}

// Registry keeps the set of open devices in sync with the backend
type Registry struct {
	backend Backend
	opts    RegistryOptions

	mu        sync.Mutex
	devices   map[string]*Device
	listeners []ChangeListener

	pollMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}
	monitor *DeviceMonitor
}

// NewRegistry creates a registry over backend. Nothing is opened until Start or Refresh.
func NewRegistry(backend Backend, opts RegistryOptions) *Registry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Registry{
		backend: backend,
		opts:    opts,
		devices: make(map[string]*Device),
		wake:    make(chan struct{}, 1),
	}
}

// Subscribe registers a listener for later changes
func (r *Registry) Subscribe(l ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Devices returns the current devices sorted by path
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	devs := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devs = append(devs, d)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path() < devs[j].Path() })
	return devs
}

// Poll enumerates once and diffs against the known set. Known identities
// keep their Device; only new identities are opened. ErrNoDevices is
// returned when nothing is enumerated or nothing could be opened, wrapping
// the last open error.
func (r *Registry) Poll() (found, lost []*Device, err error) {
	descs, err := r.backend.Enumerate()
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate devices: %w", err)
	}
	descs = r.filter(descs)
	if len(descs) == 0 {
		return nil, nil, ErrNoDevices
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var openErr error
	seen := make(map[string]struct{}, len(descs))
	for _, desc := range descs {
		id := desc.Identity()
		if existing, ok := r.devices[id]; ok {
			if !existing.Gone() {
				existing.misses = 0
				seen[id] = struct{}{}
				continue
			}
			// read failures marked it gone but the node is back: reopen
			lost = append(lost, existing)
			delete(r.devices, id)
		}

		raw, err := r.backend.Open(desc)
		if err != nil {
			logger.Warn("Cannot open input device", "device", desc.Path, "name", desc.Name, "error", err)
			openErr = err
			continue
		}
		dev := newDevice(raw, Classify(raw.Descriptor(), raw.Capabilities(), r.opts.VirtualName))
		r.devices[id] = dev
		seen[id] = struct{}{}
		found = append(found, dev)
	}

	for id, dev := range r.devices {
		if _, ok := seen[id]; ok {
			continue
		}
		dev.misses++
		if dev.misses >= lostAfterMisses {
			lost = append(lost, dev)
			delete(r.devices, id)
		}
	}

	sortDevices(found)
	sortDevices(lost)
	if len(r.devices) == 0 {
		// enumerated but nothing opened, usually a permission problem
		err = ErrNoDevices
		if openErr != nil {
			err = fmt.Errorf("%w: %w", ErrNoDevices, openErr)
		}
		return found, lost, err
	}
	return found, lost, nil
}

func sortDevices(devs []*Device) {
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path() < devs[j].Path() })
}

func (r *Registry) filter(descs []Descriptor) []Descriptor {
	if len(r.opts.Include) == 0 && len(r.opts.Exclude) == 0 {
		return descs
	}
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if r.opts.Allows(d) {
			out = append(out, d)
		}
	}
	return out
}

// Allows reports whether the include and exclude lists let d through
func (o RegistryOptions) Allows(d Descriptor) bool {
	if len(o.Include) > 0 && !matchesAny(d, o.Include) {
		return false
	}
	return !matchesAny(d, o.Exclude)
}

func matchesAny(d Descriptor, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(d.Name, p) || strings.Contains(d.Path, p) {
			return true
		}
	}
	return false
}

// Refresh polls and notifies listeners of any change
func (r *Registry) Refresh() error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	found, lost, err := r.Poll()
	if len(found) == 0 && len(lost) == 0 {
		return err
	}

	for _, d := range found {
		logger.Info("Input device found", "device", d.Path(), "name", d.Name(), "category", d.Category())
	}
	for _, d := range lost {
		logger.Info("Input device lost", "device", d.Path(), "name", d.Name())
	}

	r.mu.Lock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.DevicesChanged(found, lost)
	}

	for _, d := range lost {
		if err := d.Close(); err != nil {
			logger.Debug("Closing lost device failed", "device", d.Path(), "error", err)
		}
	}
	return err
}

// Start runs the first poll synchronously and returns its error, then keeps
// polling in the background until ctx is done or Stop is called.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Refresh(); err != nil {
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	if r.opts.DeviceDir != "" {
		monitor := NewDeviceMonitor(r.opts.DeviceDir)
		if err := monitor.Start(ctx, r.onDeviceChange); err != nil {
			logger.Debug("Hot-plug watch unavailable, polling only", "error", err)
		} else {
			r.monitor = monitor
		}
	}

	go r.loop(ctx)
	return nil
}

func (r *Registry) onDeviceChange(change DeviceChange) {
	logger.Debug("Device node changed", "path", change.Path, "change", change.Type)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	settle := time.NewTimer(hotplugSettle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			settle.Reset(hotplugSettle)
		case <-settle.C:
			r.backgroundRefresh()
		case <-ticker.C:
			r.backgroundRefresh()
		}
	}
}

func (r *Registry) backgroundRefresh() {
	if err := r.Refresh(); err != nil {
		if errors.Is(err, ErrNoDevices) {
			logger.Error("No usable input devices", "error", err)
			return
		}
		logger.Error("Device poll failed", "error", err)
	}
}

// Stop ends background polling. Devices stay open until Close.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	if r.monitor != nil {
		r.monitor.Stop()
		r.monitor = nil
	}
	r.cancel = nil
}

// Close stops polling and closes every device
func (r *Registry) Close() error {
	r.Stop()

	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	var err error
	for _, d := range devices {
		err = multierr.Append(err, d.Close())
	}
	return err
}
