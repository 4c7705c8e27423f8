package input

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/hookd/internal/logger"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// drainLimit bounds how many buffered reads a first collector discards
const drainLimit = 64

// maxReadFailures is how many reads in a row may fail before the device is
// treated as gone
const maxReadFailures = 5

// Device is an open input device shared by hooks. Grabs and collections
// are reference counted per hook: the first grabber takes the OS grab and
// the last one releases it, the first collector registers the device for
// reading and the last one unregisters it.
type Device struct {
	raw      RawDevice
	desc     Descriptor
	category Category

	// readMu serializes raw reads; taken after mu when both are held
	readMu sync.Mutex

	mu         sync.Mutex
	grabbed    bool
	grabbers   map[uint64]struct{}
	collectors map[uint64]struct{}
	held       map[uint16]struct{}
	decoder    decoder
	misses     int
	failures   int
	gone       bool
	closed     bool
}

func newDevice(raw RawDevice, category Category) *Device {
	desc := raw.Descriptor()
	return &Device{
		raw:        raw,
		desc:       desc,
		category:   category,
		grabbers:   make(map[uint64]struct{}),
		collectors: make(map[uint64]struct{}),
		held:       make(map[uint16]struct{}),
		decoder:    decoder{source: desc},
	}
}

func (d *Device) Descriptor() Descriptor     { return d.desc }
func (d *Device) Category() Category         { return d.category }
func (d *Device) Path() string               { return d.desc.Path }
func (d *Device) Name() string               { return d.desc.Name }
func (d *Device) Capabilities() Capabilities { return d.raw.Capabilities() }
func (d *Device) Fd() int                    { return d.raw.Fd() }

func (d *Device) String() string {
	return fmt.Sprintf("%s [%s]", d.desc, d.category)
}

// Grabbed reports whether this process holds the OS grab
func (d *Device) Grabbed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabbed
}

// Gone reports whether reading failed because the node disappeared
func (d *Device) Gone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone
}

// Grabbers returns the ids of hooks holding a grab
func (d *Device) Grabbers() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedIDs(d.grabbers)
}

// Collectors returns the ids of hooks reading this device
func (d *Device) Collectors() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedIDs(d.collectors)
}

// Grab registers hook id as a grabber. The first grabber probes for a
// foreign grab, releases keys the user is holding through out so they do
// not stay stuck once the physical releases are swallowed, then takes the
// grab.
func (d *Device) Grab(id uint64, out VirtualOutput) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gone || d.closed {
		return fmt.Errorf("%s: %w", d.desc.Path, ErrDeviceGone)
	}
	if _, ok := d.grabbers[id]; ok {
		return nil
	}
	if !d.grabbed {
		// probe so a conflict fails before any synthetic release is written
		if err := d.raw.Grab(); err != nil {
			return grabError(d.desc, err)
		}
		if err := d.raw.Release(); err != nil {
			logger.Debug("Probe release failed", "device", d.desc.Path, "error", err)
		}

		if out != nil {
			if err := d.releaseActiveKeysLocked(out); err != nil {
				logger.Warn("Could not release held keys before grab", "device", d.desc.Path, "error", err)
			}
		}

		if err := d.raw.Grab(); err != nil {
			return grabError(d.desc, err)
		}
		d.grabbed = true
		logger.Debug("Grabbed device", "device", d.desc.Path)
	}
	d.grabbers[id] = struct{}{}
	return nil
}

func grabError(desc Descriptor, err error) error {
	if errors.Is(err, unix.EBUSY) {
		return fmt.Errorf("%s: %w", desc.Path, ErrGrabbedElsewhere)
	}
	return fmt.Errorf("grab %s: %w", desc.Path, err)
}

// Ungrab drops hook id. The last grabber releases the OS grab; if that
// fails the held keys are released through out.
func (d *Device) Ungrab(id uint64, out VirtualOutput) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.grabbers[id]; !ok {
		return nil
	}
	delete(d.grabbers, id)
	if len(d.grabbers) > 0 || !d.grabbed {
		return nil
	}
	return d.releaseGrabLocked(out)
}

func (d *Device) releaseGrabLocked(out VirtualOutput) error {
	d.grabbed = false
	if d.closed {
		return nil
	}
	if err := d.raw.Release(); err != nil {
		logger.Warn("Failed to release grab", "device", d.desc.Path, "error", err)
		if out != nil {
			return multierr.Append(err, d.releaseActiveKeysLocked(out))
		}
		return err
	}
	logger.Debug("Released device", "device", d.desc.Path)
	return nil
}

// Collect registers hook id as a reader. It returns true for the first
// collector, after discarding whatever the kernel buffered while nobody
// was listening; the caller then adds the device to a multiplexer.
func (d *Device) Collect(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.collectors[id]; ok {
		return false
	}
	first := len(d.collectors) == 0
	d.collectors[id] = struct{}{}
	if first {
		d.drainLocked()
	}
	return first
}

// Uncollect drops hook id and returns true if it was the last collector
func (d *Device) Uncollect(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.collectors[id]; !ok {
		return false
	}
	delete(d.collectors, id)
	return len(d.collectors) == 0
}

func (d *Device) drainLocked() {
	if d.gone || d.closed {
		return
	}
	d.readMu.Lock()
	defer d.readMu.Unlock()
	for i := 0; i < drainLimit; i++ {
		ok, err := readable(d.raw.Fd())
		if err != nil || !ok {
			break
		}
		if _, err := d.raw.ReadEvents(); err != nil {
			break
		}
	}
	d.decoder = decoder{source: d.desc}
}

// ReleaseActiveKeys writes a release for every key held on this device
func (d *Device) ReleaseActiveKeys(out VirtualOutput) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseActiveKeysLocked(out)
}

func (d *Device) releaseActiveKeysLocked(out VirtualOutput) error {
	if out == nil {
		return nil
	}

	var codes []uint16
	fromKernel := false
	if !d.closed {
		if active, err := d.raw.ActiveKeys(); err == nil {
			codes, fromKernel = active, true
		} else {
			logger.Debug("EVIOCGKEY failed, using tracked keys", "device", d.desc.Path, "error", err)
		}
	}
	if !fromKernel {
		codes = sortedCodes(d.held)
	}

	var err error
	for _, code := range codes {
		err = multierr.Append(err, out.Write(
			RawEvent{Type: EvKey, Code: code, Value: ValueRelease},
			SynReportEvent,
		))
	}
	d.held = make(map[uint16]struct{})
	if len(codes) > 0 {
		logger.Debug("Released held keys", "device", d.desc.Path, "count", len(codes))
	}
	return err
}

// ReadAndDecode reads what the kernel buffered and decodes it. It returns
// ErrDeviceGone once the node has disappeared or maxReadFailures reads in a
// row have failed.
func (d *Device) ReadAndDecode() ([]Event, error) {
	d.readMu.Lock()
	raws, err := d.raw.ReadEvents()
	d.readMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.failures++
		if isGoneError(err) || d.failures >= maxReadFailures {
			d.gone = true
			return nil, fmt.Errorf("%s: %w: %v", d.desc.Path, ErrDeviceGone, err)
		}
		return nil, fmt.Errorf("read %s: %w", d.desc.Path, err)
	}
	d.failures = 0
	for _, r := range raws {
		if r.Type != EvKey {
			continue
		}
		if r.Value == ValueRelease {
			delete(d.held, r.Code)
		} else {
			d.held[r.Code] = struct{}{}
		}
	}
	return d.decoder.feed(raws, time.Now()), nil
}

// Forget drops every grabber and collector, releasing the OS grab if it is
// still held, and returns the ids of the hooks that were attached.
func (d *Device) Forget(out VirtualOutput) []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make(map[uint64]struct{}, len(d.grabbers)+len(d.collectors))
	for id := range d.grabbers {
		ids[id] = struct{}{}
	}
	for id := range d.collectors {
		ids[id] = struct{}{}
	}
	d.grabbers = make(map[uint64]struct{})
	d.collectors = make(map[uint64]struct{})

	if d.grabbed {
		if d.gone {
			d.grabbed = false
		} else if err := d.releaseGrabLocked(out); err != nil {
			logger.Debug("Release during forget failed", "device", d.desc.Path, "error", err)
		}
	}
	return sortedIDs(ids)
}

// Close closes the underlying device node
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.grabbed = false
	return d.raw.Close()
}

func sortedIDs(m map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedCodes(m map[uint16]struct{}) []uint16 {
	codes := make([]uint16, 0, len(m))
	for c := range m {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
