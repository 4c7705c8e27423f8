package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"github.com/bnema/hookd/internal/logger"
	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"
)

// evdevEventSize is the size of one struct input_event
var evdevEventSize = int(unsafe.Sizeof(evdev.InputEvent{}))

// evdevBackend enumerates event nodes in a directory and opens them with
// golang-evdev. Identity comes from sysfs so enumeration opens nothing.
type evdevBackend struct {
	dir string
}

func newEvdevBackend(opts BackendOptions) (Backend, error) {
	return &evdevBackend{dir: opts.DeviceDir}, nil
}

func (b *evdevBackend) Name() string { return "evdev" }

func (b *evdevBackend) Enumerate() ([]Descriptor, error) {
	paths, err := filepath.Glob(filepath.Join(b.dir, "event*"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", b.dir, err)
	}
	sort.Strings(paths)

	descs := make([]Descriptor, 0, len(paths))
	for _, path := range paths {
		desc, err := describeNode(path)
		if err != nil {
			// no sysfs entry (containers, custom device dirs): ask the device
			desc, err = describeByOpening(path)
			if err != nil {
				logger.Debug("Skipping input node", "path", path, "error", err)
				continue
			}
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func describeByOpening(path string) (Descriptor, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer dev.File.Close()
	return Descriptor{
		Path:    path,
		Name:    dev.Name,
		Phys:    dev.Phys,
		Bustype: dev.Bustype,
		Vendor:  dev.Vendor,
		Product: dev.Product,
		Version: dev.Version,
	}, nil
}

func (b *evdevBackend) Open(desc Descriptor) (RawDevice, error) {
	return openEvdevDevice(desc)
}

func openEvdevDevice(desc Descriptor) (RawDevice, error) {
	dev, err := evdev.Open(desc.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", desc.Path, err)
	}
	if desc.Name == "" {
		desc.Name = dev.Name
	}
	// Fd puts the file in blocking mode. Reads go straight to the fd so
	// an empty buffer returns EAGAIN instead of parking on the runtime poller.
	fd := int(dev.File.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		dev.File.Close()
		return nil, fmt.Errorf("set nonblocking %s: %w", desc.Path, err)
	}
	return &evdevDevice{
		dev:  dev,
		desc: desc,
		caps: evdevCapabilities(dev),
		fd:   fd,
	}, nil
}

func evdevCapabilities(dev *evdev.InputDevice) Capabilities {
	toCodes := func(ints []int) []uint16 {
		codes := make([]uint16, 0, len(ints))
		for _, c := range ints {
			codes = append(codes, uint16(c))
		}
		return codes
	}
	return Capabilities{
		Keys: toCodes(dev.CapabilitiesFlat[evdev.EV_KEY]),
		Rel:  toCodes(dev.CapabilitiesFlat[evdev.EV_REL]),
		Abs:  toCodes(dev.CapabilitiesFlat[evdev.EV_ABS]),
	}
}

// evdevDevice adapts a golang-evdev InputDevice to RawDevice
type evdevDevice struct {
	dev  *evdev.InputDevice
	desc Descriptor
	caps Capabilities
	fd   int

	closeOnce sync.Once
	closeErr  error
}

func (d *evdevDevice) Descriptor() Descriptor     { return d.desc }
func (d *evdevDevice) Capabilities() Capabilities { return d.caps }
func (d *evdevDevice) Fd() int                    { return d.fd }

func (d *evdevDevice) Grab() error {
	if err := d.dev.Grab(); err != nil {
		return fmt.Errorf("grab %s: %w", d.desc.Path, err)
	}
	return nil
}

func (d *evdevDevice) Release() error {
	if err := d.dev.Release(); err != nil {
		return fmt.Errorf("release %s: %w", d.desc.Path, err)
	}
	return nil
}

func (d *evdevDevice) ReadEvents() ([]RawEvent, error) {
	buf := make([]byte, evdevEventSize*64)
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if isWouldBlockError(err) || err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	return decodeInputEvents(buf[:n])
}

// decodeInputEvents parses whole struct input_event records from buf
func decodeInputEvents(buf []byte) ([]RawEvent, error) {
	events := make([]evdev.InputEvent, len(buf)/evdevEventSize)
	if len(events) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(buf[:len(events)*evdevEventSize])
	if err := binary.Read(r, binary.NativeEndian, events); err != nil {
		return nil, fmt.Errorf("decode input events: %w", err)
	}
	raws := make([]RawEvent, 0, len(events))
	for _, ev := range events {
		raws = append(raws, RawEvent{Type: ev.Type, Code: ev.Code, Value: ev.Value})
	}
	return raws, nil
}

func (d *evdevDevice) ActiveKeys() ([]uint16, error) {
	return activeKeys(uintptr(d.fd))
}

func (d *evdevDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.dev.File.Close()
	})
	return d.closeErr
}
