package input

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jochenvg/go-udev"
)

// udevBackend enumerates through libudev, which only reports initialized
// devices and carries the ID_INPUT_* classification. Devices are opened
// the same way as the evdev backend.
type udevBackend struct {
	dir string
	u   udev.Udev
}

func newUdevBackend(opts BackendOptions) (Backend, error) {
	return &udevBackend{dir: opts.DeviceDir}, nil
}

func (b *udevBackend) Name() string { return "udev" }

func (b *udevBackend) Enumerate() ([]Descriptor, error) {
	e := b.u.NewEnumerate()
	if err := e.AddMatchSubsystem("input"); err != nil {
		return nil, fmt.Errorf("udev match subsystem: %w", err)
	}
	if err := e.AddMatchIsInitialized(); err != nil {
		return nil, fmt.Errorf("udev match initialized: %w", err)
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("udev enumerate: %w", err)
	}

	var descs []Descriptor
	for _, d := range devices {
		node := d.Devnode()
		if node == "" || !strings.HasPrefix(filepath.Base(node), "event") {
			continue
		}
		if filepath.Dir(node) != filepath.Clean(b.dir) {
			continue
		}
		descs = append(descs, udevDescriptor(d))
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Path < descs[j].Path })
	return descs, nil
}

func udevDescriptor(d *udev.Device) Descriptor {
	desc := Descriptor{Path: d.Devnode()}
	parent := d.Parent()
	if parent == nil {
		return desc
	}
	desc.Name = parent.SysattrValue("name")
	desc.Phys = parent.SysattrValue("phys")
	desc.Uniq = parent.SysattrValue("uniq")
	desc.Bustype, desc.Vendor, desc.Product, desc.Version = parseUdevProduct(parent.PropertyValue("PRODUCT"))
	return desc
}

// parseUdevProduct parses the "bustype/vendor/product/version" hex property
func parseUdevProduct(s string) (bus, vendor, product, version uint16) {
	parts := strings.Split(s, "/")
	vals := make([]uint16, 4)
	for i := 0; i < len(parts) && i < 4; i++ {
		v, err := strconv.ParseUint(parts[i], 16, 16)
		if err == nil {
			vals[i] = uint16(v)
		}
	}
	return vals[0], vals[1], vals[2], vals[3]
}

func (b *udevBackend) Open(desc Descriptor) (RawDevice, error) {
	return openEvdevDevice(desc)
}
