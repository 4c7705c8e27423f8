package input

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/hookd/internal/logger"
)

// Descriptor identifies an input device independently of its open file
type Descriptor struct {
	Path    string
	Name    string
	Phys    string
	Uniq    string
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// Identity is the key the registry diffs enumerations on. Two descriptors
// with the same identity are treated as the same physical device.
func (d Descriptor) Identity() string {
	return fmt.Sprintf("%s|%04x:%04x|%s|%s|%s", d.Path, d.Vendor, d.Product, d.Uniq, d.Name, d.Phys)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Path)
}

// Capabilities lists the codes a device can emit per event type
type Capabilities struct {
	Keys []uint16
	Rel  []uint16
	Abs  []uint16
}

func (c Capabilities) HasKey(code uint16) bool { return containsCode(c.Keys, code) }
func (c Capabilities) HasRel(code uint16) bool { return containsCode(c.Rel, code) }
func (c Capabilities) HasAbs(code uint16) bool { return containsCode(c.Abs, code) }

func containsCode(codes []uint16, code uint16) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// RawDevice is an open device node as seen by a backend
type RawDevice interface {
	Descriptor() Descriptor
	Capabilities() Capabilities
	// Fd is the descriptor the multiplexer waits on
	Fd() int
	Grab() error
	Release() error
	// ReadEvents returns whatever is buffered. It is only called once Fd is readable.
	ReadEvents() ([]RawEvent, error)
	// ActiveKeys returns the codes the kernel reports as held down
	ActiveKeys() ([]uint16, error)
	Close() error
}

// Backend enumerates and opens devices
type Backend interface {
	Name() string
	Enumerate() ([]Descriptor, error)
	Open(desc Descriptor) (RawDevice, error)
}

// VirtualOutput is where reinjected and synthesized events are written
type VirtualOutput interface {
	Name() string
	// Write emits the events in order. Callers terminate frames with SynReportEvent.
	Write(events ...RawEvent) error
	Close() error
}

// BackendOptions configures device backends
type BackendOptions struct {
	DeviceDir string
}

// OutputOptions configures virtual outputs
type OutputOptions struct {
	// DeviceName is the name the virtual device is created with. The registry
	// recognizes it and never attaches hooks to it.
	DeviceName string
}

// OutputNone disables the virtual output
const OutputNone = "none"

var (
	backendFactories = map[string]func(BackendOptions) (Backend, error){
		"evdev": newEvdevBackend,
		"udev":  newUdevBackend,
	}

	outputFactories = map[string]func(OutputOptions) (VirtualOutput, error){
		"uinput": newUinputOutput,
		"evdev":  newEvdevOutput,
	}
)

// NewBackend creates the named device backend
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	factory, ok := backendFactories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownBackend, name, strings.Join(BackendNames(), ", "))
	}
	if opts.DeviceDir == "" {
		opts.DeviceDir = "/dev/input"
	}
	return factory(opts)
}

// ResolveOutput creates the named virtual output. When required is false an
// unavailable output yields nil without error, so callers can run
// listen-only. When required is true it yields ErrTargetUnavailable.
func ResolveOutput(name string, opts OutputOptions, required bool) (VirtualOutput, error) {
	name = strings.ToLower(name)
	if name == "" || name == OutputNone {
		if required {
			return nil, fmt.Errorf("%w: output disabled", ErrTargetUnavailable)
		}
		return nil, nil
	}

	factory, ok := outputFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: output %q (available: %s)", ErrUnknownBackend, name, strings.Join(OutputNames(), ", "))
	}

	out, err := factory(opts)
	if err != nil {
		if required {
			return nil, fmt.Errorf("%w: %s: %v", ErrTargetUnavailable, name, err)
		}
		logger.Warn("Virtual output unavailable, running listen-only", "output", name, "error", err)
		return nil, nil
	}
	return out, nil
}

// BackendNames lists the registered device backends
func BackendNames() []string {
	return sortedKeys(backendFactories)
}

// OutputNames lists the registered virtual outputs
func OutputNames() []string {
	return sortedKeys(outputFactories)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
