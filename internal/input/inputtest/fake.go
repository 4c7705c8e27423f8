// Package inputtest provides pipe-backed fakes for exercising an
// input.Pipeline without real devices.
package inputtest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bnema/hookd/internal/input"
	"golang.org/x/sys/unix"
)

// Device is an input.RawDevice backed by a pipe. Emit queues raw events and
// makes the read end readable, so the pipeline's epoll loop picks them up.
type Device struct {
	desc input.Descriptor
	caps input.Capabilities
	r, w *os.File
	fd   int

	mu      sync.Mutex
	pending []input.RawEvent
	grabbed bool
	grabErr error
}

// NewDevice creates a fake device. Call Close when done.
func NewDevice(path, name string, caps input.Capabilities) (*Device, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	// reads bypass the os.File so an empty pipe reports EAGAIN
	fd := int(r.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return &Device{
		desc: input.Descriptor{Path: path, Name: name, Vendor: 0x1d6b, Product: 0x0104},
		caps: caps,
		r:    r,
		w:    w,
		fd:   fd,
	}, nil
}

// NewKeyboard creates a fake device that classifies as a keyboard
func NewKeyboard(path string) (*Device, error) {
	var keys []uint16
	for _, n := range input.KeyNames() {
		if input.IsButton(mustCode(n)) {
			continue
		}
		keys = append(keys, mustCode(n))
	}
	return NewDevice(path, "Fake Keyboard", input.Capabilities{Keys: keys})
}

// NewMouse creates a fake device that classifies as a mouse
func NewMouse(path string) (*Device, error) {
	return NewDevice(path, "Fake Mouse", input.Capabilities{
		Keys: []uint16{mustCode("btn_left"), mustCode("btn_right"), mustCode("btn_middle")},
		Rel:  []uint16{input.RelX, input.RelY, input.RelWheel},
	})
}

func mustCode(name string) uint16 {
	code, ok := input.KeyCode(name)
	if !ok {
		panic(fmt.Sprintf("inputtest: unknown key %q", name))
	}
	return code
}

func (d *Device) Descriptor() input.Descriptor     { return d.desc }
func (d *Device) Capabilities() input.Capabilities { return d.caps }
func (d *Device) Fd() int                          { return d.fd }
func (d *Device) ActiveKeys() ([]uint16, error)    { return nil, nil }

// FailGrab makes the next grabs fail with err
func (d *Device) FailGrab(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabErr = err
}

func (d *Device) Grab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.grabErr != nil {
		return d.grabErr
	}
	d.grabbed = true
	return nil
}

func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabbed = false
	return nil
}

// Grabbed reports whether the device is grabbed
func (d *Device) Grabbed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabbed
}

func (d *Device) ReadEvents() ([]input.RawEvent, error) {
	buf := make([]byte, 256)
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out, nil
}

// Close leaves the pipe open so the device can be reopened
func (d *Device) Close() error { return nil }

// Destroy closes both ends of the pipe
func (d *Device) Destroy() {
	d.r.Close()
	d.w.Close()
}

// Emit queues raw events for the next read
func (d *Device) Emit(events ...input.RawEvent) {
	d.mu.Lock()
	d.pending = append(d.pending, events...)
	d.mu.Unlock()
	d.w.Write([]byte{1})
}

// Down emits a key press frame
func (d *Device) Down(name string) {
	d.Emit(input.RawEvent{Type: input.EvKey, Code: mustCode(name), Value: input.ValuePress}, input.SynReportEvent)
}

// Up emits a key release frame
func (d *Device) Up(name string) {
	d.Emit(input.RawEvent{Type: input.EvKey, Code: mustCode(name), Value: input.ValueRelease}, input.SynReportEvent)
}

// Tap emits press then release frames for name
func (d *Device) Tap(name string) {
	d.Down(name)
	d.Up(name)
}

// Chord presses names in order and releases them in reverse
func (d *Device) Chord(names ...string) {
	for _, n := range names {
		d.Down(n)
	}
	for i := len(names) - 1; i >= 0; i-- {
		d.Up(names[i])
	}
}

// Backend serves a fixed, mutable set of fake devices
type Backend struct {
	mu      sync.Mutex
	devices []*Device
}

// NewBackend creates a backend over devices
func NewBackend(devices ...*Device) *Backend {
	return &Backend{devices: devices}
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Enumerate() ([]input.Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	descs := make([]input.Descriptor, 0, len(b.devices))
	for _, d := range b.devices {
		descs = append(descs, d.desc)
	}
	return descs, nil
}

func (b *Backend) Open(desc input.Descriptor) (input.RawDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.desc.Path == desc.Path {
			return d, nil
		}
	}
	return nil, fmt.Errorf("inputtest: no device %s", desc.Path)
}

// Plug adds a device
func (b *Backend) Plug(d *Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, d)
}

// Output records what is written to it
type Output struct {
	mu     sync.Mutex
	events []input.RawEvent
}

func (o *Output) Name() string { return "fake" }
func (o *Output) Close() error { return nil }

func (o *Output) Write(events ...input.RawEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
	return nil
}

// Events returns a copy of everything written
func (o *Output) Events() []input.RawEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]input.RawEvent(nil), o.events...)
}

// KeyWrites returns the values written for the key name, in order
func (o *Output) KeyWrites(name string) []int32 {
	code := mustCode(name)
	var values []int32
	for _, ev := range o.Events() {
		if ev.Type == input.EvKey && ev.Code == code {
			values = append(values, ev.Value)
		}
	}
	return values
}
