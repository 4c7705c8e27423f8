package input

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeDevice is a RawDevice backed by a pipe. emit queues raw events and
// writes a byte so the real epoll multiplexer sees the fd readable.
type fakeDevice struct {
	desc Descriptor
	caps Capabilities
	r, w *os.File
	fd   int

	mu        sync.Mutex
	pending   []RawEvent
	grabbed   bool
	grabCalls int
	grabErr   error
	active    []uint16
	activeErr error
	closed    bool
	unplugged bool
	readErr   error
}

func newFakeDevice(t *testing.T, path, name string, caps Capabilities) *fakeDevice {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	// Fd switches the pipe to blocking mode, so take it once and undo that
	fd := int(r.Fd())
	require.NoError(t, unix.SetNonblock(fd, true))
	d := &fakeDevice{
		desc: Descriptor{Path: path, Name: name, Vendor: 0x1234, Product: 0x5678},
		caps: caps,
		r:    r,
		w:    w,
		fd:   fd,
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return d
}

func (d *fakeDevice) Descriptor() Descriptor     { return d.desc }
func (d *fakeDevice) Capabilities() Capabilities { return d.caps }
func (d *fakeDevice) Fd() int                    { return d.fd }

func (d *fakeDevice) Grab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabCalls++
	if d.grabErr != nil {
		return d.grabErr
	}
	d.grabbed = true
	return nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabbed = false
	return nil
}

func (d *fakeDevice) isGrabbed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabbed
}

func (d *fakeDevice) ReadEvents() ([]RawEvent, error) {
	d.mu.Lock()
	readErr := d.readErr
	d.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}

	buf := make([]byte, 256)
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if isWouldBlockError(err) {
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

func (d *fakeDevice) ActiveKeys() ([]uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.activeErr
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) emit(events ...RawEvent) {
	d.mu.Lock()
	d.pending = append(d.pending, events...)
	d.mu.Unlock()
	d.w.Write([]byte{1})
}

// failReads makes every read fail with err, leaving the fd readable
func (d *fakeDevice) failReads(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

// unplug closes the write end so the next read returns EOF
func (d *fakeDevice) unplug() {
	d.mu.Lock()
	d.unplugged = true
	d.mu.Unlock()
	d.w.Close()
}

type fakeBackend struct {
	mu      sync.Mutex
	devices []*fakeDevice
	openErr map[string]error
	opens   map[string]int
}

func newFakeBackend(devices ...*fakeDevice) *fakeBackend {
	return &fakeBackend{
		devices: devices,
		openErr: make(map[string]error),
		opens:   make(map[string]int),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Enumerate() ([]Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	descs := make([]Descriptor, 0, len(b.devices))
	for _, d := range b.devices {
		descs = append(descs, d.desc)
	}
	return descs, nil
}

func (b *fakeBackend) Open(desc Descriptor) (RawDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.openErr[desc.Path]; err != nil {
		return nil, err
	}
	for _, d := range b.devices {
		if d.desc.Path == desc.Path {
			b.opens[desc.Path]++
			return d, nil
		}
	}
	return nil, fmt.Errorf("no such device %s", desc.Path)
}

func (b *fakeBackend) plug(d *fakeDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, d)
}

func (b *fakeBackend) remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.devices {
		if d.desc.Path == path {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			return
		}
	}
}

func (b *fakeBackend) openCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[path]
}

// fakeOutput records everything written to it
type fakeOutput struct {
	mu     sync.Mutex
	events []RawEvent
	err    error
}

func (o *fakeOutput) Name() string { return "fake" }

func (o *fakeOutput) Write(events ...RawEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.events = append(o.events, events...)
	return nil
}

func (o *fakeOutput) Close() error { return nil }

func (o *fakeOutput) written() []RawEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RawEvent(nil), o.events...)
}

// keyWrites returns the EV_KEY events written for code
func (o *fakeOutput) keyWrites(code uint16) []RawEvent {
	var out []RawEvent
	for _, ev := range o.written() {
		if ev.Type == EvKey && ev.Code == code {
			out = append(out, ev)
		}
	}
	return out
}

// recorder collects callback events
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) callback(v Verdict) Callback {
	return func(ev Event) Verdict {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		return v
	}
}

func (r *recorder) strings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.String())
	}
	return out
}

func (r *recorder) keys() []KeyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []KeyEvent
	for _, ev := range r.events {
		if k, ok := ev.(KeyEvent); ok {
			out = append(out, k)
		}
	}
	return out
}

func (r *recorder) has(s string) bool {
	for _, got := range r.strings() {
		if got == s {
			return true
		}
	}
	return false
}

func mustCode(t *testing.T, name string) uint16 {
	t.Helper()
	code, ok := KeyCode(name)
	require.True(t, ok, "unknown key %s", name)
	return code
}

func keyboardCaps(t *testing.T) Capabilities {
	var keys []uint16
	for _, n := range []string{"a", "b", "c", "s", "x", "y", "z", "k", "leftctrl", "leftshift", "esc"} {
		keys = append(keys, mustCode(t, n))
	}
	return Capabilities{Keys: keys}
}

func mouseCaps(t *testing.T) Capabilities {
	return Capabilities{
		Keys: []uint16{mustCode(t, "btn_left"), mustCode(t, "btn_right"), mustCode(t, "btn_middle")},
		Rel:  []uint16{RelX, RelY, RelWheel},
	}
}

func keyFrame(t *testing.T, name string, value int32) []RawEvent {
	return []RawEvent{{Type: EvKey, Code: mustCode(t, name), Value: value}, SynReportEvent}
}

func press(t *testing.T, name string) []RawEvent   { return keyFrame(t, name, ValuePress) }
func release(t *testing.T, name string) []RawEvent { return keyFrame(t, name, ValueRelease) }

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testRig struct {
	p       *Pipeline
	backend *fakeBackend
	out     *fakeOutput
}

func newRig(t *testing.T, devices ...*fakeDevice) *testRig {
	t.Helper()
	return newRigWithOutput(t, &fakeOutput{}, devices...)
}

func newRigWithOutput(t *testing.T, out *fakeOutput, devices ...*fakeDevice) *testRig {
	t.Helper()
	backend := newFakeBackend(devices...)

	var vo VirtualOutput
	if out != nil {
		vo = out
	}
	p, err := New(backend, vo, Options{
		SelectTimeout: 10 * time.Millisecond,
		QueueSize:     64,
		Registry: RegistryOptions{
			PollInterval: time.Hour,
			VirtualName:  "hookd virtual",
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Close() })
	return &testRig{p: p, backend: backend, out: out}
}

func (r *testRig) device(t *testing.T, path string) *Device {
	t.Helper()
	for _, d := range r.p.Devices() {
		if d.Path() == path {
			return d
		}
	}
	t.Fatalf("device %s not registered", path)
	return nil
}
