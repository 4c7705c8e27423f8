package input

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveOutput(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		out, err := ResolveOutput(OutputNone, OutputOptions{}, false)
		require.NoError(t, err)
		assert.Nil(t, out)

		out, err = ResolveOutput("", OutputOptions{}, false)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("disabled but required", func(t *testing.T) {
		_, err := ResolveOutput(OutputNone, OutputOptions{}, true)
		assert.ErrorIs(t, err, ErrTargetUnavailable)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ResolveOutput("xdotool", OutputOptions{}, false)
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})
}

func TestNewBackend(t *testing.T) {
	_, err := NewBackend("libinput", BackendOptions{})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	b, err := NewBackend("EVDEV", BackendOptions{DeviceDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "evdev", b.Name())

	descs, err := b.Enumerate()
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestBackendNames(t *testing.T) {
	assert.Equal(t, []string{"evdev", "udev"}, BackendNames())
	assert.Equal(t, []string{"evdev", "uinput"}, OutputNames())
}

func TestDescriptorIdentity(t *testing.T) {
	a := Descriptor{Path: "/dev/input/event4", Name: "Keyboard", Vendor: 0x046d, Product: 0xc52b, Phys: "usb-1/input0"}
	b := a
	assert.Equal(t, a.Identity(), b.Identity())

	b.Uniq = "serial"
	assert.NotEqual(t, a.Identity(), b.Identity())

	c := a
	c.Path = "/dev/input/event5"
	assert.NotEqual(t, a.Identity(), c.Identity())

	assert.Equal(t, "/dev/input/event4|046d:c52b||Keyboard|usb-1/input0", a.Identity())
}

func TestEvdevEnumerateFromSysfs(t *testing.T) {
	devDir := t.TempDir()
	sysDir := t.TempDir()

	old := sysfsRoot
	sysfsRoot = sysDir
	t.Cleanup(func() { sysfsRoot = old })

	require.NoError(t, os.WriteFile(filepath.Join(devDir, "event7"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "mouse0"), nil, 0o600))

	node := filepath.Join(sysDir, "event7", "device")
	require.NoError(t, os.MkdirAll(filepath.Join(node, "id"), 0o755))
	files := map[string]string{
		"name":       "Test Keyboard\n",
		"phys":       "usb-0000:00:14.0-1/input0\n",
		"uniq":       "\n",
		"id/bustype": "0003\n",
		"id/vendor":  "046d\n",
		"id/product": "c31c\n",
		"id/version": "0110\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(node, name), []byte(content), 0o644))
	}

	b, err := NewBackend("evdev", BackendOptions{DeviceDir: devDir})
	require.NoError(t, err)
	descs, err := b.Enumerate()
	require.NoError(t, err)
	require.Len(t, descs, 1)

	assert.Equal(t, Descriptor{
		Path:    filepath.Join(devDir, "event7"),
		Name:    "Test Keyboard",
		Phys:    "usb-0000:00:14.0-1/input0",
		Bustype: 0x0003,
		Vendor:  0x046d,
		Product: 0xc31c,
		Version: 0x0110,
	}, descs[0])
}

func TestParseUdevProduct(t *testing.T) {
	bus, vendor, product, version := parseUdevProduct("3/46d/c52b/111")
	assert.Equal(t, uint16(3), bus)
	assert.Equal(t, uint16(0x46d), vendor)
	assert.Equal(t, uint16(0xc52b), product)
	assert.Equal(t, uint16(0x111), version)

	bus, vendor, _, _ = parseUdevProduct("")
	assert.Zero(t, bus)
	assert.Zero(t, vendor)
}

func TestPersistentPath(t *testing.T) {
	dir := t.TempDir()
	event := filepath.Join(dir, "event3")
	require.NoError(t, os.WriteFile(event, nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "by-id"), 0o755))
	link := filepath.Join(dir, "by-id", "usb-Logitech_Keyboard-event-kbd")
	require.NoError(t, os.Symlink("../event3", link))

	assert.Equal(t, link, PersistentPath(event))
	assert.Empty(t, PersistentPath(filepath.Join(dir, "event9")))
}

func TestEvdevReadEvents(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	fd := int(r.Fd())
	require.NoError(t, unix.SetNonblock(fd, true))
	dev := &evdevDevice{fd: fd, desc: Descriptor{Path: "/dev/input/event0"}}

	events, err := dev.ReadEvents()
	require.NoError(t, err, "an empty device is not an error")
	assert.Empty(t, events)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.NativeEndian, []evdev.InputEvent{
		{Type: EvKey, Code: 30, Value: ValuePress},
		{Type: 0, Code: 0, Value: 0},
	}))
	buf.Write([]byte{1, 2, 3})
	_, err = w.Write(buf.Bytes())
	require.NoError(t, err)

	events, err = dev.ReadEvents()
	require.NoError(t, err)
	assert.Equal(t, []RawEvent{{Type: EvKey, Code: 30, Value: ValuePress}, SynReportEvent}, events, "a partial trailing record is ignored")

	w.Close()
	events, err = dev.ReadEvents()
	assert.Empty(t, events)
	assert.True(t, isGoneError(err))
}
