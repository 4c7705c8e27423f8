package input

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceGrabIsReferenceCounted(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)
	out := &fakeOutput{}

	require.NoError(t, dev.Grab(1, out))
	require.NoError(t, dev.Grab(2, out))
	require.NoError(t, dev.Grab(2, out), "grabbing twice with one id is a no-op")
	assert.True(t, dev.Grabbed())
	assert.Equal(t, []uint64{1, 2}, dev.Grabbers())
	// probe + real grab, once
	assert.Equal(t, 2, fd.grabCalls)

	require.NoError(t, dev.Ungrab(1, out))
	assert.True(t, fd.isGrabbed())
	require.NoError(t, dev.Ungrab(1, out), "ungrab of unknown id is a no-op")
	require.NoError(t, dev.Ungrab(2, out))
	assert.False(t, fd.isGrabbed())
	assert.False(t, dev.Grabbed())
}

func TestDeviceGrabErrors(t *testing.T) {
	tests := []struct {
		name    string
		grabErr error
		want    error
	}{
		{"busy", syscall.EBUSY, ErrGrabbedElsewhere},
		{"permission", syscall.EACCES, syscall.EACCES},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
			fd.grabErr = tt.grabErr
			fd.active = []uint16{mustCode(t, "a")}
			out := &fakeOutput{}
			dev := newDevice(fd, CategoryKeyboard)

			err := dev.Grab(1, out)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, dev.Grabbed())
			assert.Empty(t, dev.Grabbers())
			assert.Empty(t, out.written(), "a failed probe writes nothing")
		})
	}
}

func TestDeviceGrabReleasesHeldKeys(t *testing.T) {
	t.Run("kernel table", func(t *testing.T) {
		fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
		fd.active = []uint16{mustCode(t, "leftshift"), mustCode(t, "a")}
		out := &fakeOutput{}
		dev := newDevice(fd, CategoryKeyboard)

		require.NoError(t, dev.Grab(1, out))
		assert.Equal(t, []RawEvent{
			{Type: EvKey, Code: mustCode(t, "leftshift"), Value: ValueRelease}, SynReportEvent,
			{Type: EvKey, Code: mustCode(t, "a"), Value: ValueRelease}, SynReportEvent,
		}, out.written())
	})

	t.Run("tracked keys when the ioctl fails", func(t *testing.T) {
		fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
		fd.activeErr = errors.New("ioctl failed")
		out := &fakeOutput{}
		dev := newDevice(fd, CategoryKeyboard)

		fd.emit(press(t, "b")...)
		_, err := dev.ReadAndDecode()
		require.NoError(t, err)

		require.NoError(t, dev.Grab(1, out))
		assert.Equal(t, []RawEvent{
			{Type: EvKey, Code: mustCode(t, "b"), Value: ValueRelease}, SynReportEvent,
		}, out.written())
	})
}

func TestDeviceCollect(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)

	// buffered before anyone listened
	fd.emit(press(t, "a")...)

	assert.True(t, dev.Collect(1), "first collector")
	ok, err := readable(fd.Fd())
	require.NoError(t, err)
	assert.False(t, ok, "stale input is drained on first collect")

	assert.False(t, dev.Collect(2))
	assert.False(t, dev.Collect(2))
	assert.Equal(t, []uint64{1, 2}, dev.Collectors())

	assert.False(t, dev.Uncollect(1))
	assert.False(t, dev.Uncollect(1))
	assert.True(t, dev.Uncollect(2), "last collector")
}

func TestDeviceReadAndDecode(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)

	fd.emit(press(t, "k")...)
	events, err := dev.ReadAndDecode()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "k press", events[0].String())
	assert.Equal(t, fd.desc, events[0].Origin())

	fd.unplug()
	_, err = dev.ReadAndDecode()
	assert.ErrorIs(t, err, ErrDeviceGone)
	assert.True(t, dev.Gone())
	assert.ErrorIs(t, dev.Grab(1, &fakeOutput{}), ErrDeviceGone)
}

func TestDeviceForget(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)
	out := &fakeOutput{}

	require.NoError(t, dev.Grab(3, out))
	dev.Collect(5)
	dev.Collect(3)

	assert.Equal(t, []uint64{3, 5}, dev.Forget(out))
	assert.False(t, fd.isGrabbed())
	assert.Empty(t, dev.Grabbers())
	assert.Empty(t, dev.Collectors())
	assert.Empty(t, dev.Forget(out))
}

func TestDeviceClose(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.True(t, fd.closed)
	assert.ErrorIs(t, dev.Grab(1, nil), ErrDeviceGone)
}

func TestDeviceReadAfterDrainDoesNotBlock(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)

	fd.emit(press(t, "a")...)
	require.True(t, dev.Collect(1))

	// the drain took the buffered frame the read loop was woken for
	done := make(chan struct{})
	go func() {
		defer close(done)
		events, err := dev.ReadAndDecode()
		assert.NoError(t, err)
		assert.Empty(t, events)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("read blocked on an empty device")
	}
}

func TestDeviceReadFailuresMarkGone(t *testing.T) {
	fd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	dev := newDevice(fd, CategoryKeyboard)
	ioErr := errors.New("input/output error")

	fd.failReads(ioErr)
	for i := 0; i < maxReadFailures-1; i++ {
		_, err := dev.ReadAndDecode()
		require.ErrorIs(t, err, ioErr)
		require.NotErrorIs(t, err, ErrDeviceGone)
	}

	// a good read resets the count
	fd.failReads(nil)
	_, err := dev.ReadAndDecode()
	require.NoError(t, err)

	fd.failReads(ioErr)
	for i := 0; i < maxReadFailures-1; i++ {
		_, err := dev.ReadAndDecode()
		require.NotErrorIs(t, err, ErrDeviceGone)
	}
	_, err = dev.ReadAndDecode()
	assert.ErrorIs(t, err, ErrDeviceGone)
	assert.True(t, dev.Gone())
}
