package input

import (
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlappingCollectors(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var r1, r2 recorder
	h1, err := rig.p.RegisterHook(KindKeys, r1.callback(Continue), HookOptions{})
	require.NoError(t, err)
	h2, err := rig.p.RegisterHook(KindKeys, r2.callback(Continue), HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h1.Start())
	require.NoError(t, h2.Start())

	dev := rig.device(t, kbd.desc.Path)
	assert.Equal(t, []uint64{h1.ID(), h2.ID()}, dev.Collectors())

	kbd.emit(press(t, "a")...)
	require.Eventually(t, func() bool { return r1.has("a press") && r2.has("a press") }, waitFor, tick)

	require.NoError(t, h1.Stop())
	assert.True(t, rig.p.muxFor(dev).Has(dev), "device stays registered while one collector remains")

	kbd.emit(press(t, "b")...)
	require.Eventually(t, func() bool { return r2.has("b press") }, waitFor, tick)
	assert.False(t, r1.has("b press"))

	require.NoError(t, h2.Stop())
	assert.Empty(t, dev.Collectors())
	assert.False(t, rig.p.muxFor(dev).Has(dev))
}

func TestPressOnlyHookNeverSeesRelease(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var presses, all recorder
	hp, err := rig.p.RegisterHook(KindKeys, presses.callback(Continue), HookOptions{IgnoreRelease: true})
	require.NoError(t, err)
	ha, err := rig.p.RegisterHook(KindKeys, all.callback(Continue), HookOptions{Priority: 1})
	require.NoError(t, err)
	require.NoError(t, hp.Start())
	require.NoError(t, ha.Start())

	kbd.emit(press(t, "a")...)
	kbd.emit(release(t, "a")...)
	require.Eventually(t, func() bool { return all.has("a release") }, waitFor, tick)

	assert.Equal(t, []string{"a press"}, presses.strings())
}

func TestMultipressIsTrackedPerKind(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, rec.callback(Continue), HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	kbd.emit(keyFrame(t, "a", ValueRepeat)...)
	kbd.emit(release(t, "a")...)
	kbd.emit(press(t, "a")...)
	require.Eventually(t, func() bool { return len(rec.keys()) == 4 }, waitFor, tick)

	keys := rec.keys()
	assert.False(t, keys[0].Multipress)
	assert.True(t, keys[1].Multipress)
	assert.True(t, keys[1].Repeat)
	assert.False(t, keys[2].Multipress)
	assert.False(t, keys[3].Multipress, "a release resets multipress")
	assert.Equal(t, []string{"a"}, rig.p.Kind(KindKeys).Pressed())
}

func TestSuppressMultipress(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, rec.callback(Continue), HookOptions{SuppressMultipress: true})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	kbd.emit(keyFrame(t, "a", ValueRepeat)...)
	kbd.emit(keyFrame(t, "a", ValueRepeat)...)
	kbd.emit(release(t, "a")...)
	require.Eventually(t, func() bool { return rec.has("a release") }, waitFor, tick)

	assert.Equal(t, []string{"a press", "a release"}, rec.strings())
}

func TestBlockHidesEventFromLowerPriority(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var low recorder
	// registered first but runs second
	hLow, err := rig.p.RegisterHook(KindKeys, low.callback(Continue), HookOptions{Priority: 10})
	require.NoError(t, err)
	hHigh, err := rig.p.RegisterHook(KindKeys, func(ev Event) Verdict {
		if k, ok := ev.(KeyEvent); ok && k.Name == "a" {
			return Block
		}
		return Continue
	}, HookOptions{Priority: 0})
	require.NoError(t, err)
	assert.Equal(t, 10, hLow.Priority())
	assert.Equal(t, KindKeys, hHigh.Kind())
	assert.False(t, hHigh.Capturing())
	require.NoError(t, hLow.Start())
	require.NoError(t, hHigh.Start())

	kbd.emit(press(t, "a")...)
	kbd.emit(press(t, "b")...)
	require.Eventually(t, func() bool { return low.has("b press") }, waitFor, tick)

	assert.Equal(t, []string{"b press"}, low.strings())
}

func TestReinjectionGating(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, rec.callback(Continue), HookOptions{
		Capture: true,
		Reinject: func(ev Event) bool {
			k, ok := ev.(KeyEvent)
			return !ok || k.Name != "x"
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.Start())
	assert.True(t, kbd.isGrabbed())

	kbd.emit(press(t, "x")...)
	kbd.emit(press(t, "y")...)
	require.Eventually(t, func() bool { return len(rig.out.keyWrites(mustCode(t, "y"))) == 1 }, waitFor, tick)

	assert.Empty(t, rig.out.keyWrites(mustCode(t, "x")), "rejected event must not be written")
	assert.Equal(t, []RawEvent{
		{Type: EvKey, Code: mustCode(t, "y"), Value: ValuePress},
		SynReportEvent,
	}, rig.out.written(), "accepted event is written exactly once, terminated by SYN_REPORT")

	// callbacks still see both
	require.Eventually(t, func() bool { return rec.has("y press") }, waitFor, tick)
	assert.True(t, rec.has("x press"))

	require.NoError(t, h.Stop())
	assert.False(t, kbd.isGrabbed())
}

func TestCaptureWithoutReinjectSuppressesOnlyAcceptedEvents(t *testing.T) {
	caps := keyboardCaps(t)
	caps.Rel = []uint16{RelX, RelY}
	kbd := newFakeDevice(t, "/dev/input/event0", "Keyboard With Nub", caps)
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{Capture: true})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	kbd.emit(RawEvent{Type: EvRel, Code: RelX, Value: 3}, SynReportEvent)
	require.Eventually(t, func() bool { return len(rig.out.written()) > 0 }, waitFor, tick)

	assert.Empty(t, rig.out.keyWrites(mustCode(t, "a")))
	assert.Equal(t, []RawEvent{{Type: EvRel, Code: RelX, Value: 3}, SynReportEvent}, rig.out.written())
}

func TestGrabReleasesHeldKeys(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	kbd.active = []uint16{mustCode(t, "leftctrl")}
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{Capture: true})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	assert.Equal(t, []RawEvent{
		{Type: EvKey, Code: mustCode(t, "leftctrl"), Value: ValueRelease},
		SynReportEvent,
	}, rig.out.written())
}

func TestGrabbedElsewhere(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	kbd.grabErr = syscall.EBUSY
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{
		Capture:  true,
		Reinject: func(Event) bool { return true },
	})
	require.NoError(t, err)

	err = h.Start()
	assert.ErrorIs(t, err, ErrGrabbedElsewhere)
	assert.False(t, h.Active())
	assert.Nil(t, rig.p.Kind(KindKeys).Reinjector(), "failed start frees the reinjector slot")
	assert.Empty(t, rig.device(t, kbd.desc.Path).Collectors())
}

func TestReinjectorConflict(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	opts := HookOptions{Capture: true, Reinject: func(Event) bool { return true }}
	h1, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, opts)
	require.NoError(t, err)
	h2, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, opts)
	require.NoError(t, err)
	hb, err := rig.p.RegisterHook(KindButtons, func(Event) Verdict { return Continue }, opts)
	require.NoError(t, err)

	require.NoError(t, h1.Start())
	assert.ErrorIs(t, h2.Start(), ErrReinjectorConflict)
	assert.NoError(t, hb.Start(), "other kinds have their own slot")

	require.NoError(t, h1.Stop())
	assert.NoError(t, h2.Start())
}

func TestCaptureNeedsOutput(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRigWithOutput(t, nil, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{Capture: true})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Start(), ErrTargetUnavailable)

	listen, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{})
	require.NoError(t, err)
	assert.NoError(t, listen.Start())
}

func TestHookStateErrors(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, h.Stop(), ErrHookInactive)
	assert.NoError(t, h.Join(), "join on an idle hook returns at once")
	require.NoError(t, h.Start())
	assert.ErrorIs(t, h.Start(), ErrHookActive)
	require.NoError(t, h.Stop())
	assert.NoError(t, h.Start(), "hooks can be restarted")
}

func TestTimeoutStopsHook(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	done := make(chan error, 1)
	go func() { done <- h.Join() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("hook did not time out")
	}
	assert.False(t, h.Active())
}

func TestStopVerdict(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var calls atomic.Int32
	h, err := rig.p.RegisterHook(KindKeys, func(ev Event) Verdict {
		calls.Add(1)
		return Stop
	}, HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	require.NoError(t, h.Join())
	assert.False(t, h.Active())
	assert.Equal(t, int32(1), calls.Load())
}

func TestThreadedStopVerdict(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(ev Event) Verdict {
		return Stop
	}, HookOptions{Threaded: true})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	require.Eventually(t, func() bool { return !h.Active() }, waitFor, tick)
	assert.NoError(t, h.Join())
	assert.Empty(t, rig.device(t, kbd.desc.Path).Collectors())
}

func TestCallbackPanicDoesNotStopQueue(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, func(ev Event) Verdict {
		if k := ev.(KeyEvent); k.Name == "a" {
			panic("boom")
		}
		return rec.callback(Continue)(ev)
	}, HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	kbd.emit(press(t, "b")...)
	require.Eventually(t, func() bool { return rec.has("b press") }, waitFor, tick)
	assert.True(t, h.Active())
}

func TestReinjectPanicStopsHook(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{
		Capture:  true,
		Reinject: func(Event) bool { panic("bad reinject") },
	})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	kbd.emit(press(t, "a")...)
	err = h.Join()
	assert.ErrorIs(t, err, ErrReinjectPanic)
	assert.False(t, kbd.isGrabbed())
	assert.Empty(t, rig.out.keyWrites(mustCode(t, "a")))
}

func TestDeviceUnplugMidCollect(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, rec.callback(Continue), HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	dev := rig.device(t, kbd.desc.Path)
	mux := rig.p.muxFor(dev)
	require.True(t, mux.Has(dev))

	kbd.unplug()
	require.Eventually(t, func() bool { return !mux.Has(dev) }, waitFor, tick)
	assert.True(t, dev.Gone())
	assert.Empty(t, dev.Collectors())
	assert.True(t, h.Active(), "hooks survive losing a device")
	require.Eventually(t, func() bool { return !mux.Running() }, waitFor, tick)

	// an empty enumeration is an error, the old set is kept
	rig.backend.remove(kbd.desc.Path)
	assert.ErrorIs(t, rig.p.Registry().Refresh(), ErrNoDevices)
}

func TestPersistentReadErrorDropsDevice(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, rec.callback(Continue), HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	dev := rig.device(t, kbd.desc.Path)
	mux := rig.p.muxFor(dev)
	kbd.failReads(errors.New("input/output error"))
	kbd.emit(press(t, "a")...)

	require.Eventually(t, func() bool { return !mux.Has(dev) }, waitFor, tick)
	assert.True(t, dev.Gone())
	assert.Empty(t, dev.Collectors())
	assert.True(t, h.Active())
	require.Eventually(t, func() bool { return !mux.Running() }, waitFor, tick)
}

func TestHotplugAttachesActiveHooks(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	var rec recorder
	h, err := rig.p.RegisterHook(KindKeys, rec.callback(Continue), HookOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	second := newFakeDevice(t, "/dev/input/event1", "Second Keyboard", keyboardCaps(t))
	mouse := newFakeDevice(t, "/dev/input/event2", "Test Mouse", mouseCaps(t))
	self := newFakeDevice(t, "/dev/input/event3", "hookd virtual input keyboard", keyboardCaps(t))
	rig.backend.plug(second)
	rig.backend.plug(mouse)
	rig.backend.plug(self)
	require.NoError(t, rig.p.Registry().Refresh())

	assert.Equal(t, []uint64{h.ID()}, rig.device(t, second.desc.Path).Collectors())
	assert.Empty(t, rig.device(t, mouse.desc.Path).Collectors(), "keys hooks ignore mice")
	assert.Equal(t, CategorySelf, rig.device(t, self.desc.Path).Category())
	assert.Empty(t, rig.device(t, self.desc.Path).Collectors(), "our own output is never attached")

	second.emit(press(t, "z")...)
	require.Eventually(t, func() bool { return rec.has("z press") }, waitFor, tick)
}

func TestButtonsAndCursorKinds(t *testing.T) {
	mouse := newFakeDevice(t, "/dev/input/event2", "Test Mouse", mouseCaps(t))
	rig := newRig(t, mouse)

	var buttons, cursor recorder
	hb, err := rig.p.RegisterHook(KindButtons, buttons.callback(Continue), HookOptions{})
	require.NoError(t, err)
	hc, err := rig.p.RegisterHook(KindCursor, cursor.callback(Continue), HookOptions{})
	require.NoError(t, err)
	require.NoError(t, hb.Start())
	require.NoError(t, hc.Start())

	mouse.emit(
		RawEvent{Type: EvRel, Code: RelX, Value: 5},
		RawEvent{Type: EvRel, Code: RelY, Value: -2},
		SynReportEvent,
	)
	mouse.emit(press(t, "btn_left")...)
	mouse.emit(RawEvent{Type: EvRel, Code: RelWheel, Value: 1}, SynReportEvent)

	require.Eventually(t, func() bool { return len(buttons.strings()) == 2 && len(cursor.strings()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"btn_left press", "scroll +0,+1"}, buttons.strings())
	assert.Equal(t, []string{"move +5,-2"}, cursor.strings())
}

func TestReleaseAll(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	mouse := newFakeDevice(t, "/dev/input/event1", "Test Mouse", mouseCaps(t))
	rig := newRig(t, kbd, mouse)

	hk, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{Capture: true})
	require.NoError(t, err)
	hb, err := rig.p.RegisterHook(KindButtons, func(Event) Verdict { return Continue }, HookOptions{Capture: true})
	require.NoError(t, err)
	require.NoError(t, hk.Start())
	require.NoError(t, hb.Start())
	require.True(t, kbd.isGrabbed())
	require.True(t, mouse.isGrabbed())

	require.NoError(t, rig.p.ReleaseAll("test"))
	assert.False(t, hk.Active())
	assert.False(t, hb.Active())
	assert.False(t, kbd.isGrabbed())
	assert.False(t, mouse.isGrabbed())
	assert.Empty(t, rig.p.ActiveHooks())
}

func TestEmergencyUnwindStopsDeviceHooks(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	rig := newRig(t, kbd)

	h, err := rig.p.RegisterHook(KindKeys, func(Event) Verdict { return Continue }, HookOptions{Capture: true})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	dev := rig.device(t, kbd.desc.Path)
	assert.NotPanics(t, func() { rig.p.deviceFailed(dev, "decoder exploded") })

	err = h.Join()
	assert.True(t, errors.Is(err, ErrDeviceFault))
	assert.False(t, kbd.isGrabbed())
	assert.False(t, rig.p.muxFor(dev).Has(dev))
}

func TestCustomKindUsesDeviceFilter(t *testing.T) {
	kbd := newFakeDevice(t, "/dev/input/event0", "Test Keyboard", keyboardCaps(t))
	mouse := newFakeDevice(t, "/dev/input/event1", "Test Mouse", mouseCaps(t))
	rig := newRig(t, kbd, mouse)

	var rec recorder
	h, err := rig.p.RegisterHook(KindCustom, rec.callback(Continue), HookOptions{
		Devices: func(desc Descriptor, c Category) bool { return c == CategoryMouse },
	})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	assert.Empty(t, rig.device(t, kbd.desc.Path).Collectors())
	assert.Equal(t, []uint64{h.ID()}, rig.device(t, mouse.desc.Path).Collectors())

	mouse.emit(press(t, "btn_right")...)
	mouse.emit(RawEvent{Type: EvRel, Code: RelX, Value: 1}, SynReportEvent)
	require.Eventually(t, func() bool { return len(rec.strings()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"btn_right press", "move +1,+0"}, rec.strings())
}
