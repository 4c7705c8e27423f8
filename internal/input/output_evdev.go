package input

import (
	"fmt"
	"sync"

	hevdev "github.com/holoplot/go-evdev"
)

// rawOutput creates a uinput device through go-evdev and writes events
// verbatim. Every key code survives reinjection, including buttons the
// uinput mouse has no method for.
type rawOutput struct {
	dev    *hevdev.InputDevice
	mu     sync.Mutex
	closed bool
}

func newEvdevOutput(opts OutputOptions) (VirtualOutput, error) {
	name := opts.DeviceName
	if name == "" {
		name = "hookd virtual input"
	}

	keys := make([]hevdev.EvCode, 0, keyMax)
	for code := hevdev.EvCode(1); code < keyMax; code++ {
		keys = append(keys, code)
	}
	capabilities := map[hevdev.EvType][]hevdev.EvCode{
		hevdev.EV_KEY: keys,
		hevdev.EV_REL: {
			hevdev.REL_X, hevdev.REL_Y, hevdev.REL_HWHEEL, hevdev.REL_WHEEL,
			hevdev.EvCode(RelWheelHiRes), hevdev.EvCode(RelHWheelHiRes),
		},
	}
	id := hevdev.InputID{
		BusType: uint16(hevdev.BUS_VIRTUAL),
		Vendor:  0x1,
		Product: 0x1,
		Version: 1,
	}

	dev, err := hevdev.CreateDevice(name, id, capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual device: %w", err)
	}
	return &rawOutput{dev: dev}, nil
}

func (o *rawOutput) Name() string { return "evdev" }

func (o *rawOutput) Write(events ...RawEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutputClosed
	}
	for _, ev := range events {
		err := o.dev.WriteOne(&hevdev.InputEvent{
			Type:  hevdev.EvType(ev.Type),
			Code:  hevdev.EvCode(ev.Code),
			Value: ev.Value,
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", ev, err)
		}
	}
	return nil
}

func (o *rawOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	return o.dev.Close()
}
