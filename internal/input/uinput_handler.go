package input

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ThomasT75/uinput"
	"github.com/bnema/hookd/internal/logger"
	"go.uber.org/multierr"
)

// ErrOutputClosed is returned when writing to a closed virtual output
var ErrOutputClosed = errors.New("virtual output is closed")

const uinputPath = "/dev/uinput"

// uinputOutput writes through a virtual keyboard and a virtual mouse.
// Relative motion is buffered until SYN_REPORT so a frame becomes one move.
// Absolute axes have no uinput mouse equivalent and are dropped.
type uinputOutput struct {
	keyboard uinput.Keyboard
	mouse    uinput.Mouse
	mu       sync.Mutex
	closed   bool
	dx, dy   int32
	warnAbs  sync.Once
}

func newUinputOutput(opts OutputOptions) (VirtualOutput, error) {
	name := opts.DeviceName
	if name == "" {
		name = "hookd virtual input"
	}

	keyboard, err := uinput.CreateKeyboard(uinputPath, []byte(name+" keyboard"))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	mouse, err := uinput.CreateMouse(uinputPath, []byte(name+" mouse"))
	if err != nil {
		keyboard.Close()
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}

	return &uinputOutput{keyboard: keyboard, mouse: mouse}, nil
}

func (o *uinputOutput) Name() string { return "uinput" }

func (o *uinputOutput) Write(events ...RawEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutputClosed
	}

	var err error
	for _, ev := range events {
		err = multierr.Append(err, o.writeOne(ev))
	}
	return err
}

func (o *uinputOutput) writeOne(ev RawEvent) error {
	switch ev.Type {
	case EvKey:
		return o.writeKey(ev)
	case EvRel:
		switch ev.Code {
		case RelX:
			o.dx += ev.Value
		case RelY:
			o.dy += ev.Value
		case RelWheel:
			return o.mouse.Wheel(false, ev.Value)
		case RelHWheel:
			return o.mouse.Wheel(true, ev.Value)
		}
	case EvAbs:
		o.warnAbs.Do(func() {
			logger.Warn("uinput output cannot replay absolute motion, use output = \"evdev\"")
		})
	case EvSyn:
		if ev.Code == SynReport && (o.dx != 0 || o.dy != 0) {
			dx, dy := o.dx, o.dy
			o.dx, o.dy = 0, 0
			return o.mouse.Move(dx, dy)
		}
	}
	return nil
}

func (o *uinputOutput) writeKey(ev RawEvent) error {
	press := ev.Value != ValueRelease
	switch ev.Code {
	case uint16(buttonCodes["BTN_LEFT"]):
		if press {
			return o.mouse.LeftPress()
		}
		return o.mouse.LeftRelease()
	case uint16(buttonCodes["BTN_RIGHT"]):
		if press {
			return o.mouse.RightPress()
		}
		return o.mouse.RightRelease()
	case uint16(buttonCodes["BTN_MIDDLE"]):
		if press {
			return o.mouse.MiddlePress()
		}
		return o.mouse.MiddleRelease()
	}
	if press {
		return o.keyboard.KeyDown(int(ev.Code))
	}
	return o.keyboard.KeyUp(int(ev.Code))
}

func (o *uinputOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	return multierr.Combine(o.mouse.Close(), o.keyboard.Close())
}
