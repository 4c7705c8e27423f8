package input

import (
	"fmt"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

// Raw event types and codes used by the decoder
const (
	EvSyn = uint16(evdev.EV_SYN)
	EvKey = uint16(evdev.EV_KEY)
	EvRel = uint16(evdev.EV_REL)
	EvAbs = uint16(evdev.EV_ABS)

	SynReport = uint16(evdev.SYN_REPORT)

	RelX      = uint16(evdev.REL_X)
	RelY      = uint16(evdev.REL_Y)
	RelHWheel = uint16(evdev.REL_HWHEEL)
	RelWheel  = uint16(evdev.REL_WHEEL)

	// high resolution wheel axes, newer than the evdev constant tables
	RelWheelHiRes  = uint16(0x0b)
	RelHWheelHiRes = uint16(0x0c)

	AbsX = uint16(evdev.ABS_X)
	AbsY = uint16(evdev.ABS_Y)
)

// Key event values
const (
	ValueRelease int32 = 0
	ValuePress   int32 = 1
	ValueRepeat  int32 = 2
)

// RawEvent is one kernel input_event without its timestamp
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

func (r RawEvent) String() string {
	return fmt.Sprintf("type=%d code=%d value=%d", r.Type, r.Code, r.Value)
}

// SynReportEvent terminates a frame
var SynReportEvent = RawEvent{Type: EvSyn, Code: SynReport}

// Event is a decoded input event
type Event interface {
	// RawEvents returns the raw events this event was decoded from,
	// without the trailing SYN_REPORT.
	RawEvents() []RawEvent
	Origin() Descriptor
	When() time.Time
	String() string
}

// Meta carries the fields every decoded event has
type Meta struct {
	Source Descriptor
	Time   time.Time
	Raw    []RawEvent
}

func (m Meta) RawEvents() []RawEvent { return m.Raw }
func (m Meta) Origin() Descriptor    { return m.Source }
func (m Meta) When() time.Time       { return m.Time }

// KeyEvent is a key or button press/release.
// An autorepeat is delivered as a press with Repeat set.
type KeyEvent struct {
	Meta
	Name   string
	Code   uint16
	Press  bool
	Repeat bool
	// Multipress is set when the same key was pressed again without an
	// intervening release, as seen by the receiving hook kind.
	Multipress bool
}

func (e KeyEvent) String() string {
	state := "release"
	switch {
	case e.Repeat:
		state = "repeat"
	case e.Press:
		state = "press"
	}
	return fmt.Sprintf("%s %s", e.Name, state)
}

// IsButton reports whether the event comes from a mouse or other button
func (e KeyEvent) IsButton() bool { return IsButton(e.Code) }

// MoveEvent is pointer motion accumulated over one frame
type MoveEvent struct {
	Meta
	DX, DY   int32
	X, Y     int32
	Relative bool
}

func (e MoveEvent) String() string {
	if e.Relative {
		return fmt.Sprintf("move %+d,%+d", e.DX, e.DY)
	}
	return fmt.Sprintf("move to %d,%d", e.X, e.Y)
}

// ScrollEvent is wheel motion accumulated over one frame
type ScrollEvent struct {
	Meta
	DX, DY int32
}

func (e ScrollEvent) String() string {
	return fmt.Sprintf("scroll %+d,%+d", e.DX, e.DY)
}

// Verdict is what a callback tells the queue reader
type Verdict uint8

const (
	// Continue passes the event to the next hook
	Continue Verdict = 0
	// Block hides the event from lower priority hooks
	Block Verdict = 1 << 0
	// Stop stops the hook that returned it
	Stop Verdict = 1 << 1
)

func (v Verdict) Blocks() bool { return v&Block != 0 }
func (v Verdict) Stops() bool  { return v&Stop != 0 }

// decoder turns raw frames into events. Key events are emitted immediately,
// motion and wheel deltas are held until SYN_REPORT.
type decoder struct {
	source Descriptor

	relRaw     []RawEvent
	dx, dy     int32
	absRaw     []RawEvent
	x, y       int32
	scrollRaw  []RawEvent
	sdx, sdy   int32
	haveScroll bool
}

func (d *decoder) feed(raws []RawEvent, now time.Time) []Event {
	var out []Event
	for _, r := range raws {
		switch r.Type {
		case EvKey:
			out = append(out, KeyEvent{
				Meta:   Meta{Source: d.source, Time: now, Raw: []RawEvent{r}},
				Name:   KeyName(r.Code),
				Code:   r.Code,
				Press:  r.Value != ValueRelease,
				Repeat: r.Value == ValueRepeat,
			})
		case EvRel:
			switch r.Code {
			case RelX:
				d.dx += r.Value
				d.relRaw = append(d.relRaw, r)
			case RelY:
				d.dy += r.Value
				d.relRaw = append(d.relRaw, r)
			case RelWheel:
				d.sdy += r.Value
				d.scrollRaw = append(d.scrollRaw, r)
				d.haveScroll = true
			case RelHWheel:
				d.sdx += r.Value
				d.scrollRaw = append(d.scrollRaw, r)
				d.haveScroll = true
			case RelWheelHiRes, RelHWheelHiRes:
				d.scrollRaw = append(d.scrollRaw, r)
				d.haveScroll = true
			}
		case EvAbs:
			switch r.Code {
			case AbsX:
				d.x = r.Value
				d.absRaw = append(d.absRaw, r)
			case AbsY:
				d.y = r.Value
				d.absRaw = append(d.absRaw, r)
			}
		case EvSyn:
			if r.Code == SynReport {
				out = d.flush(out, now)
			}
		}
	}
	return out
}

func (d *decoder) flush(out []Event, now time.Time) []Event {
	if len(d.relRaw) > 0 {
		out = append(out, MoveEvent{
			Meta:     Meta{Source: d.source, Time: now, Raw: d.relRaw},
			DX:       d.dx,
			DY:       d.dy,
			Relative: true,
		})
	}
	if len(d.absRaw) > 0 {
		out = append(out, MoveEvent{
			Meta: Meta{Source: d.source, Time: now, Raw: d.absRaw},
			X:    d.x,
			Y:    d.y,
		})
	}
	if d.haveScroll {
		out = append(out, ScrollEvent{
			Meta: Meta{Source: d.source, Time: now, Raw: d.scrollRaw},
			DX:   d.sdx,
			DY:   d.sdy,
		})
	}
	// absolute position persists across frames
	d.relRaw, d.dx, d.dy = nil, 0, 0
	d.absRaw = nil
	d.scrollRaw, d.sdx, d.sdy, d.haveScroll = nil, 0, 0, false
	return out
}
