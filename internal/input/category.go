package input

import (
	"strings"

	evdev "github.com/gvalkov/golang-evdev"
)

// Category is the coarse device class hooks are matched against
type Category int

const (
	CategoryOther Category = iota
	CategoryKeyboard
	CategoryMouse
	CategoryPower
	CategoryLid
	// CategorySelf is our own virtual output; it is never attached
	CategorySelf
)

func (c Category) String() string {
	switch c {
	case CategoryKeyboard:
		return "keyboard"
	case CategoryMouse:
		return "mouse"
	case CategoryPower:
		return "power"
	case CategoryLid:
		return "lid"
	case CategorySelf:
		return "self"
	default:
		return "other"
	}
}

// Classify decides a device's category from its name and capabilities
func Classify(desc Descriptor, caps Capabilities, virtualName string) Category {
	name := strings.ToLower(desc.Name)

	if virtualName != "" && strings.HasPrefix(desc.Name, virtualName) {
		return CategorySelf
	}
	if strings.Contains(name, "lid switch") {
		return CategoryLid
	}
	if strings.Contains(name, "power button") || strings.Contains(name, "sleep button") {
		return CategoryPower
	}

	if caps.HasKey(uint16(evdev.KEY_A)) && caps.HasKey(uint16(evdev.KEY_Z)) {
		return CategoryKeyboard
	}

	hasLeft := caps.HasKey(uint16(evdev.BTN_LEFT))
	if hasLeft && caps.HasRel(RelX) && caps.HasRel(RelY) {
		return CategoryMouse
	}
	// touchpads and tablets
	if (hasLeft || caps.HasKey(uint16(evdev.BTN_TOUCH))) && caps.HasAbs(AbsX) && caps.HasAbs(AbsY) {
		return CategoryMouse
	}

	if caps.HasKey(uint16(evdev.KEY_POWER)) && len(caps.Keys) <= 2 {
		return CategoryPower
	}
	return CategoryOther
}

// Inspect opens desc just long enough to classify it
func Inspect(backend Backend, desc Descriptor, virtualName string) (Category, error) {
	raw, err := backend.Open(desc)
	if err != nil {
		return CategoryOther, err
	}
	defer raw.Close()
	return Classify(desc, raw.Capabilities(), virtualName), nil
}
