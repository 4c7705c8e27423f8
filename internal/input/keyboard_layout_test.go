package input

import (
	"errors"
	"testing"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tap(code uint16) []RawEvent {
	return []RawEvent{
		{Type: EvKey, Code: code, Value: ValuePress}, SynReportEvent,
		{Type: EvKey, Code: code, Value: ValueRelease}, SynReportEvent,
	}
}

func TestTextEvents(t *testing.T) {
	shiftDown := []RawEvent{{Type: EvKey, Code: evdev.KEY_LEFTSHIFT, Value: ValuePress}, SynReportEvent}
	shiftUp := []RawEvent{{Type: EvKey, Code: evdev.KEY_LEFTSHIFT, Value: ValueRelease}, SynReportEvent}

	tests := []struct {
		name string
		text string
		want [][]RawEvent
	}{
		{"empty", "", nil},
		{"lower", "hi", [][]RawEvent{tap(evdev.KEY_H), tap(evdev.KEY_I)}},
		{"upper", "A", [][]RawEvent{shiftDown, tap(evdev.KEY_A), shiftUp}},
		{"digits and space", "1 0", [][]RawEvent{tap(evdev.KEY_1), tap(evdev.KEY_SPACE), tap(evdev.KEY_0)}},
		{"shifted symbol", "?", [][]RawEvent{shiftDown, tap(evdev.KEY_SLASH), shiftUp}},
		{"newline", "\n", [][]RawEvent{tap(evdev.KEY_ENTER)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var want []RawEvent
			for _, chunk := range tt.want {
				want = append(want, chunk...)
			}
			got, err := TextEvents(tt.text)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	t.Run("untypeable", func(t *testing.T) {
		_, err := TextEvents("café")
		assert.Error(t, err)
	})
}

func TestTypeText(t *testing.T) {
	out := &fakeOutput{}
	require.NoError(t, TypeText(out, "ok"))
	assert.Equal(t, append(tap(evdev.KEY_O), tap(evdev.KEY_K)...), out.written())

	assert.ErrorIs(t, TypeText(nil, "ok"), ErrTargetUnavailable)

	failing := &fakeOutput{err: errors.New("device closed")}
	assert.Error(t, TypeText(failing, "ok"))

	fresh := &fakeOutput{}
	assert.Error(t, TypeText(fresh, "ok\x00"))
	assert.Empty(t, fresh.written(), "nothing is typed when a character cannot be")
}

func TestKeyTap(t *testing.T) {
	ctrl, s := uint16(evdev.KEY_LEFTCTRL), uint16(evdev.KEY_S)
	assert.Equal(t, []RawEvent{
		{Type: EvKey, Code: ctrl, Value: ValuePress}, SynReportEvent,
		{Type: EvKey, Code: s, Value: ValuePress}, SynReportEvent,
		{Type: EvKey, Code: s, Value: ValueRelease}, SynReportEvent,
		{Type: EvKey, Code: ctrl, Value: ValueRelease}, SynReportEvent,
	}, KeyTap(ctrl, s))
	assert.Empty(t, KeyTap())
}
