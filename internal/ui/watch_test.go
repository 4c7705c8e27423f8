package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bnema/hookd/internal/input"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func keyEvent(device, name string, press bool) input.KeyEvent {
	code, _ := input.KeyCode(name)
	return input.KeyEvent{
		Meta:  input.Meta{Source: input.Descriptor{Path: "/dev/input/event0", Name: device}, Time: time.Now()},
		Name:  name,
		Code:  code,
		Press: press,
	}
}

func moveEvent(device string, dx, dy int32) input.MoveEvent {
	return input.MoveEvent{
		Meta:     input.Meta{Source: input.Descriptor{Path: "/dev/input/event1", Name: device}, Time: time.Now()},
		DX:       dx,
		DY:       dy,
		Relative: true,
	}
}

func send(m *WatchModel, msgs ...tea.Msg) {
	for _, msg := range msgs {
		m.Update(msg)
	}
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestWatchModelRecordsEvents(t *testing.T) {
	m := NewWatchModel("evdev", 2)
	send(m,
		EventMsg{Event: keyEvent("Keyboard", "a", true)},
		EventMsg{Event: keyEvent("Keyboard", "a", false)},
		EventMsg{Event: moveEvent("Mouse", 3, -1)},
	)

	assert.Equal(t, 3, m.Total())
	view := m.View()
	assert.Contains(t, view, "a press")
	assert.Contains(t, view, "a release")
	assert.Contains(t, view, "move +3,-1")
	assert.Contains(t, view, "2 devices")
	assert.Contains(t, view, "3 events")
}

func TestWatchModelPause(t *testing.T) {
	m := NewWatchModel("evdev", 1)
	send(m, runeKey('p'))
	assert.True(t, m.Paused())

	send(m, EventMsg{Event: keyEvent("Keyboard", "a", true)})
	assert.Equal(t, 0, m.Total())
	assert.Contains(t, m.View(), "paused")

	send(m, runeKey('p'), EventMsg{Event: keyEvent("Keyboard", "b", true)})
	assert.False(t, m.Paused())
	assert.Equal(t, 1, m.Total())
}

func TestWatchModelHideMotionAndClear(t *testing.T) {
	m := NewWatchModel("evdev", 1)
	send(m, runeKey('m'), EventMsg{Event: moveEvent("Mouse", 1, 1)})
	assert.Equal(t, 0, m.Total())

	send(m, EventMsg{Event: keyEvent("Mouse", "btn_left", true)})
	assert.Equal(t, 1, m.Total())

	send(m, runeKey('c'))
	assert.Equal(t, 0, m.Total())
	assert.Contains(t, m.View(), "Waiting for input")
}

func TestWatchModelKeepsRecentEvents(t *testing.T) {
	m := NewWatchModel("evdev", 1)
	m.maxEvents = 3
	for _, name := range []string{"a", "b", "c", "d"} {
		m.AddEvent(keyEvent("Keyboard", name, true))
	}
	assert.Len(t, m.events, 3)
	assert.Equal(t, 4, m.Total())
	assert.NotContains(t, m.renderEvents(10), "a press")
}

func TestWatchModelQuit(t *testing.T) {
	for _, key := range []tea.KeyMsg{runeKey('q'), {Type: tea.KeyCtrlC}, {Type: tea.KeyEsc}} {
		m := NewWatchModel("evdev", 1)
		_, cmd := m.Update(key)
		if assert.NotNil(t, cmd, key.String()) {
			assert.Equal(t, tea.Quit(), cmd(), key.String())
		}
	}
}

func TestWatchModelMessages(t *testing.T) {
	m := NewWatchModel("udev", 1)
	send(m, DeviceCountMsg(4), ErrorMsg{Err: errors.New("device gone")})
	view := m.View()
	assert.Contains(t, view, "4 devices")
	assert.Contains(t, view, "device gone")

	send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, EventMsg{Event: keyEvent("Keyboard", "x", true)})
	assert.NotContains(t, m.View(), "device gone")
	assert.Equal(t, 40, m.windowHeight)
}

func TestFormatEvent(t *testing.T) {
	repeat := keyEvent("Keyboard", "a", true)
	repeat.Repeat = true
	multi := keyEvent("Keyboard", "b", true)
	multi.Multipress = true

	tests := []struct {
		name string
		ev   input.Event
		want []string
	}{
		{"press", keyEvent("Keyboard", "a", true), []string{"Keyboard", "a press"}},
		{"repeat", repeat, []string{"a repeat"}},
		{"multipress", multi, []string{"b press", "(multipress)"}},
		{"move", moveEvent("Mouse", -2, 5), []string{"Mouse", "move -2,+5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatEvent(tt.ev)
			for _, w := range tt.want {
				assert.True(t, strings.Contains(got, w), "%q missing %q", got, w)
			}
		})
	}
}
