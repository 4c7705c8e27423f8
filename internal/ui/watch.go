package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/hookd/internal/input"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// EventMsg carries one collected event into the watch view
type EventMsg struct {
	Event input.Event
}

// DeviceCountMsg updates the number of devices being watched
type DeviceCountMsg int

// ErrorMsg shows an error in the status bar until the next event
type ErrorMsg struct {
	Err error
}

// WatchModel is the inline live event monitor behind "hookd watch"
type WatchModel struct {
	backend  string
	devices  int
	spinner  spinner.Model
	paused   bool
	hideMove bool
	err      error

	events    []input.Event
	maxEvents int
	counts    map[string]int
	total     int

	windowHeight int
	windowWidth  int
}

// NewWatchModel creates the watch view for a pipeline on backend
func NewWatchModel(backend string, devices int) *WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &WatchModel{
		backend:      backend,
		devices:      devices,
		spinner:      s,
		maxEvents:    200,
		counts:       make(map[string]int),
		windowHeight: 24,
		windowWidth:  80,
	}
}

// AddEvent records ev unless the view is paused
func (m *WatchModel) AddEvent(ev input.Event) {
	if m.paused {
		return
	}
	if _, ok := ev.(input.MoveEvent); ok && m.hideMove {
		return
	}

	m.total++
	m.counts[ev.Origin().Name]++
	m.events = append(m.events, ev)
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// Total returns how many events were recorded
func (m *WatchModel) Total() int { return m.total }

// Paused reports whether new events are ignored
func (m *WatchModel) Paused() bool { return m.paused }

func (m *WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "p", " ":
			m.paused = !m.paused
		case "m":
			m.hideMove = !m.hideMove
		case "c":
			m.events = nil
			m.counts = make(map[string]int)
			m.total = 0
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.windowHeight = msg.Height
		m.windowWidth = msg.Width

	case EventMsg:
		m.err = nil
		m.AddEvent(msg.Event)

	case DeviceCountMsg:
		m.devices = int(msg)

	case ErrorMsg:
		m.err = msg.Err
	}
	return m, nil
}

func (m *WatchModel) View() string {
	var b strings.Builder

	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")

	// status bar, device summary, help line
	available := m.windowHeight - 4
	if available < 1 {
		available = 10
	}
	b.WriteString(m.renderEvents(available))
	b.WriteString("\n")
	b.WriteString(m.renderCounts())
	b.WriteString("\n")
	b.WriteString(strings.Join([]string{
		FormatControl("p", "pause"),
		FormatControl("m", "hide motion"),
		FormatControl("c", "clear"),
		FormatControl("q", "quit"),
	}, "  "))
	return b.String()
}

func (m *WatchModel) renderStatusBar() string {
	var parts []string

	nameStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorSecondary)
	parts = append(parts, nameStyle.Render("HOOKD WATCH"))

	if m.paused {
		parts = append(parts, WarningStyle.Render("paused"))
	} else {
		parts = append(parts, SuccessStyle.Render(m.spinner.View()+" collecting"))
	}

	parts = append(parts, SubtleStyle.Render(m.backend))
	parts = append(parts, TextStyle.Render(fmt.Sprintf("%d device%s", m.devices, pluralize(m.devices))))
	parts = append(parts, TextStyle.Render(fmt.Sprintf("%d event%s", m.total, pluralize(m.total))))

	if m.err != nil {
		parts = append(parts, ErrorStyle.Render(m.err.Error()))
	}

	separator := MutedStyle.Render(" │ ")
	return strings.Join(parts, separator)
}

func (m *WatchModel) renderEvents(maxLines int) string {
	if len(m.events) == 0 {
		return MutedStyle.Render("Waiting for input...")
	}

	start := 0
	if len(m.events) > maxLines {
		start = len(m.events) - maxLines
	}
	lines := make([]string, 0, len(m.events)-start)
	for _, ev := range m.events[start:] {
		lines = append(lines, FormatEvent(ev))
	}
	return strings.Join(lines, "\n")
}

func (m *WatchModel) renderCounts() string {
	if len(m.counts) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.counts))
	for name := range m.counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %d", DeviceStyle.Render(name), m.counts[name]))
	}
	return strings.Join(parts, "  ")
}

// FormatEvent renders one event as a timestamped, colored line
func FormatEvent(ev input.Event) string {
	ts := SubtleStyle.Render(ev.When().Format("15:04:05.000"))
	device := DeviceStyle.Render(fmt.Sprintf("%-24.24s", ev.Origin().Name))

	var body string
	switch e := ev.(type) {
	case input.KeyEvent:
		switch {
		case e.Repeat:
			body = RepeatStyle.Render(e.String())
		case e.Press:
			body = PressStyle.Render(e.String())
		default:
			body = ReleaseStyle.Render(e.String())
		}
		if e.Multipress {
			body += " " + WarningStyle.Render("(multipress)")
		}
	case input.MoveEvent, input.ScrollEvent:
		body = MotionStyle.Render(ev.String())
	default:
		body = TextStyle.Render(ev.String())
	}
	return fmt.Sprintf("%s %s %s", ts, device, body)
}
