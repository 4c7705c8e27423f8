package ui

import (
	"fmt"
	"strings"

	"github.com/bnema/hookd/internal/ipc"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// DeviceRow is one line of the device table
type DeviceRow struct {
	Path     string
	Name     string
	Category string
	ID       string // vendor:product
	Phys     string
	Included bool
}

func newTable(headers []string, rows [][]string, highlight func(row, col int) bool) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().
					Foreground(ColorPrimary).
					Bold(true).
					Padding(0, 1)
			case col == 0:
				return lipgloss.NewStyle().
					Foreground(ColorInfo).
					Padding(0, 1)
			case highlight != nil && highlight(row, col):
				return lipgloss.NewStyle().
					Foreground(ColorSuccess).
					Bold(true).
					Padding(0, 1)
			default:
				return lipgloss.NewStyle().
					Foreground(ColorText).
					Padding(0, 1)
			}
		}).
		Headers(headers...).
		Rows(rows...)
}

// RenderDevices renders the devices found by a backend. Devices left out
// by the include/exclude filter are marked.
func RenderDevices(backend string, devices []DeviceRow) string {
	var output strings.Builder

	output.WriteString(FormatAppHeader("DEVICES", backend))
	output.WriteString("\n\n")

	if len(devices) == 0 {
		output.WriteString(MutedStyle.Italic(true).Render("No input devices found (are you in the input group?)"))
		return output.String()
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		used := IconSuccess
		if !d.Included {
			used = "filtered"
		}
		rows = append(rows, []string{d.Path, d.Name, d.Category, d.ID, d.Phys, used})
	}
	t := newTable([]string{"PATH", "NAME", "CATEGORY", "ID", "PHYS", "USED"}, rows, func(row, col int) bool {
		return col == 5 && rows[row][5] == IconSuccess
	})
	output.WriteString(t.String())

	output.WriteString("\n\n")
	output.WriteString(SubtleStyle.Render(fmt.Sprintf("Total: %d device%s", len(devices), pluralize(len(devices)))))
	return output.String()
}

// RenderStatus renders what a running daemon reports
func RenderStatus(st ipc.Status) string {
	var output strings.Builder

	output.WriteString(FormatAppHeader("STATUS", st.Backend+" → "+st.Output))
	output.WriteString("\n\n")

	summary := FormatIndicator(true, "Running") + "\n" +
		SubheaderStyle.Render("Active hooks: ") + InfoStyle.Bold(true).Render(fmt.Sprintf("%d", st.Hooks)) + "\n" +
		SubheaderStyle.Render("Capturing: ") + InfoStyle.Render(fmt.Sprintf("%d", st.Capturing)) + "\n" +
		SubheaderStyle.Render("Queued events: ") + InfoStyle.Render(fmt.Sprintf("%d", st.Queued))
	output.WriteString(BoxStyle.Render(summary))
	output.WriteString("\n\n")

	output.WriteString(SubheaderStyle.Render(fmt.Sprintf("Devices (%d)", len(st.Devices))))
	output.WriteString("\n")
	if len(st.Devices) == 0 {
		output.WriteString(MutedStyle.Italic(true).Render("No devices open"))
	} else {
		rows := make([][]string, 0, len(st.Devices))
		for _, d := range st.Devices {
			grab := ""
			if d.Grabbed {
				grab = IconGrabbed + " grabbed"
			}
			rows = append(rows, []string{d.Path, d.Name, d.Category, fmt.Sprintf("%d", d.Collectors), grab})
		}
		t := newTable([]string{"PATH", "NAME", "CATEGORY", "HOOKS", "GRAB"}, rows, func(row, col int) bool {
			return col == 4 && rows[row][4] != ""
		})
		output.WriteString(t.String())
	}
	output.WriteString("\n\n")

	output.WriteString(SubheaderStyle.Render(fmt.Sprintf("Hotkeys (%d)", len(st.Hotkeys))))
	output.WriteString("\n")
	if len(st.Hotkeys) == 0 {
		output.WriteString(MutedStyle.Italic(true).Render("No hotkeys configured"))
	} else {
		rows := make([][]string, 0, len(st.Hotkeys))
		for _, h := range st.Hotkeys {
			var flags []string
			if h.Blocked {
				flags = append(flags, "block")
			}
			if h.DoublePress {
				flags = append(flags, "double")
			}
			rows = append(rows, []string{h.Hotkey, strings.Join(flags, ","), fmt.Sprintf("%d", h.Fired)})
		}
		output.WriteString(newTable([]string{"HOTKEY", "FLAGS", "FIRED"}, rows, nil).String())
	}

	output.WriteString("\n\n")
	output.WriteString(CreateSeparator(50, "─"))
	output.WriteString("\n")
	output.WriteString(SubtleStyle.Render("Use 'hookd release' to drop every grab"))
	return output.String()
}
