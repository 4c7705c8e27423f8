// Package ui provides consistent styling and components for the hookd CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText      = lipgloss.Color("252") // Light gray
	ColorSubtle    = lipgloss.Color("241") // Medium gray
	ColorMuted     = lipgloss.Color("238") // Dark gray
	ColorHighlight = lipgloss.Color("255") // White
)

// Base styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(0, 1)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	ControlKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ControlDescStyle = lipgloss.NewStyle().
				Foreground(ColorText)
)

// Event styles used by the watch view
var (
	PressStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	ReleaseStyle = lipgloss.NewStyle().Foreground(ColorSubtle)
	RepeatStyle  = lipgloss.NewStyle().Foreground(ColorWarning)
	MotionStyle  = lipgloss.NewStyle().Foreground(ColorInfo)
	DeviceStyle  = lipgloss.NewStyle().Foreground(ColorSecondary)
)

// Indicators
const (
	IconActive   = "●"
	IconInactive = "○"
	IconGrabbed  = "■"
	IconSuccess  = "✓"
	IconError    = "✗"
)

// FormatControl renders a key hint like "q - quit"
func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " - " + ControlDescStyle.Render(desc)
}

// FormatIndicator renders a filled or empty dot before label
func FormatIndicator(active bool, label string) string {
	if active {
		return SuccessStyle.Render(IconActive) + " " + label
	}
	return ErrorStyle.Render(IconInactive) + " " + label
}

// FormatAppHeader renders the title line shared by all commands
func FormatAppHeader(title, detail string) string {
	name := lipgloss.NewStyle().Bold(true).Foreground(ColorSecondary).Render("HOOKD")
	head := name + " " + HeaderStyle.Render(title)
	if detail != "" {
		head += " " + SubtleStyle.Render(detail)
	}
	return head + "\n" + CreateSeparator(50, "─")
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}
	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}

func pluralize(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}
