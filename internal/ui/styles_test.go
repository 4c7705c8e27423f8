package ui

import (
	"strings"
	"testing"
)

func TestFormatControl(t *testing.T) {
	tests := []struct {
		name string
		key  string
		desc string
	}{
		{
			name: "basic control",
			key:  "q",
			desc: "Quit",
		},
		{
			name: "longer key",
			key:  "space",
			desc: "Pause",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatControl(tt.key, tt.desc)
			if !strings.Contains(got, tt.key) {
				t.Errorf("FormatControl() missing key %q", tt.key)
			}
			if !strings.Contains(got, tt.desc) {
				t.Errorf("FormatControl() missing description %q", tt.desc)
			}
		})
	}
}

func TestFormatIndicator(t *testing.T) {
	tests := []struct {
		name   string
		active bool
		label  string
		icon   string
	}{
		{
			name:   "active",
			active: true,
			label:  "Running",
			icon:   IconActive,
		},
		{
			name:   "inactive",
			active: false,
			label:  "Stopped",
			icon:   IconInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatIndicator(tt.active, tt.label)
			if !strings.Contains(got, tt.label) {
				t.Errorf("FormatIndicator() missing label %q", tt.label)
			}
			if !strings.Contains(got, tt.icon) {
				t.Errorf("FormatIndicator() missing icon %q", tt.icon)
			}
		})
	}
}

func TestFormatAppHeader(t *testing.T) {
	got := FormatAppHeader("STATUS", "evdev")
	for _, want := range []string{"HOOKD", "STATUS", "evdev", "─"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatAppHeader() missing %q in %q", want, got)
		}
	}

	if strings.Count(FormatAppHeader("WATCH", ""), "\n") != 1 {
		t.Errorf("FormatAppHeader() should be two lines")
	}
}

func TestCreateSeparator(t *testing.T) {
	tests := []struct {
		name  string
		width int
		char  string
		count int
	}{
		{"explicit", 10, "=", 10},
		{"default width", 0, "-", 50},
		{"default char", 5, "", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			char := tt.char
			if char == "" {
				char = "─"
			}
			got := CreateSeparator(tt.width, tt.char)
			if n := strings.Count(got, char); n != tt.count {
				t.Errorf("CreateSeparator() has %d %q, want %d", n, char, tt.count)
			}
		})
	}
}
