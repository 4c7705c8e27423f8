package trigger

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bnema/hookd/internal/input"
	"github.com/bnema/hookd/internal/logger"
)

// Match describes a completed pattern
type Match struct {
	// Hotkey is the string the binding was registered with
	Hotkey  string
	Pattern Pattern
	// Event is the event that completed the pattern
	Event input.KeyEvent
	Time  time.Time
}

// Action runs when a pattern matches. It runs on its own goroutine.
type Action interface {
	Run(ctx context.Context, m Match) error
}

// ActionFunc adapts a function to Action
type ActionFunc func(ctx context.Context, m Match) error

func (f ActionFunc) Run(ctx context.Context, m Match) error { return f(ctx, m) }

// TypeText types literal text through the virtual output
type TypeText struct {
	Text   string
	Output input.VirtualOutput
}

func (a TypeText) Run(ctx context.Context, m Match) error {
	return input.TypeText(a.Output, a.Text)
}

func (a TypeText) String() string { return fmt.Sprintf("type %q", a.Text) }

// Command runs a shell command line with sh -c. HOOKD_HOTKEY holds the
// hotkey that fired it.
type Command struct {
	Line    string
	Timeout time.Duration
}

func (c Command) Run(ctx context.Context, m Match) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Line)
	cmd.Env = append(os.Environ(), "HOOKD_HOTKEY="+m.Hotkey)
	// children that keep the output pipe open must not hold us past the kill
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logger.Debug("Command output", "command", c.Line, "output", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("run %q: %w", c.Line, err)
	}
	return nil
}

func (c Command) String() string { return "run " + c.Line }
