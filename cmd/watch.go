package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/daemon"
	"github.com/bnema/hookd/internal/input"
	"github.com/bnema/hookd/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	watchKinds    []string
	watchDuration time.Duration
	watchPlain    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show input events live",
	Long: `Show keyboard and mouse events as hookd decodes them. Devices are only
read, never grabbed, so everything keeps working normally while you watch.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSliceVarP(&watchKinds, "kinds", "k", []string{"keys", "buttons", "cursor"}, "Hook kinds to watch: keys, buttons, cursor, custom")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this long (0 watches until quit)")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print one line per event instead of the interactive view")
	rootCmd.AddCommand(watchCmd)
}

// deviceCounter keeps the watch view's device count current
type deviceCounter struct {
	n    atomic.Int64
	send func(n int)
}

func (c *deviceCounter) DevicesChanged(found, lost []*input.Device) {
	n := c.n.Add(int64(len(found) - len(lost)))
	go c.send(int(n))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	warnUnprivileged()

	var kinds []input.Kind
	for _, name := range watchKinds {
		k, err := input.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		kinds = append(kinds, k)
	}

	backend, err := input.NewBackend(cfg.Backend.Name, input.BackendOptions{DeviceDir: cfg.Backend.DeviceDir})
	if err != nil {
		return err
	}
	// listen-only: watching never grabs, so no virtual output is needed
	p, err := input.New(backend, nil, daemon.PipelineOptions(cfg))
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}

	var deliver func(ev input.Event)
	var program *tea.Program
	if watchPlain {
		out := cmd.OutOrStdout()
		deliver = func(ev input.Event) { fmt.Fprintln(out, ui.FormatEvent(ev)) }
	} else {
		program = tea.NewProgram(ui.NewWatchModel(p.BackendName(), len(p.Devices())))
		deliver = func(ev input.Event) { program.Send(ui.EventMsg{Event: ev}) }

		counter := &deviceCounter{send: func(n int) { program.Send(ui.DeviceCountMsg(n)) }}
		counter.n.Store(int64(len(p.Devices())))
		p.Registry().Subscribe(counter)
	}

	hooks := make([]*input.Hook, 0, len(kinds))
	for _, k := range kinds {
		h, err := p.RegisterHook(k, func(ev input.Event) input.Verdict {
			deliver(ev)
			return input.Continue
		}, input.HookOptions{Timeout: watchDuration})
		if err == nil {
			err = h.Start()
		}
		if err != nil {
			return fmt.Errorf("start %s hook: %w", k, err)
		}
		hooks = append(hooks, h)
	}

	// quit once every hook has ended, by timeout or by a device fault
	done := make(chan error, 1)
	go func() {
		var err error
		for _, h := range hooks {
			err = multierr.Append(err, h.Join())
		}
		done <- err
	}()

	if watchPlain {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
		case err := <-done:
			if err != nil {
				program.Send(ui.ErrorMsg{Err: err})
			}
		}
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		return err
	}
	return nil
}
