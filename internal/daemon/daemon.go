// Package daemon runs hookd: the input pipeline, the configured hotkeys,
// the control socket and the emergency release.
package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/input"
	"github.com/bnema/hookd/internal/ipc"
	"github.com/bnema/hookd/internal/logger"
	"github.com/bnema/hookd/internal/trigger"
	"go.uber.org/multierr"
)

// Daemon owns every long running part of hookd
type Daemon struct {
	cfg      *config.Config
	out      input.VirtualOutput
	pipeline *input.Pipeline
	triggers *trigger.Manager
	socket   *ipc.SocketServer

	emergency   *EmergencyRelease
	releaseFile string

	mu      sync.Mutex
	running bool
}

// New builds the backend and the virtual output named in cfg
func New(cfg *config.Config) (*Daemon, error) {
	backend, err := input.NewBackend(cfg.Backend.Name, input.BackendOptions{DeviceDir: cfg.Backend.DeviceDir})
	if err != nil {
		return nil, err
	}

	out, err := input.ResolveOutput(cfg.Backend.Output,
		input.OutputOptions{DeviceName: cfg.Backend.VirtualName}, needsOutput(cfg))
	if err != nil {
		return nil, err
	}
	return newDaemon(cfg, backend, out)
}

func newDaemon(cfg *config.Config, backend input.Backend, out input.VirtualOutput) (*Daemon, error) {
	p, err := input.New(backend, out, PipelineOptions(cfg))
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:         cfg,
		out:         out,
		pipeline:    p,
		releaseFile: DefaultReleaseFile,
	}
	d.triggers = trigger.NewManager(p, trigger.Options{
		BufferSize:        cfg.Triggers.BufferSize,
		DoublePressWindow: cfg.Triggers.DoublePressWindow,
		Aliases:           input.DefaultAliases.Merge(cfg.Aliases),
	})
	if err := d.registerHotkeys(); err != nil {
		p.Close()
		return nil, err
	}
	d.socket = ipc.NewSocketServer(cfg.SocketPath(), d)
	return d, nil
}

// needsOutput reports whether some hotkey cannot work listen-only
func needsOutput(cfg *config.Config) bool {
	for _, hk := range cfg.Hotkeys {
		if hk.Block || hk.Text != "" {
			return true
		}
	}
	return false
}

// PipelineOptions maps the config onto pipeline options
func PipelineOptions(cfg *config.Config) input.Options {
	return input.Options{
		SelectTimeout: cfg.Pipeline.SelectTimeout,
		QueueSize:     cfg.Pipeline.QueueSize,
		Registry: input.RegistryOptions{
			PollInterval: cfg.Devices.PollInterval,
			DeviceDir:    cfg.Backend.DeviceDir,
			Include:      cfg.Devices.Include,
			Exclude:      cfg.Devices.Exclude,
			VirtualName:  cfg.Backend.VirtualName,
		},
	}
}

func (d *Daemon) registerHotkeys() error {
	for i, hk := range d.cfg.Hotkeys {
		action, err := d.actionFor(hk)
		if err != nil {
			return fmt.Errorf("hotkeys[%d] (%s): %w", i, hk.Keys, err)
		}

		var opts []trigger.Option
		if hk.Block {
			opts = append(opts, trigger.WithBlock())
		}
		if hk.Double {
			opts = append(opts, trigger.WithDoublePress())
		}
		if err := d.triggers.RegisterHotkey(hk.Keys, action, opts...); err != nil {
			return fmt.Errorf("hotkeys[%d]: %w", i, err)
		}
	}
	return nil
}

func (d *Daemon) actionFor(hk config.HotkeyConfig) (trigger.Action, error) {
	switch {
	case hk.Text != "":
		if _, err := input.TextEvents(hk.Text); err != nil {
			return nil, err
		}
		return trigger.TypeText{Text: hk.Text, Output: d.out}, nil
	case hk.Command != "":
		return trigger.Command{Line: hk.Command}, nil
	default:
		// a binding without an action still blocks and shows up in status
		return trigger.ActionFunc(func(context.Context, trigger.Match) error { return nil }), nil
	}
}

// Pipeline returns the daemon's pipeline
func (d *Daemon) Pipeline() *input.Pipeline { return d.pipeline }

// Triggers returns the daemon's hotkey manager
func (d *Daemon) Triggers() *trigger.Manager { return d.triggers }

// SocketPath returns the control socket path
func (d *Daemon) SocketPath() string { return d.socket.Path() }

// Start opens the devices, arms the hotkeys and starts serving the control
// socket. Anything started before a failure is stopped again.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already running")
	}

	if err := d.pipeline.Start(ctx); err != nil {
		d.pipeline.Close()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	if len(d.cfg.Hotkeys) > 0 {
		if err := d.triggers.Start(); err != nil {
			d.pipeline.Close()
			return fmt.Errorf("failed to start hotkeys: %w", err)
		}
	}

	if err := d.socket.Start(); err != nil {
		d.triggers.Stop()
		d.pipeline.Close()
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	d.emergency = NewEmergencyRelease(d.HandleRelease, d.releaseFile)
	d.emergency.Start()

	d.running = true
	logger.Info("hookd running",
		"backend", d.pipeline.BackendName(),
		"output", outputName(d.out),
		"devices", len(d.pipeline.Devices()),
		"hotkeys", len(d.cfg.Hotkeys),
		"socket", d.socket.Path())
	return nil
}

// Run starts the daemon and blocks until ctx is done
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("Shutting down", "cause", context.Cause(ctx))
	return d.Stop()
}

// Stop tears everything down in reverse order. The virtual output is
// closed last so releases issued during teardown still reach it.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false

	d.emergency.Stop()
	d.socket.Stop()

	err := d.triggers.Stop()
	d.triggers.Wait()
	err = multierr.Append(err, d.pipeline.Close())
	if d.out != nil {
		err = multierr.Append(err, d.out.Close())
	}
	return err
}

// HandleStatus reports the pipeline and hotkey state to the control socket
func (d *Daemon) HandleStatus() (ipc.Status, error) {
	hooks := d.pipeline.ActiveHooks()
	st := ipc.Status{
		Backend: d.pipeline.BackendName(),
		Output:  outputName(d.out),
		Hooks:   len(hooks),
		Queued:  d.pipeline.Queue().Len(),
	}
	for _, h := range hooks {
		if h.Capturing() {
			st.Capturing++
		}
	}
	for _, dev := range d.pipeline.Devices() {
		st.Devices = append(st.Devices, ipc.DeviceStatus{
			Path:       dev.Path(),
			Name:       dev.Name(),
			Category:   dev.Category().String(),
			Grabbed:    dev.Grabbed(),
			Collectors: len(dev.Collectors()),
		})
	}
	for _, b := range d.triggers.Bindings() {
		st.Hotkeys = append(st.Hotkeys, ipc.HotkeyStatus{
			Hotkey:      b.Hotkey,
			Blocked:     b.Blocked,
			DoublePress: b.DoublePress,
			Fired:       b.Fired,
		})
	}
	return st, nil
}

// HandleRelease drops every hook and grab. Hotkeys stay disabled until the
// daemon is restarted.
func (d *Daemon) HandleRelease(reason string) error {
	err := d.pipeline.ReleaseAll(reason)
	return multierr.Append(err, d.triggers.Stop())
}

func outputName(out input.VirtualOutput) string {
	if out == nil {
		return input.OutputNone
	}
	return out.Name()
}
