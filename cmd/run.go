package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/daemon"
	"github.com/bnema/hookd/internal/ipc"
	"github.com/bnema/hookd/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hookd daemon",
	Long: `Open the input devices, arm the configured hotkeys and serve the control
socket until interrupted.

Hotkeys marked block grab their devices; everything else is re-emitted
through the virtual output. Run 'hookd release', send SIGUSR1 or create
/tmp/hookd-release to drop all grabs at any time.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringP("backend", "b", "", "Device backend: evdev or udev")
	runCmd.Flags().StringP("output", "o", "", "Virtual output: uinput, evdev or none")
	runCmd.Flags().StringSlice("include", nil, "Only use devices whose name or path contains one of these")

	// Bind flags to viper
	viper.BindPFlag("backend.name", runCmd.Flags().Lookup("backend"))
	viper.BindPFlag("backend.output", runCmd.Flags().Lookup("output"))
	viper.BindPFlag("devices.include", runCmd.Flags().Lookup("include"))

	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if ipc.NewClient(cfg.SocketPath()).IsRunning() {
		return fmt.Errorf("hookd is already running (socket %s)", cfg.SocketPath())
	}
	warnUnprivileged()

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return err
	}
	logger.Info("hookd stopped")
	return nil
}
