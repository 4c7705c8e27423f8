package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/ipc"
	"github.com/bnema/hookd/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running daemon",
	Long:  `Show the devices, hooks and hotkeys of the running hookd daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ipc.NewClient(config.Get().SocketPath())

		status, err := client.Status()
		if errors.Is(err, ipc.ErrNotRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatIndicator(false, "hookd is not running"))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get daemon status: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStatus(status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
