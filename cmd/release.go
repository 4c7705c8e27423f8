package cmd

import (
	"fmt"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/ipc"
	"github.com/bnema/hookd/internal/ui"
	"github.com/spf13/cobra"
)

var releaseReason string

// releaseCmd represents the release command
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Drop every grab and stop all hooks",
	Long: `Ask the running daemon to stop every hook and release every grabbed
device, so the keyboard and mouse behave normally again.

Bind it to a key in your compositor. When the socket is unreachable, send
SIGUSR1 to the daemon or create /tmp/hookd-release instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ipc.NewClient(config.Get().SocketPath())
		if err := client.Release(releaseReason); err != nil {
			return fmt.Errorf("failed to release devices: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessStyle.Render(ui.IconSuccess)+" All devices released")
		return nil
	},
}

func init() {
	releaseCmd.Flags().StringVarP(&releaseReason, "reason", "r", "cli", "Reason recorded in the daemon log")
	rootCmd.AddCommand(releaseCmd)
}
