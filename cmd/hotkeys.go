package cmd

import (
	"fmt"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/input"
	"github.com/bnema/hookd/internal/trigger"
	"github.com/bnema/hookd/internal/ui"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	hotkeyText    string
	hotkeyCommand string
	hotkeyBlock   bool
	hotkeyDouble  bool
)

var hotkeysCmd = &cobra.Command{
	Use:   "hotkeys",
	Short: "Manage configured hotkeys",
	Long:  `List, add and remove the hotkeys stored in the config file. Restart the daemon to apply changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), renderHotkeys(config.Get().Hotkeys))
		return nil
	},
}

var hotkeysAddCmd = &cobra.Command{
	Use:   "add <keys>",
	Short: "Add or replace a hotkey",
	Long: `Add a hotkey. Keys joined by "+" form a chord; chords separated by spaces
must follow each other, e.g. "ctrl+k ctrl+c".`,
	Example: `  hookd hotkeys add "super+enter" --command foot
  hookd hotkeys add "ctrl+alt+m" --text "me@example.com" --block`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hk := config.HotkeyConfig{
			Keys:    args[0],
			Text:    hotkeyText,
			Command: hotkeyCommand,
			Block:   hotkeyBlock,
			Double:  hotkeyDouble,
		}
		if err := validateHotkey(hk); err != nil {
			return err
		}
		if err := config.AddHotkey(hk); err != nil {
			return fmt.Errorf("failed to save hotkey: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Saved %s to %s\n", ui.SuccessStyle.Render(ui.IconSuccess), hk.Keys, config.GetConfigPath())
		return nil
	},
}

var hotkeysRemoveCmd = &cobra.Command{
	Use:     "remove <keys>",
	Aliases: []string{"rm"},
	Short:   "Remove a hotkey",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.RemoveHotkey(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", ui.SuccessStyle.Render(ui.IconSuccess), args[0])
		return nil
	},
}

func init() {
	hotkeysAddCmd.Flags().StringVarP(&hotkeyText, "text", "t", "", "Text to type when the hotkey fires")
	hotkeysAddCmd.Flags().StringVarP(&hotkeyCommand, "command", "x", "", "Shell command to run when the hotkey fires")
	hotkeysAddCmd.Flags().BoolVarP(&hotkeyBlock, "block", "b", false, "Keep the trigger keys from reaching other applications")
	hotkeysAddCmd.Flags().BoolVarP(&hotkeyDouble, "double", "d", false, "Fire only on a double press")
	hotkeysAddCmd.MarkFlagsMutuallyExclusive("text", "command")

	hotkeysCmd.AddCommand(hotkeysAddCmd, hotkeysRemoveCmd)
	rootCmd.AddCommand(hotkeysCmd)
}

// validateHotkey checks a binding the way the daemon will load it
func validateHotkey(hk config.HotkeyConfig) error {
	aliases := input.DefaultAliases.Merge(config.Get().Aliases)
	if _, err := trigger.ParseHotkey(hk.Keys, aliases); err != nil {
		return err
	}
	if hk.Text != "" && hk.Command != "" {
		return fmt.Errorf("text and command are mutually exclusive")
	}
	if hk.Text != "" {
		if _, err := input.TextEvents(hk.Text); err != nil {
			return err
		}
	}
	return nil
}

func renderHotkeys(hotkeys []config.HotkeyConfig) string {
	if len(hotkeys) == 0 {
		return ui.MutedStyle.Italic(true).Render("No hotkeys configured. Add one with 'hookd hotkeys add'.")
	}

	keyStyle := lipgloss.NewStyle().Foreground(ui.ColorPrimary).Bold(true)
	var out string
	for _, hk := range hotkeys {
		action := "(no action)"
		switch {
		case hk.Text != "":
			action = fmt.Sprintf("type %q", hk.Text)
		case hk.Command != "":
			action = "run " + hk.Command
		}
		line := fmt.Sprintf("  %s %s", keyStyle.Render(hk.Keys), ui.TextStyle.Render(action))
		if hk.Block {
			line += " " + ui.WarningStyle.Render("[block]")
		}
		if hk.Double {
			line += " " + ui.InfoStyle.Render("[double]")
		}
		out += line + "\n"
	}
	return out + ui.SubtleStyle.Render(fmt.Sprintf("Total: %d hotkey%s", len(hotkeys), plural(len(hotkeys))))
}
