package cmd

import (
	"fmt"
	"os"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "hookd",
		Short: "hookd - keyboard and mouse hooks for Linux",
		Long: `hookd reads keyboard and mouse events straight from the kernel's evdev
devices, runs hotkeys on them and can keep chosen keys from reaching other
applications by grabbing the devices and re-emitting everything else through
a virtual uinput device.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: hookd.toml in /etc/hookd, ~/.config/hookd or .)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level: debug, info, warn, error")
}

// initConfig loads the config once for every command. The --log-level flag
// beats logging.log_level, which beats LOG_LEVEL.
func initConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		config.SetConfigPath(configPath)
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	switch {
	case logLevel != "":
		logger.SetLevel(logLevel)
	case config.Get().Logging.LogLevel != "":
		logger.SetLevel(config.Get().Logging.LogLevel)
	}
	return nil
}

// warnUnprivileged points at the usual fix when device access is likely to fail
func warnUnprivileged() {
	if os.Geteuid() == 0 {
		return
	}
	if f, err := os.OpenFile("/dev/uinput", os.O_WRONLY, 0); err == nil {
		f.Close()
		return
	}
	logger.Warn("Not running as root and /dev/uinput is not writable; devices may be unreadable", "hint", "sudo hookd or join the input group")
}
