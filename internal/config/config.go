// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Backend  BackendConfig     `mapstructure:"backend"`
	Devices  DevicesConfig     `mapstructure:"devices"`
	Pipeline PipelineConfig    `mapstructure:"pipeline"`
	Triggers TriggersConfig    `mapstructure:"triggers"`
	IPC      IPCConfig         `mapstructure:"ipc"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Aliases  map[string]string `mapstructure:"aliases"`
	Hotkeys  []HotkeyConfig    `mapstructure:"hotkeys"`
}

// BackendConfig selects how devices are read and where reinjected events go
type BackendConfig struct {
	Name        string `mapstructure:"name"`         // "evdev" or "udev"
	Output      string `mapstructure:"output"`       // "uinput", "evdev" or "none"
	DeviceDir   string `mapstructure:"device_dir"`   // usually /dev/input
	VirtualName string `mapstructure:"virtual_name"` // name of our own virtual device
}

// DevicesConfig filters which devices the registry opens
type DevicesConfig struct {
	Include      []string      `mapstructure:"include"`
	Exclude      []string      `mapstructure:"exclude"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// PipelineConfig tunes the read loop and the callback queue
type PipelineConfig struct {
	SelectTimeout time.Duration `mapstructure:"select_timeout"`
	QueueSize     int           `mapstructure:"queue_size"`
}

// TriggersConfig tunes the pattern matcher
type TriggersConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	DoublePressWindow time.Duration `mapstructure:"double_press_window"`
}

// IPCConfig contains the control socket settings
type IPCConfig struct {
	SocketPath string `mapstructure:"socket_path"` // empty means /tmp/hookd-<user>.sock
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

// HotkeyConfig binds a key pattern to an action.
// Exactly one of Text or Command should be set.
type HotkeyConfig struct {
	Keys    string `mapstructure:"keys"`    // e.g. "ctrl+alt+t" or "ctrl+k ctrl+c"
	Text    string `mapstructure:"text"`    // text typed through the virtual device
	Command string `mapstructure:"command"` // shell command
	Block   bool   `mapstructure:"block"`   // suppress the trigger keys
	Double  bool   `mapstructure:"double"`  // require a double press
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Backend: BackendConfig{
			Name:        "evdev",
			Output:      "uinput",
			DeviceDir:   "/dev/input",
			VirtualName: "hookd virtual input",
		},
		Devices: DevicesConfig{
			Include:      []string{},
			Exclude:      []string{},
			PollInterval: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			SelectTimeout: 100 * time.Millisecond,
			QueueSize:     4096,
		},
		Triggers: TriggersConfig{
			BufferSize:        8,
			DoublePressWindow: 500 * time.Millisecond,
		},
		IPC: IPCConfig{
			SocketPath: "",
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
		Aliases: map[string]string{},
		Hotkeys: []HotkeyConfig{},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("hookd")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/hookd")

		// If running with sudo, try the real user's config
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			viper.AddConfigPath(fmt.Sprintf("/home/%s/.config/hookd", sudoUser))
		} else if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "hookd"))
		}

		viper.AddConfigPath(".")
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("backend.name", DefaultConfig.Backend.Name)
	viper.SetDefault("backend.output", DefaultConfig.Backend.Output)
	viper.SetDefault("backend.device_dir", DefaultConfig.Backend.DeviceDir)
	viper.SetDefault("backend.virtual_name", DefaultConfig.Backend.VirtualName)

	viper.SetDefault("devices.include", DefaultConfig.Devices.Include)
	viper.SetDefault("devices.exclude", DefaultConfig.Devices.Exclude)
	viper.SetDefault("devices.poll_interval", DefaultConfig.Devices.PollInterval)

	viper.SetDefault("pipeline.select_timeout", DefaultConfig.Pipeline.SelectTimeout)
	viper.SetDefault("pipeline.queue_size", DefaultConfig.Pipeline.QueueSize)

	viper.SetDefault("triggers.buffer_size", DefaultConfig.Triggers.BufferSize)
	viper.SetDefault("triggers.double_press_window", DefaultConfig.Triggers.DoublePressWindow)

	viper.SetDefault("ipc.socket_path", DefaultConfig.IPC.SocketPath)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	viper.SetDefault("aliases", DefaultConfig.Aliases)
	viper.SetDefault("hotkeys", DefaultConfig.Hotkeys)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	return nil
}

// Validate checks values viper cannot check for us
func (c *Config) Validate() error {
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.SelectTimeout <= 0 {
		return fmt.Errorf("pipeline.select_timeout must be positive, got %s", c.Pipeline.SelectTimeout)
	}
	if c.Triggers.BufferSize <= 0 {
		return fmt.Errorf("triggers.buffer_size must be positive, got %d", c.Triggers.BufferSize)
	}
	if c.Devices.PollInterval <= 0 {
		return fmt.Errorf("devices.poll_interval must be positive, got %s", c.Devices.PollInterval)
	}
	for i, hk := range c.Hotkeys {
		if strings.TrimSpace(hk.Keys) == "" {
			return fmt.Errorf("hotkeys[%d]: keys is empty", i)
		}
		if hk.Text != "" && hk.Command != "" {
			return fmt.Errorf("hotkeys[%d] (%s): text and command are mutually exclusive", i, hk.Keys)
		}
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	// Root needs the system config since device access usually requires it
	if os.Getuid() == 0 || os.Getenv("SUDO_USER") != "" {
		return "/etc/hookd/hookd.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/hookd/hookd.toml"
	}

	return filepath.Join(home, ".config", "hookd", "hookd.toml")
}

// SetDeviceFilter replaces the include list and saves the config
func SetDeviceFilter(include []string) error {
	c := Get()
	c.Devices.Include = include
	viper.Set("devices.include", include)
	return Save()
}

// AddHotkey adds or replaces a hotkey binding and saves the config
func AddHotkey(hk HotkeyConfig) error {
	c := Get()

	for i, existing := range c.Hotkeys {
		if existing.Keys == hk.Keys {
			c.Hotkeys[i] = hk
			viper.Set("hotkeys", c.Hotkeys)
			return Save()
		}
	}

	c.Hotkeys = append(c.Hotkeys, hk)
	viper.Set("hotkeys", c.Hotkeys)
	return Save()
}

// RemoveHotkey removes a hotkey binding by its key pattern
func RemoveHotkey(keys string) error {
	c := Get()

	for i, hk := range c.Hotkeys {
		if hk.Keys == keys {
			c.Hotkeys = append(c.Hotkeys[:i], c.Hotkeys[i+1:]...)
			viper.Set("hotkeys", c.Hotkeys)
			return Save()
		}
	}

	return fmt.Errorf("hotkey %s not found", keys)
}

// SocketPath returns the configured control socket or the per-user default
func (c *Config) SocketPath() string {
	if c.IPC.SocketPath != "" {
		return c.IPC.SocketPath
	}
	user := os.Getenv("SUDO_USER")
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("/tmp/hookd-%s.sock", user)
}
