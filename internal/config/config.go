package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	LogLevel     string        `yaml:"log_level"`
	LogFile      string        `yaml:"log_file"` // empty logs to stderr only
	TickInterval time.Duration `yaml:"tick_interval"`
	HTTP         HTTPConfig    `yaml:"http"`
	BLE          BLEConfig     `yaml:"ble"`
	Script       ScriptConfig  `yaml:"script"`
	LED          LEDConfig     `yaml:"led"`
	Store        StoreConfig   `yaml:"store"`
}

// HTTPConfig holds REST/SSE server settings.
type HTTPConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rate_limit"` // requests/s per client IP, 0 = unlimited
	MDNS      bool    `yaml:"mdns"`       // advertise over mDNS/DNS-SD
}

// BLEConfig holds GATT peripheral settings.
type BLEConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DeviceName string `yaml:"device_name"`
}

// ScriptConfig holds SandScript upload settings.
type ScriptConfig struct {
	MaxLength        int           `yaml:"max_length"`
	Timeout          time.Duration `yaml:"timeout"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// LEDConfig holds LED strip settings.
type LEDConfig struct {
	Effects int `yaml:"effects"`
}

// StoreConfig holds where received scripts are kept.
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// maxAdvertisedName is what fits in a legacy advertising packet next to the
// 128-bit service UUID.
const maxAdvertisedName = 29

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sandgarden")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		LogLevel:     "info",
		TickInterval: 250 * time.Millisecond,
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  ":8080",
			MDNS:    true,
		},
		BLE: BLEConfig{
			Enabled:    true,
			DeviceName: "Sand Garden",
		},
		Script: ScriptConfig{
			MaxLength:        8192,
			Timeout:          5 * time.Second,
			ProgressInterval: 500 * time.Millisecond,
		},
		LED: LEDConfig{
			Effects: 14,
		},
		Store: StoreConfig{
			Dir: filepath.Join(home, ".local", "share", "sandgarden", "scripts"),
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log_file and store.dir is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LogFile = expandTilde(cfg.LogFile)
	cfg.Store.Dir = expandTilde(cfg.Store.Dir)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	header := "# sandgarden configuration\n# Durations use Go syntax, e.g. 250ms or 5s.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be > 0")
	}

	if !c.HTTP.Enabled && !c.BLE.Enabled {
		return fmt.Errorf("at least one of http.enabled and ble.enabled must be true")
	}

	if c.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(c.HTTP.Listen); err != nil {
			return fmt.Errorf("http.listen must be host:port, got %q", c.HTTP.Listen)
		}
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must be >= 0")
	}

	if c.BLE.Enabled {
		if c.BLE.DeviceName == "" {
			return fmt.Errorf("ble.device_name must not be empty")
		}
		if len(c.BLE.DeviceName) > maxAdvertisedName {
			return fmt.Errorf("ble.device_name must be at most %d bytes, got %d", maxAdvertisedName, len(c.BLE.DeviceName))
		}
	}

	if c.Script.MaxLength <= 0 || c.Script.MaxLength > 1<<16 {
		return fmt.Errorf("script.max_length must be in 1..65536, got %d", c.Script.MaxLength)
	}
	if c.Script.Timeout <= 0 {
		return fmt.Errorf("script.timeout must be > 0")
	}
	if c.Script.ProgressInterval <= 0 {
		return fmt.Errorf("script.progress_interval must be > 0")
	}

	if c.LED.Effects <= 0 || c.LED.Effects > 256 {
		return fmt.Errorf("led.effects must be in 1..256, got %d", c.LED.Effects)
	}

	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir must not be empty")
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values
// are treated as info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
