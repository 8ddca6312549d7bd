package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/capture-gateway/internal/session"
	"github.com/chaz8081/capture-gateway/internal/settings"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Settings SettingsConfig `yaml:"settings"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	NATS     NATSConfig     `yaml:"nats"`
	LogLevel string         `yaml:"log_level"`
}

// DeviceConfig holds camera discovery and link timing settings.
type DeviceConfig struct {
	Names           []string      `yaml:"names"`        // advertised name substrings
	ServiceUUID     string        `yaml:"service_uuid"` // also matched during discovery
	ScanWindow      time.Duration `yaml:"scan_window"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnectCooldown time.Duration `yaml:"connect_cooldown"`
	ReconnectPause  time.Duration `yaml:"reconnect_pause"`
	ChunkTimeout    time.Duration `yaml:"chunk_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxImageBytes   int           `yaml:"max_image_bytes"` // larger announced images are refused
}

// SettingsConfig holds the capture schedule bounds and starting values.
type SettingsConfig struct {
	MinFrequency     int `yaml:"min_frequency"`
	MinThreshold     int `yaml:"min_threshold"`
	MaxThreshold     int `yaml:"max_threshold"`
	InitialFrequency int `yaml:"initial_frequency"`
	InitialThreshold int `yaml:"initial_threshold"`
}

// StorageConfig holds where images and capture records are kept.
type StorageConfig struct {
	ImageDir    string `yaml:"image_dir"`
	ImagePrefix string `yaml:"image_prefix"` // URL path images are served under
	DatabaseDSN string `yaml:"database_dsn"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// NATSConfig holds capture event publishing settings. An empty URL disables
// publishing.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "capture-gateway")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	imageDir := filepath.Join(home, ".local", "share", "capture-gateway", "imgs")

	opts := session.DefaultOptions()
	policy := settings.DefaultPolicy()

	return &Config{
		Device: DeviceConfig{
			Names:           opts.DeviceNames,
			ServiceUUID:     opts.ServiceUUID,
			ScanWindow:      opts.ScanWindow,
			ConnectTimeout:  opts.ConnectTimeout,
			ConnectCooldown: opts.ConnectCooldown,
			ReconnectPause:  opts.ReconnectPause,
			ChunkTimeout:    opts.ChunkTimeout,
			PollInterval:    opts.PollInterval,
			MaxImageBytes:   opts.MaxImageBytes,
		},
		Settings: SettingsConfig{
			MinFrequency:     policy.MinFrequencySeconds,
			MinThreshold:     policy.MinThresholdPercent,
			MaxThreshold:     policy.MaxThresholdPercent,
			InitialFrequency: 30,
			InitialThreshold: 80,
		},
		Storage: StorageConfig{
			ImageDir:    imageDir,
			ImagePrefix: "/imgs",
			DatabaseDSN: "postgres://localhost:5432/capture_gateway?sslmode=disable",
		},
		API: APIConfig{
			Listen: ":5550",
		},
		NATS: NATSConfig{
			Subject: "capture.saved",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.image_dir is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.ImageDir = expandTilde(cfg.Storage.ImageDir)

	return cfg, nil
}

const defaultHeader = `# capture-gateway configuration
# Durations use Go syntax (e.g. 15s, 2m). Remove a key to use its default.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if len(c.Device.Names) == 0 && c.Device.ServiceUUID == "" {
		return fmt.Errorf("device.names or device.service_uuid must be set")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"device.scan_window", c.Device.ScanWindow},
		{"device.connect_timeout", c.Device.ConnectTimeout},
		{"device.connect_cooldown", c.Device.ConnectCooldown},
		{"device.reconnect_pause", c.Device.ReconnectPause},
		{"device.chunk_timeout", c.Device.ChunkTimeout},
		{"device.poll_interval", c.Device.PollInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}

	if c.Device.MaxImageBytes <= 0 {
		return fmt.Errorf("device.max_image_bytes must be > 0")
	}

	s := c.Settings
	if s.MinFrequency < 1 {
		return fmt.Errorf("settings.min_frequency must be >= 1")
	}
	if s.MinThreshold < 0 || s.MaxThreshold > 100 || s.MinThreshold > s.MaxThreshold {
		return fmt.Errorf("settings threshold bounds must satisfy 0 <= min_threshold <= max_threshold <= 100, got %d..%d",
			s.MinThreshold, s.MaxThreshold)
	}
	if err := c.SettingsPolicy().Validate(c.InitialSettings()); err != nil {
		return fmt.Errorf("settings.initial_*: %w", err)
	}

	if c.Storage.ImageDir == "" {
		return fmt.Errorf("storage.image_dir must not be empty")
	}
	if c.Storage.DatabaseDSN == "" {
		return fmt.Errorf("storage.database_dsn must not be empty")
	}

	if c.API.Listen == "" {
		return fmt.Errorf("api.listen must not be empty")
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject must not be empty when nats.url is set")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SessionOptions converts the device section for the session.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		DeviceNames:     c.Device.Names,
		ServiceUUID:     c.Device.ServiceUUID,
		ScanWindow:      c.Device.ScanWindow,
		ConnectTimeout:  c.Device.ConnectTimeout,
		ConnectCooldown: c.Device.ConnectCooldown,
		ReconnectPause:  c.Device.ReconnectPause,
		ChunkTimeout:    c.Device.ChunkTimeout,
		PollInterval:    c.Device.PollInterval,
		MaxImageBytes:   c.Device.MaxImageBytes,
	}
}

// SettingsPolicy returns the bounds applied to capture schedule changes.
func (c *Config) SettingsPolicy() settings.Policy {
	return settings.Policy{
		MinFrequencySeconds: c.Settings.MinFrequency,
		MinThresholdPercent: c.Settings.MinThreshold,
		MaxThresholdPercent: c.Settings.MaxThreshold,
	}
}

// InitialSettings returns the schedule reported before any change is made.
func (c *Config) InitialSettings() settings.Command {
	return settings.Command{
		FrequencySeconds: c.Settings.InitialFrequency,
		ThresholdPercent: c.Settings.InitialThreshold,
	}
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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
