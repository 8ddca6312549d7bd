package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Device.Names) != 2 || cfg.Device.Names[0] != "T-Camera-BLE-Batch" {
		t.Errorf("Device.Names = %v, want [T-Camera-BLE-Batch T-Camera-BLE]", cfg.Device.Names)
	}
	if cfg.Device.ServiceUUID != "4fafc201-1fb5-459e-8fcc-c5c9c331914b" {
		t.Errorf("Device.ServiceUUID = %q", cfg.Device.ServiceUUID)
	}
	if cfg.Device.ScanWindow != 120*time.Second {
		t.Errorf("Device.ScanWindow = %v, want 2m0s", cfg.Device.ScanWindow)
	}
	if cfg.Device.ConnectTimeout != 20*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want 20s", cfg.Device.ConnectTimeout)
	}
	if cfg.Device.ChunkTimeout != 15*time.Second {
		t.Errorf("Device.ChunkTimeout = %v, want 15s", cfg.Device.ChunkTimeout)
	}
	if cfg.Device.MaxImageBytes != 8<<20 {
		t.Errorf("Device.MaxImageBytes = %d, want %d", cfg.Device.MaxImageBytes, 8<<20)
	}
	if cfg.Settings.MinFrequency != 3 || cfg.Settings.MinThreshold != 2 || cfg.Settings.MaxThreshold != 95 {
		t.Errorf("Settings bounds = %+v, want 3/2/95", cfg.Settings)
	}
	if cfg.Settings.InitialFrequency != 30 || cfg.Settings.InitialThreshold != 80 {
		t.Errorf("Settings initial = %d/%d, want 30/80", cfg.Settings.InitialFrequency, cfg.Settings.InitialThreshold)
	}
	if !strings.HasSuffix(cfg.Storage.ImageDir, filepath.Join("capture-gateway", "imgs")) {
		t.Errorf("Storage.ImageDir = %q", cfg.Storage.ImageDir)
	}
	if cfg.API.Listen != ":5550" {
		t.Errorf("API.Listen = %q, want %q", cfg.API.Listen, ":5550")
	}
	if cfg.NATS.URL != "" {
		t.Errorf("NATS.URL = %q, want empty", cfg.NATS.URL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  names: ["Garden-Cam"]
  scan_window: 30s
  chunk_timeout: 5s
  max_image_bytes: 1048576
settings:
  initial_frequency: 60
  initial_threshold: 50
storage:
  image_dir: /tmp/imgs
  database_dsn: postgres://cam@db/captures
api:
  listen: 127.0.0.1:8080
nats:
  url: nats://localhost:4222
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Device.Names) != 1 || cfg.Device.Names[0] != "Garden-Cam" {
		t.Errorf("Device.Names = %v, want [Garden-Cam]", cfg.Device.Names)
	}
	if cfg.Device.ScanWindow != 30*time.Second {
		t.Errorf("Device.ScanWindow = %v, want 30s", cfg.Device.ScanWindow)
	}
	if cfg.Device.ChunkTimeout != 5*time.Second {
		t.Errorf("Device.ChunkTimeout = %v, want 5s", cfg.Device.ChunkTimeout)
	}
	if cfg.Device.ConnectTimeout != 20*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want default 20s", cfg.Device.ConnectTimeout)
	}
	if cfg.Device.MaxImageBytes != 1<<20 {
		t.Errorf("Device.MaxImageBytes = %d, want %d", cfg.Device.MaxImageBytes, 1<<20)
	}
	if cfg.Settings.InitialFrequency != 60 || cfg.Settings.InitialThreshold != 50 {
		t.Errorf("Settings initial = %d/%d, want 60/50", cfg.Settings.InitialFrequency, cfg.Settings.InitialThreshold)
	}
	if cfg.Settings.MaxThreshold != 95 {
		t.Errorf("Settings.MaxThreshold = %d, want default 95", cfg.Settings.MaxThreshold)
	}
	if cfg.Storage.ImageDir != "/tmp/imgs" {
		t.Errorf("Storage.ImageDir = %q, want %q", cfg.Storage.ImageDir, "/tmp/imgs")
	}
	if cfg.Storage.DatabaseDSN != "postgres://cam@db/captures" {
		t.Errorf("Storage.DatabaseDSN = %q", cfg.Storage.DatabaseDSN)
	}
	if cfg.API.Listen != "127.0.0.1:8080" {
		t.Errorf("API.Listen = %q", cfg.API.Listen)
	}
	if cfg.NATS.URL != "nats://localhost:4222" || cfg.NATS.Subject != "capture.saved" {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	yamlContent := `
storage:
  image_dir: ~/captures/imgs
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	home, _ := os.UserHomeDir()
	want := filepath.Join(home, "captures", "imgs")
	if cfg.Storage.ImageDir != want {
		t.Errorf("Storage.ImageDir = %q, want %q", cfg.Storage.ImageDir, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("device: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "service uuid alone identifies the camera",
			modify:  func(c *Config) { c.Device.Names = nil },
			wantErr: false,
		},
		{
			name: "no way to identify the camera",
			modify: func(c *Config) {
				c.Device.Names = nil
				c.Device.ServiceUUID = ""
			},
			wantErr: true,
		},
		{
			name:    "zero chunk timeout",
			modify:  func(c *Config) { c.Device.ChunkTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative poll interval",
			modify:  func(c *Config) { c.Device.PollInterval = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero max image size",
			modify:  func(c *Config) { c.Device.MaxImageBytes = 0 },
			wantErr: true,
		},
		{
			name:    "zero min frequency",
			modify:  func(c *Config) { c.Settings.MinFrequency = 0 },
			wantErr: true,
		},
		{
			name: "inverted threshold bounds",
			modify: func(c *Config) {
				c.Settings.MinThreshold = 90
				c.Settings.MaxThreshold = 10
			},
			wantErr: true,
		},
		{
			name:    "threshold bound above 100",
			modify:  func(c *Config) { c.Settings.MaxThreshold = 101 },
			wantErr: true,
		},
		{
			name:    "initial frequency below minimum",
			modify:  func(c *Config) { c.Settings.InitialFrequency = 1 },
			wantErr: true,
		},
		{
			name:    "initial threshold out of bounds",
			modify:  func(c *Config) { c.Settings.InitialThreshold = 99 },
			wantErr: true,
		},
		{
			name:    "empty image dir",
			modify:  func(c *Config) { c.Storage.ImageDir = "" },
			wantErr: true,
		},
		{
			name:    "empty database dsn",
			modify:  func(c *Config) { c.Storage.DatabaseDSN = "" },
			wantErr: true,
		},
		{
			name:    "empty listen address",
			modify:  func(c *Config) { c.API.Listen = "" },
			wantErr: true,
		},
		{
			name: "nats url without subject",
			modify: func(c *Config) {
				c.NATS.URL = "nats://localhost:4222"
				c.NATS.Subject = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Device.Names = []string{"Cam"}
	cfg.Device.PollInterval = 250 * time.Millisecond

	opts := cfg.SessionOptions()
	if len(opts.DeviceNames) != 1 || opts.DeviceNames[0] != "Cam" {
		t.Errorf("DeviceNames = %v", opts.DeviceNames)
	}
	if opts.ServiceUUID != cfg.Device.ServiceUUID {
		t.Errorf("ServiceUUID = %q", opts.ServiceUUID)
	}
	if opts.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", opts.PollInterval)
	}
	if opts.ChunkTimeout != cfg.Device.ChunkTimeout {
		t.Errorf("ChunkTimeout = %v", opts.ChunkTimeout)
	}
	if opts.MaxImageBytes != cfg.Device.MaxImageBytes {
		t.Errorf("MaxImageBytes = %d", opts.MaxImageBytes)
	}
}

func TestSettingsPolicy(t *testing.T) {
	cfg := Default()
	cfg.Settings.MinFrequency = 10

	policy := cfg.SettingsPolicy()
	if policy.MinFrequencySeconds != 10 || policy.MinThresholdPercent != 2 || policy.MaxThresholdPercent != 95 {
		t.Errorf("policy = %+v", policy)
	}
	initial := cfg.InitialSettings()
	if initial.FrequencySeconds != 30 || initial.ThresholdPercent != 80 {
		t.Errorf("initial = %+v", initial)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "capture-gateway", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# capture-gateway") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Device.ChunkTimeout != 15*time.Second {
		t.Errorf("written config Device.ChunkTimeout = %v, want 15s", cfg.Device.ChunkTimeout)
	}
	if cfg.API.Listen != ":5550" {
		t.Errorf("written config API.Listen = %q, want %q", cfg.API.Listen, ":5550")
	}

	// The written file must load back into a valid config.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "capture-gateway")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
