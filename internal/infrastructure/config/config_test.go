package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
device:
  id: "dev-001"
  token: "abcdef0123456789"
  firmware: "2.1.0"
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
store:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "dev-001" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "dev-001")
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}

	if !cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS = false, want true")
	}

	if cfg.Store.Path != "/tmp/test.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/tmp/test.db")
	}

	// Timing not present in the file keeps its defaults.
	if cfg.MQTT.Timing.Heartbeat != 30000 {
		t.Errorf("MQTT.Timing.Heartbeat = %d, want 30000", cfg.MQTT.Timing.Heartbeat)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	// No token and provisioning disabled: the device could never connect.
	content := `
device:
  token: ""
provisioning:
  enabled: false
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing token, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Device.Token = "abcdef0123456789"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "missing token with provisioning enabled is allowed",
			mutate: func(c *Config) {
				c.Device.Token = ""
				c.Provisioning.Enabled = true
			},
			wantErr: false,
		},
		{
			name:    "missing broker host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "heartbeat too fast",
			mutate:  func(c *Config) { c.MQTT.Timing.Heartbeat = 100 },
			wantErr: true,
		},
		{
			name:    "gpio pin without designator",
			mutate:  func(c *Config) { c.GPIO.Pins = []GPIOPinConfig{{Mode: "output"}} },
			wantErr: true,
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name: "telemetry enabled without token",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.URL = "http://localhost:8086"
				c.Telemetry.Token = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		MQTT: MQTTConfig{
			Timing: MQTTTimingConfig{
				Heartbeat:      30000,
				Reconnect:      5000,
				ConnectTimeout: 10000,
			},
		},
	}

	if got := cfg.GetHeartbeatInterval().Seconds(); got != 30 {
		t.Errorf("GetHeartbeatInterval() = %v, want 30s", got)
	}

	if got := cfg.GetReconnectInterval().Seconds(); got != 5 {
		t.Errorf("GetReconnectInterval() = %v, want 5s", got)
	}

	if got := cfg.GetConnectTimeout().Seconds(); got != 10 {
		t.Errorf("GetConnectTimeout() = %v, want 10s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("VWIRE_DEVICE_ID", "dev-env")
	t.Setenv("VWIRE_DEVICE_TOKEN", "env-token")
	t.Setenv("VWIRE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("VWIRE_MQTT_PORT", "8883")
	t.Setenv("VWIRE_WIFI_INTERFACE", "wlan1")
	t.Setenv("VWIRE_STORE_PATH", "/custom/path.db")
	t.Setenv("VWIRE_TELEMETRY_TOKEN", "secret-token")
	t.Setenv("VWIRE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Device.ID != "dev-env" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "dev-env")
	}

	if cfg.Device.Token != "env-token" {
		t.Errorf("Device.Token = %q, want %q", cfg.Device.Token, "env-token")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}

	if cfg.WiFi.Interface != "wlan1" {
		t.Errorf("WiFi.Interface = %q, want %q", cfg.WiFi.Interface, "wlan1")
	}

	if cfg.Store.Path != "/custom/path.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/custom/path.db")
	}

	if cfg.Telemetry.Token != "secret-token" {
		t.Errorf("Telemetry.Token = %q, want %q", cfg.Telemetry.Token, "secret-token")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Host != "mqtt.vwire.io" {
		t.Errorf("defaultConfig MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.vwire.io")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.MQTT.Timing.AckTimeout != 5000 {
		t.Errorf("defaultConfig MQTT.Timing.AckTimeout = %d, want 5000", cfg.MQTT.Timing.AckTimeout)
	}

	if cfg.Provisioning.APPrefix != "VWire_Setup_" {
		t.Errorf("defaultConfig Provisioning.APPrefix = %q", cfg.Provisioning.APPrefix)
	}

	if cfg.Store.Path == "" {
		t.Error("defaultConfig should have non-empty Store.Path")
	}
}
