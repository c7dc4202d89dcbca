package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the VWire device agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	WiFi         WiFiConfig         `yaml:"wifi"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	GPIO         GPIOConfig         `yaml:"gpio"`
	Store        StoreConfig        `yaml:"store"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig identifies this device to the VWire cloud.
type DeviceConfig struct {
	// ID is the device identifier used in every topic this device
	// publishes or subscribes to. Derived from the auth token when empty.
	ID string `yaml:"id"`

	// Token is the per-device authentication secret. Devices provisioned
	// over the local access point receive it there; otherwise it must be
	// configured here or via VWIRE_DEVICE_TOKEN.
	Token string `yaml:"token"`

	// Firmware is the firmware version reported in heartbeats and
	// update status messages.
	Firmware string `yaml:"firmware"`

	// Board selects the pin name map used for GPIO commands.
	// Supported: "nodemcu", "generic".
	Board string `yaml:"board"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Timing MQTTTimingConfig `yaml:"timing"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// MQTTTimingConfig contains the intervals and timeouts that drive the
// connection state machine and reliable delivery, all in milliseconds.
type MQTTTimingConfig struct {
	Heartbeat      int `yaml:"heartbeat"`
	Reconnect      int `yaml:"reconnect"`
	ConnectTimeout int `yaml:"connect_timeout"`
	AckTimeout     int `yaml:"ack_timeout"`
	MaxRetries     int `yaml:"max_retries"`
	MaxPayload     int `yaml:"max_payload"`
}

// WiFiConfig contains settings for the managed Wi-Fi station interface.
type WiFiConfig struct {
	// Interface is the wireless interface name (e.g. "wlan0").
	Interface string `yaml:"interface"`

	// JoinTimeout bounds how long a join attempt may take, in milliseconds.
	JoinTimeout int `yaml:"join_timeout"`

	// JoinPoll is the interval between association checks while joining,
	// in milliseconds.
	JoinPoll int `yaml:"join_poll"`
}

// ProvisioningConfig contains local access point provisioning settings.
type ProvisioningConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the address the provisioning HTTP server binds while the
	// access point is active.
	Listen string `yaml:"listen"`

	// APPrefix is prepended to the device ID suffix to form the access
	// point SSID.
	APPrefix string `yaml:"ap_prefix"`

	// Timeout is how long the access point stays up waiting for
	// credentials, in milliseconds. 0 means wait forever.
	Timeout int `yaml:"timeout"`

	// CredentialsPath is where received credentials are persisted.
	CredentialsPath string `yaml:"credentials_path"`
}

// GPIOConfig contains hardware pin manager settings.
type GPIOConfig struct {
	Enabled bool `yaml:"enabled"`

	// Pins configured at startup, before any remote gpio_config command.
	Pins []GPIOPinConfig `yaml:"pins"`
}

// GPIOPinConfig configures a single hardware pin.
type GPIOPinConfig struct {
	// Pin is the pin designator, either numeric ("5") or a board name ("D4").
	Pin string `yaml:"pin"`

	// Mode is one of: output, input, input_pullup, pwm, analog_input.
	Mode string `yaml:"mode"`

	// Interval is the report interval for input modes, in milliseconds.
	Interval int `yaml:"interval"`
}

// StoreConfig contains SQLite persistence settings.
type StoreConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TelemetryConfig contains optional InfluxDB heartbeat recording settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VWIRE_SECTION_KEY
// For example: VWIRE_DEVICE_TOKEN, VWIRE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Firmware: "1.0.0",
			Board:    "generic",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "mqtt.vwire.io",
				Port: 1883,
			},
			Timing: MQTTTimingConfig{
				Heartbeat:      30000,
				Reconnect:      5000,
				ConnectTimeout: 10000,
				AckTimeout:     5000,
				MaxRetries:     3,
				MaxPayload:     2048,
			},
		},
		WiFi: WiFiConfig{
			Interface:   "wlan0",
			JoinTimeout: 30000,
			JoinPoll:    500,
		},
		Provisioning: ProvisioningConfig{
			Listen:          "0.0.0.0:80",
			APPrefix:        "VWire_Setup_",
			CredentialsPath: "./data/credentials.bin",
		},
		Store: StoreConfig{
			Path:        "./data/vwire.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VWIRE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("VWIRE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("VWIRE_DEVICE_TOKEN"); v != "" {
		cfg.Device.Token = v
	}

	// MQTT
	if v := os.Getenv("VWIRE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VWIRE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}

	// WiFi
	if v := os.Getenv("VWIRE_WIFI_INTERFACE"); v != "" {
		cfg.WiFi.Interface = v
	}

	// Store
	if v := os.Getenv("VWIRE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Telemetry
	if v := os.Getenv("VWIRE_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// Logging
	if v := os.Getenv("VWIRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// A device with neither a token nor provisioning enabled can never
	// reach the broker.
	if c.Device.Token == "" && !c.Provisioning.Enabled {
		errs = append(errs, "device.token is required when provisioning is disabled (set VWIRE_DEVICE_TOKEN)")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Timing.Heartbeat < 1000 {
		errs = append(errs, "mqtt.timing.heartbeat must be at least 1000ms")
	}
	if c.MQTT.Timing.MaxRetries < 0 {
		errs = append(errs, "mqtt.timing.max_retries must not be negative")
	}
	if c.MQTT.Timing.MaxPayload < 64 {
		errs = append(errs, "mqtt.timing.max_payload must be at least 64 bytes")
	}

	if c.WiFi.JoinPoll < 1 {
		errs = append(errs, "wifi.join_poll must be positive")
	}

	for i, p := range c.GPIO.Pins {
		if p.Pin == "" {
			errs = append(errs, fmt.Sprintf("gpio.pins[%d].pin is required", i))
		}
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled (set VWIRE_TELEMETRY_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.MQTT.Timing.Heartbeat) * time.Millisecond
}

// GetReconnectInterval returns the reconnect backoff as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.MQTT.Timing.Reconnect) * time.Millisecond
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.Timing.ConnectTimeout) * time.Millisecond
}
