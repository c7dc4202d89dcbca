package client

import (
	"time"

	"github.com/vwire-io/vwire-device/internal/infrastructure/config"
)

// Capacity limits for the client's fixed-size tables.
const (
	// MaxVirtualPins is the exclusive upper bound for virtual pin numbers.
	MaxVirtualPins = 128

	// MaxHandlers is the capacity of each pin handler table.
	MaxHandlers = 32

	// MaxPendingMessages is the capacity of the reliable delivery queue.
	MaxPendingMessages = 10
)

// Default connection parameters.
const (
	DefaultServer            = "mqtt.vwire.io"
	DefaultPortTCP           = 1883
	DefaultPortTLS           = 8883
	DefaultHeartbeatInterval = 30000 // ms
	DefaultReconnectInterval = 5000  // ms
	DefaultNetworkTimeout    = 30000 // ms
	DefaultConnectTimeout    = 10000 // ms
	DefaultAckTimeout        = 5000  // ms
	DefaultMaxRetries        = 3
	DefaultMaxPayload        = 2048 // bytes
)

// Settings holds all tunable connection parameters. The client reads them
// at connect time; they must not be mutated while a connection is active.
type Settings struct {
	// Token authenticates the device to the broker. It is sent as both
	// username and password; the server validates the password side.
	Token string

	// Server and Port locate the broker.
	Server string
	Port   int

	// UseTLS selects the secure transport.
	UseTLS bool

	// Firmware is the version string reported in heartbeats and update
	// status messages.
	Firmware string

	// AutoReconnect enables automatic broker reconnects from Run.
	AutoReconnect bool

	// ReconnectInterval is the fixed delay between reconnect attempts, in
	// milliseconds. There is no backoff.
	ReconnectInterval uint32

	// HeartbeatInterval is the heartbeat cadence in milliseconds.
	HeartbeatInterval uint32

	// NetworkTimeout bounds the blocking network join in Begin, in milliseconds.
	NetworkTimeout uint32

	// ConnectTimeout bounds a single broker connect attempt, in milliseconds.
	ConnectTimeout uint32

	// JoinPoll is the interval between association checks while joining.
	JoinPoll time.Duration

	// DataRetain marks fire-and-forget pin publishes as retained.
	DataRetain bool

	// ReliableDelivery enables the application-level ACK protocol for
	// virtual pin sends.
	ReliableDelivery bool

	// AckTimeout is how long to wait for an ACK before retrying, in milliseconds.
	AckTimeout uint32

	// MaxRetries is how many times an unacknowledged message is resent
	// before being dropped.
	MaxRetries int

	// MaxPayload bounds inbound and outbound payload sizes in bytes.
	// Longer inbound payloads are truncated; longer outbound payloads are
	// rejected.
	MaxPayload int

	// CloudOTA enables the firmware update command topic.
	CloudOTA bool
}

// DefaultSettings returns Settings with production defaults. The token must
// still be supplied by the caller.
func DefaultSettings() Settings {
	return Settings{
		Server:            DefaultServer,
		Port:              DefaultPortTCP,
		AutoReconnect:     true,
		ReconnectInterval: DefaultReconnectInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		NetworkTimeout:    DefaultNetworkTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		JoinPoll:          500 * time.Millisecond,
		ReliableDelivery:  true,
		AckTimeout:        DefaultAckTimeout,
		MaxRetries:        DefaultMaxRetries,
		MaxPayload:        DefaultMaxPayload,
	}
}

// SettingsFromConfig builds Settings from the loaded agent configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()

	s.Token = cfg.Device.Token
	s.Server = cfg.MQTT.Broker.Host
	s.Port = cfg.MQTT.Broker.Port
	s.UseTLS = cfg.MQTT.Broker.TLS
	s.Firmware = cfg.Device.Firmware

	s.HeartbeatInterval = uint32(cfg.MQTT.Timing.Heartbeat)
	s.ReconnectInterval = uint32(cfg.MQTT.Timing.Reconnect)
	s.ConnectTimeout = uint32(cfg.MQTT.Timing.ConnectTimeout)
	s.AckTimeout = uint32(cfg.MQTT.Timing.AckTimeout)
	s.MaxRetries = cfg.MQTT.Timing.MaxRetries
	s.MaxPayload = cfg.MQTT.Timing.MaxPayload

	s.NetworkTimeout = uint32(cfg.WiFi.JoinTimeout)
	s.JoinPoll = time.Duration(cfg.WiFi.JoinPoll) * time.Millisecond

	return s
}
