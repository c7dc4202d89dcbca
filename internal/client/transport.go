package client

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is a single inbound publish delivered by a Transport.
type Message struct {
	Topic   string
	Payload []byte
}

// ConnectOptions carries the per-session parameters for a broker connect.
type ConnectOptions struct {
	ClientID    string
	Username    string
	Password    string
	WillTopic   string
	WillPayload string
	WillQoS     byte
	WillRetain  bool
}

// Transport is the MQTT protocol engine as seen by the client core. The
// core owns the connect/reconnect lifecycle, so implementations must not
// reconnect on their own.
//
// Inbound messages are buffered on the channel returned by Messages and
// drained synchronously by the client's Run loop. Implementations drop
// messages when the buffer is full rather than block the network side.
type Transport interface {
	// Connect establishes a broker session. Blocks up to the transport's
	// configured timeout.
	Connect(opts ConnectOptions) error

	// Disconnect closes the session, allowing quiesce for in-flight traffic.
	Disconnect(quiesce time.Duration)

	// Connected reports whether the session is currently established.
	Connected() bool

	// Publish sends a message. Fire-and-forget at QoS 0; blocking up to the
	// publish timeout at higher QoS.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers interest in a topic pattern. Received messages
	// are delivered via Messages.
	Subscribe(topic string, qos byte) error

	// Messages returns the inbound message channel. The channel is never
	// closed; it simply stops receiving after Disconnect.
	Messages() <-chan Message
}

// Transport tuning constants.
const (
	// transportKeepAlive detects dead connections quickly; the broker
	// drops the session after 1.5x this interval without traffic.
	transportKeepAlive = 30 * time.Second

	// transportOpTimeout bounds publish and subscribe token waits.
	transportOpTimeout = 5 * time.Second

	// inboundBuffer is the capacity of the inbound message channel. The
	// Run loop drains it every iteration; overflow indicates a stalled
	// loop and excess messages are dropped.
	inboundBuffer = 64

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// PahoTransport implements Transport on top of paho.mqtt.golang.
//
// Auto-reconnect and session restoration are deliberately disabled: the
// client core's state machine decides when to reconnect and re-subscribes
// itself after every successful connect.
type PahoTransport struct {
	server         string
	port           int
	useTLS         bool
	connectTimeout time.Duration
	maxPayload     int

	client  pahomqtt.Client
	inbound chan Message

	logger Logger
}

// NewPahoTransport builds a transport for the given broker endpoint.
//
// Parameters:
//   - server: Broker hostname or address
//   - port: Broker port
//   - useTLS: Use the ssl:// scheme with TLS 1.2+
//   - connectTimeout: Bound on a single connect attempt
//   - maxPayload: Inbound payloads longer than this are truncated
func NewPahoTransport(server string, port int, useTLS bool, connectTimeout time.Duration, maxPayload int) *PahoTransport {
	return &PahoTransport{
		server:         server,
		port:           port,
		useTLS:         useTLS,
		connectTimeout: connectTimeout,
		maxPayload:     maxPayload,
		inbound:        make(chan Message, inboundBuffer),
		logger:         noopLogger{},
	}
}

// SetLogger sets a logger for dropped-message and connect diagnostics.
func (t *PahoTransport) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Connect establishes a broker session with the given options.
func (t *PahoTransport) Connect(opts ConnectOptions) error {
	pahoOpts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if t.useTLS {
		scheme = "ssl"
	}
	pahoOpts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, t.server, t.port))

	pahoOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}

	pahoOpts.SetCleanSession(true)
	pahoOpts.SetAutoReconnect(false)
	pahoOpts.SetConnectRetry(false)
	pahoOpts.SetConnectTimeout(t.connectTimeout)
	pahoOpts.SetKeepAlive(transportKeepAlive)
	pahoOpts.SetDefaultPublishHandler(t.enqueue)

	if opts.WillTopic != "" {
		pahoOpts.SetWill(opts.WillTopic, opts.WillPayload, opts.WillQoS, opts.WillRetain)
	}

	if t.useTLS {
		pahoOpts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	t.client = pahomqtt.NewClient(pahoOpts)
	token := t.client.Connect()
	if !token.WaitTimeout(t.connectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectFailed, t.connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	return nil
}

// enqueue buffers an inbound message for the Run loop, truncating oversize
// payloads and dropping on overflow.
func (t *PahoTransport) enqueue(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := msg.Payload()
	if t.maxPayload > 0 && len(payload) > t.maxPayload {
		payload = payload[:t.maxPayload]
	}

	// Copy: paho reuses its buffers after the handler returns.
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case t.inbound <- Message{Topic: msg.Topic(), Payload: buf}:
	default:
		t.logger.Warn("inbound message dropped, buffer full", "topic", msg.Topic())
	}
}

// Disconnect closes the broker session.
func (t *PahoTransport) Disconnect(quiesce time.Duration) {
	if t.client == nil {
		return
	}
	t.client.Disconnect(uint(quiesce.Milliseconds())) //nolint:gosec // quiesce is small and positive
}

// Connected reports whether the broker session is established.
func (t *PahoTransport) Connected() bool {
	return t.client != nil && t.client.IsConnectionOpen()
}

// Publish sends a message to the broker.
func (t *PahoTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if t.client == nil {
		return ErrNotConnected
	}

	token := t.client.Publish(topic, qos, retained, payload)
	if qos == 0 {
		// QoS 0 has no broker acknowledgment; nothing to wait for.
		return nil
	}
	if !token.WaitTimeout(transportOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, transportOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// Subscribe registers interest in a topic pattern.
func (t *PahoTransport) Subscribe(topic string, qos byte) error {
	if t.client == nil {
		return ErrNotConnected
	}

	token := t.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(transportOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, transportOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Messages returns the inbound message channel.
func (t *PahoTransport) Messages() <-chan Message {
	return t.inbound
}
