package client

import (
	"fmt"
	"time"

	"github.com/vwire-io/vwire-device/internal/clock"
	"github.com/vwire-io/vwire-device/internal/pin"
)

// disconnectQuiesce is how long Disconnect allows for in-flight traffic.
const disconnectQuiesce = 250 * time.Millisecond

// Client is the device-side cloud client. It owns the connection state
// machine, the inbound message router, the reliable delivery queue, and
// heartbeat reporting.
//
// Concurrency model: the client is single-threaded and cooperative. Run
// must be called repeatedly from one loop; every callback fires
// synchronously on that loop. No method is safe for concurrent use.
type Client struct {
	settings Settings
	deviceID string
	topics   Topics

	transport Transport
	network   Network
	clk       clock.Clock
	logger    Logger

	state     State
	lastError error

	handlers    *HandlerSet
	manual      [MaxHandlers]handlerEntry
	manualCount int

	rawHandler        RawHandler
	connectHandler    ConnectionHandler
	disconnectHandler ConnectionHandler
	deliveryHandler   DeliveryHandler
	heartbeatSink     func(Heartbeat)

	queue deliveryQueue

	cloudOTA bool
	updater  Updater

	startTime     uint32
	lastHeartbeat uint32
	lastReconnect uint32
	lastAlarmID   uint32
}

// Deps bundles the collaborators a Client needs. Transport, Network and
// Clock are required; Handlers and Logger are optional.
type Deps struct {
	Transport Transport
	Network   Network
	Clock     clock.Clock
	Handlers  *HandlerSet
	Logger    Logger
}

// New builds a client for the given device. The client starts Idle; call
// Begin or BeginAttached to connect, then Run from the application loop.
func New(settings Settings, deviceID string, deps Deps) *Client {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		settings:  settings,
		deviceID:  deviceID,
		topics:    Topics{DeviceID: deviceID},
		transport: deps.Transport,
		network:   deps.Network,
		clk:       deps.Clock,
		handlers:  deps.Handlers,
		logger:    logger,
		state:     StateIdle,
	}
}

// Begin joins the network with the given credentials, then connects to the
// broker. The join blocks up to Settings.NetworkTimeout, polling the
// interface every Settings.JoinPoll.
//
// Returns:
//   - error: ErrNetworkJoinFailed on join timeout, or a broker connect error
func (c *Client) Begin(ssid, password string) error {
	if !c.network.Connected() {
		c.state = StateConnectingNetwork
		c.logger.Info("joining network", "ssid", ssid)

		if err := c.network.StartJoin(ssid, password); err != nil {
			c.state = StateError
			c.lastError = fmt.Errorf("%w: %w", ErrNetworkJoinFailed, err)
			return c.lastError
		}

		deadline := time.Now().Add(time.Duration(c.settings.NetworkTimeout) * time.Millisecond)
		for !c.network.Connected() {
			if time.Now().After(deadline) {
				c.state = StateError
				c.lastError = fmt.Errorf("%w: timeout after %dms", ErrNetworkJoinFailed, c.settings.NetworkTimeout)
				c.logger.Warn("network join timed out", "ssid", ssid)
				return c.lastError
			}
			time.Sleep(c.settings.JoinPoll)
		}

		c.logger.Info("network joined", "ip", c.network.IP())
	}

	return c.connectBroker()
}

// BeginAttached connects to the broker assuming the network is already up.
//
// Returns:
//   - error: ErrNetworkJoinFailed if the interface has no link, or a broker
//     connect error
func (c *Client) BeginAttached() error {
	if !c.network.Connected() {
		c.lastError = fmt.Errorf("%w: interface not connected", ErrNetworkJoinFailed)
		return c.lastError
	}
	return c.connectBroker()
}

// connectBroker performs a single protocol connect attempt and, on success,
// establishes the session: retained online status, command subscription,
// conditional ACK and OTA subscriptions, connect callbacks.
func (c *Client) connectBroker() error {
	if c.settings.Token == "" {
		c.lastError = ErrNoToken
		return c.lastError
	}

	c.state = StateConnectingBroker
	c.logger.Info("connecting to broker", "server", c.settings.Server, "port", c.settings.Port, "tls", c.settings.UseTLS)

	err := c.transport.Connect(ConnectOptions{
		ClientID:    "vwire-" + c.deviceID,
		Username:    c.settings.Token,
		Password:    c.settings.Token,
		WillTopic:   c.topics.Status(),
		WillPayload: `{"status":"offline"}`,
		WillQoS:     1,
		WillRetain:  true,
	})
	if err != nil {
		c.state = StateError
		c.lastError = err
		c.logger.Warn("broker connect failed", "error", err)
		return err
	}

	c.state = StateConnected
	c.startTime = c.clk.Millis()
	c.lastHeartbeat = c.startTime

	// Retained, so the server sees the device online even if it subscribes late.
	if err := c.transport.Publish(c.topics.Status(), []byte(`{"status":"online"}`), 1, true); err != nil {
		c.logger.Warn("online status publish failed", "error", err)
	}

	// Commands at QoS 1: delivered at least once.
	if err := c.transport.Subscribe(c.topics.CommandWildcard(), 1); err != nil {
		c.logger.Warn("command subscribe failed", "error", err)
	}

	if c.settings.ReliableDelivery {
		if err := c.transport.Subscribe(c.topics.Ack(), 1); err != nil {
			c.logger.Warn("ack subscribe failed", "error", err)
		}
	}

	if c.cloudOTA {
		if err := c.transport.Subscribe(c.topics.OTA(), 1); err != nil {
			c.logger.Warn("ota subscribe failed", "error", err)
		}
	}

	c.logger.Info("connected", "device_id", c.deviceID)

	// Client-registered callback first, then the declarative set.
	if c.connectHandler != nil {
		c.connectHandler()
	}
	if c.handlers != nil && c.handlers.onConnect != nil {
		c.handlers.onConnect()
	}

	return nil
}

// Run advances the client by one loop iteration. It must be called
// continuously from the application loop.
//
// Connected fast path: drain and route inbound messages, advance reliable
// delivery retries, emit a heartbeat when due. Disconnected path: detect
// the transition, fire disconnect callbacks, and retry the broker connect
// on the reconnect cadence if auto-reconnect is enabled.
func (c *Client) Run() {
	if c.transport.Connected() {
		c.drainInbound()

		if c.settings.ReliableDelivery {
			c.processRetries()
		}

		now := c.clk.Millis()
		if clock.Elapsed(now, c.lastHeartbeat) >= c.settings.HeartbeatInterval {
			c.lastHeartbeat = now
			c.sendHeartbeat()
		}
		return
	}

	// Below here only runs when disconnected.

	if !c.network.Connected() {
		c.noteDisconnected("network lost")
		return
	}

	c.noteDisconnected("broker session lost")

	if c.settings.AutoReconnect {
		now := c.clk.Millis()
		if clock.Elapsed(now, c.lastReconnect) >= c.settings.ReconnectInterval {
			c.lastReconnect = now
			// Errors are already recorded in lastError; the next interval
			// will retry.
			_ = c.connectBroker() //nolint:errcheck
		}
	}
}

// drainInbound routes every currently buffered message synchronously.
func (c *Client) drainInbound() {
	for {
		select {
		case msg := <-c.transport.Messages():
			c.route(msg.Topic, msg.Payload)
		default:
			return
		}
	}
}

// processRetries advances the reliable delivery retry pass: every pending
// message past its ACK timeout is either resent or, once out of retries,
// dropped and reported as failed.
func (c *Client) processRetries() {
	now := c.clk.Millis()
	c.queue.due(now, c.settings.AckTimeout, func(m *pendingMessage) {
		if m.retries < c.settings.MaxRetries {
			m.retries++
			m.sentAt = now
			if err := c.transport.Publish(c.topics.Data(), m.envelope(), 0, false); err != nil {
				c.logger.Warn("retry publish failed", "msg_id", m.msgID, "error", err)
			}
			c.logger.Debug("retrying message", "msg_id", m.msgID, "attempt", m.retries, "max", c.settings.MaxRetries)
			return
		}

		c.logger.Warn("message dropped after max retries", "msg_id", m.msgID, "retries", m.retries)
		m.active = false
		if c.deliveryHandler != nil {
			c.deliveryHandler(m.msgID, false)
		}
	})
}

// noteDisconnected records the Connected -> Disconnected transition exactly
// once and fires the disconnect callbacks.
func (c *Client) noteDisconnected(reason string) {
	if c.state != StateConnected {
		return
	}

	c.state = StateDisconnected
	c.logger.Warn("disconnected", "reason", reason)

	if c.disconnectHandler != nil {
		c.disconnectHandler()
	}
	if c.handlers != nil && c.handlers.onDisconnect != nil {
		c.handlers.onDisconnect()
	}
}

// Disconnect publishes a retained offline status and cleanly closes the
// broker session. The state becomes Disconnected unconditionally.
func (c *Client) Disconnect() {
	if c.transport.Connected() {
		if err := c.transport.Publish(c.topics.Status(), []byte(`{"status":"offline"}`), 1, true); err != nil {
			c.logger.Warn("offline status publish failed", "error", err)
		}
		c.transport.Disconnect(disconnectQuiesce)
	}
	c.state = StateDisconnected
}

// Connected reports whether the client has an established broker session.
func (c *Client) Connected() bool {
	return c.state == StateConnected && c.transport.Connected()
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.state
}

// LastError returns the most recent connection or send error, or nil.
func (c *Client) LastError() error {
	return c.lastError
}

// DeviceID returns the device identifier this client connects as.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Uptime returns seconds since the current session was established.
func (c *Client) Uptime() uint32 {
	return clock.Elapsed(c.clk.Millis(), c.startTime) / 1000
}

// PendingCount returns the number of reliable messages awaiting an ACK.
func (c *Client) PendingCount() int {
	return c.queue.pendingCount()
}

// DeliveryPending reports whether any reliable message awaits an ACK.
func (c *Client) DeliveryPending() bool {
	return c.queue.pendingCount() > 0
}

// EnableCloudOTA turns on handling of firmware update commands, applied via
// the given updater. If the client is already connected, the OTA topic is
// subscribed immediately.
func (c *Client) EnableCloudOTA(updater Updater) {
	c.cloudOTA = true
	c.updater = updater

	if c.Connected() {
		if err := c.transport.Subscribe(c.topics.OTA(), 1); err != nil {
			c.logger.Warn("ota subscribe failed", "error", err)
		}
	}
}

// OnVirtualReceive registers a handler for inbound commands on a virtual
// pin. Handlers registered here take precedence over the HandlerSet.
//
// Returns:
//   - error: ErrInvalidPin or ErrHandlerTableFull
func (c *Client) OnVirtualReceive(pinNum int, handler PinHandler) error {
	if pinNum < 0 || pinNum >= MaxVirtualPins {
		c.lastError = ErrInvalidPin
		return fmt.Errorf("%w: %d", ErrInvalidPin, pinNum)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for pin %d", ErrInvalidPin, pinNum)
	}
	if c.manualCount >= MaxHandlers {
		c.lastError = ErrHandlerTableFull
		return ErrHandlerTableFull
	}

	c.manual[c.manualCount] = handlerEntry{pin: pinNum, handler: handler, active: true}
	c.manualCount++
	return nil
}

// OnConnect registers a callback fired after every successful broker connect.
func (c *Client) OnConnect(handler ConnectionHandler) {
	c.connectHandler = handler
}

// OnDisconnect registers a callback fired when an established session is lost.
func (c *Client) OnDisconnect(handler ConnectionHandler) {
	c.disconnectHandler = handler
}

// OnMessage registers a raw observer invoked for every inbound message
// before dispatch.
func (c *Client) OnMessage(handler RawHandler) {
	c.rawHandler = handler
}

// OnDeliveryStatus registers the callback reporting reliable delivery
// outcomes.
func (c *Client) OnDeliveryStatus(handler DeliveryHandler) {
	c.deliveryHandler = handler
}

// OnHeartbeat registers a sink observing every heartbeat the client emits.
func (c *Client) OnHeartbeat(sink func(Heartbeat)) {
	c.heartbeatSink = sink
}

// setError records the last error without aborting the loop.
func (c *Client) setError(err error) {
	c.lastError = err
}

// truncateValue bounds an outbound value to the pin value length.
func truncateValue(s string) string {
	if len(s) > pin.MaxValueLength {
		return s[:pin.MaxValueLength]
	}
	return s
}
