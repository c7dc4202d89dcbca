package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vwire-io/vwire-device/internal/pin"
)

// VirtualSend publishes a value on a virtual pin. With reliable delivery
// enabled the value goes through the ACK protocol on the data topic;
// otherwise it is published fire-and-forget on the per-pin topic.
//
// Returns:
//   - error: ErrNotConnected while disconnected, ErrInvalidPin for an
//     out-of-range pin, ErrQueueFull when the delivery queue is exhausted
func (c *Client) VirtualSend(pinNum int, value pin.Value) error {
	if !c.Connected() {
		c.setError(ErrNotConnected)
		return ErrNotConnected
	}
	if pinNum < 0 || pinNum >= MaxVirtualPins {
		c.setError(ErrInvalidPin)
		return fmt.Errorf("%w: %d", ErrInvalidPin, pinNum)
	}

	if c.settings.ReliableDelivery {
		return c.sendReliable(pinNum, value.String())
	}

	payload := truncateValue(value.String())
	if err := c.transport.Publish(c.topics.Pin(pinNum), []byte(payload), 0, c.settings.DataRetain); err != nil {
		c.setError(err)
		return err
	}

	c.logger.Debug("sent", "pin", pinNum, "value", payload)
	return nil
}

// VirtualSendInt publishes an integer value on a virtual pin.
func (c *Client) VirtualSendInt(pinNum, value int) error {
	return c.VirtualSend(pinNum, pin.FromInt(value))
}

// VirtualSendFloat publishes a float value on a virtual pin, formatted with
// two decimal places.
func (c *Client) VirtualSendFloat(pinNum int, value float64) error {
	return c.VirtualSend(pinNum, pin.FromFloat(value))
}

// VirtualSendString publishes a string value on a virtual pin.
func (c *Client) VirtualSendString(pinNum int, value string) error {
	return c.VirtualSend(pinNum, pin.New(value))
}

// VirtualSendf publishes a printf-formatted value on a virtual pin.
func (c *Client) VirtualSendf(pinNum int, format string, args ...any) error {
	return c.VirtualSend(pinNum, pin.Format(format, args...))
}

// VirtualSendInts publishes a comma-separated integer array on a virtual pin.
func (c *Client) VirtualSendInts(pinNum int, values []int) error {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return c.VirtualSend(pinNum, pin.New(strings.Join(parts, ",")))
}

// VirtualSendFloats publishes a comma-separated float array on a virtual
// pin, each element formatted with two decimal places.
func (c *Client) VirtualSendFloats(pinNum int, values []float64) error {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return c.VirtualSend(pinNum, pin.New(strings.Join(parts, ",")))
}

// sendReliable allocates a pending slot and publishes the reliable
// envelope. A full queue is reported once through the delivery callback
// with the QueueFullID sentinel.
func (c *Client) sendReliable(pinNum int, value string) error {
	now := c.clk.Millis()
	m, err := c.queue.add(pinNum, value, now)
	if err != nil {
		c.setError(ErrQueueFull)
		c.logger.Warn("delivery queue full", "pin", pinNum)
		if c.deliveryHandler != nil {
			c.deliveryHandler(QueueFullID, false)
		}
		return ErrQueueFull
	}

	if err := c.transport.Publish(c.topics.Data(), m.envelope(), 0, false); err != nil {
		// Keep the slot active: the retry pass will resend.
		c.logger.Warn("reliable publish failed", "msg_id", m.msgID, "error", err)
	}

	c.logger.Debug("reliable send", "pin", pinNum, "value", m.value, "msg_id", m.msgID)
	return nil
}

// HardwareSend publishes a hardware pin reading on the pin's named topic.
// Used by GPIO polling to report input changes.
func (c *Client) HardwareSend(name string, value int) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if name == "" {
		return fmt.Errorf("%w: empty pin name", ErrInvalidPin)
	}
	payload := pin.FromInt(value)
	return c.transport.Publish(c.topics.PinNamed(name), []byte(payload), 0, c.settings.DataRetain)
}

// SyncVirtual asks the server to resend the last known value of a pin. The
// reply arrives as a normal command message.
func (c *Client) SyncVirtual(pinNum int) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if pinNum < 0 || pinNum >= MaxVirtualPins {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pinNum)
	}
	return c.transport.Publish(c.topics.SyncPin(pinNum), nil, 0, false)
}

// SyncAll asks the server to resend the last known values of all pins.
func (c *Client) SyncAll() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.transport.Publish(c.topics.Sync(), []byte("all"), 0, false)
}

// Notify sends a push notification request to the server.
func (c *Client) Notify(message string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.transport.Publish(c.topics.Notify(), []byte(message), 0, false)
}

// alarmPayload is the JSON body published on the alarm topic.
type alarmPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	AlarmID   string `json:"alarmId"`
	Sound     string `json:"sound"`
	Priority  int    `json:"priority"`
	Timestamp uint32 `json:"timestamp"`
}

// Alarm sends a high-priority alert with the given sound and priority.
// Sound defaults to "default" and priority to 1 when zero values are given.
func (c *Client) Alarm(message, sound string, priority int) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if sound == "" {
		sound = "default"
	}
	if priority == 0 {
		priority = 1
	}

	// Millisecond timestamps double as alarm IDs; bump on collision so two
	// alarms in the same millisecond stay distinct.
	now := c.clk.Millis()
	if now == c.lastAlarmID {
		now++
	}
	c.lastAlarmID = now

	body, err := json.Marshal(alarmPayload{
		Type:      "alarm",
		Message:   message,
		AlarmID:   fmt.Sprintf("alarm_%d", now),
		Sound:     sound,
		Priority:  priority,
		Timestamp: c.clk.Millis(),
	})
	if err != nil {
		return fmt.Errorf("encoding alarm: %w", err)
	}

	return c.transport.Publish(c.topics.Alarm(), body, 0, false)
}

// emailPayload is the JSON body published on the email topic.
type emailPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Email asks the server to send an email on the device's behalf.
func (c *Client) Email(subject, body string) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(emailPayload{Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("encoding email: %w", err)
	}

	return c.transport.Publish(c.topics.Email(), payload, 0, false)
}

// RemoteLog ships a log line to the server's device log.
func (c *Client) RemoteLog(message string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.transport.Publish(c.topics.Log(), []byte(message), 0, false)
}
