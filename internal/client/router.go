package client

import (
	"strings"

	"github.com/vwire-io/vwire-device/internal/pin"
)

// route is the single entry point for inbound messages. Dispatch order,
// first match wins:
//
//  1. Raw observer callback (never short-circuits)
//  2. OTA command topic, when cloud OTA is enabled
//  3. ACK topic (reliable delivery acknowledgments)
//  4. Command topics: cmd/<pinToken>
//
// Malformed or out-of-range input is dropped silently. Inbound data must
// never crash or stall the loop.
func (c *Client) route(topic string, payload []byte) {
	if c.settings.MaxPayload > 0 && len(payload) > c.settings.MaxPayload {
		payload = payload[:c.settings.MaxPayload]
	}

	c.logger.Debug("received", "topic", topic, "bytes", len(payload))

	if c.rawHandler != nil {
		c.rawHandler(topic, string(payload))
	}

	if c.cloudOTA && strings.HasSuffix(topic, "/"+suffixOTA) {
		c.handleCloudOTA(payload)
		return
	}

	if strings.HasSuffix(topic, "/"+suffixAck) {
		if msgID, ok, found := parseAck(string(payload)); found {
			c.handleAck(msgID, ok)
		}
		return
	}

	infix := "/" + suffixCommand + "/"
	idx := strings.Index(topic, infix)
	if idx < 0 {
		return
	}

	pinNum, ok := parsePinToken(topic[idx+len(infix):])
	if !ok || pinNum < 0 || pinNum >= MaxVirtualPins {
		return
	}

	value := pin.New(string(payload))

	// Handlers registered on the client take precedence over the set
	// supplied at construction. At most one handler fires.
	for i := 0; i < c.manualCount; i++ {
		if c.manual[i].active && c.manual[i].pin == pinNum {
			c.manual[i].handler(value)
			return
		}
	}

	if c.handlers != nil {
		if handler := c.handlers.lookup(pinNum); handler != nil {
			handler(value)
		}
	}
}

// parseAck extracts msgId and ok from an ACK payload with a direct
// substring scan. A full JSON parse is deliberately avoided: the payload
// shape is fixed ({"msgId":"...","ok":true|false}) and the scan cannot
// fail in a way that matters, only report "not found".
func parseAck(payload string) (msgID string, ok bool, found bool) {
	const msgIDKey = `"msgId":"`
	const okKey = `"ok":`

	start := strings.Index(payload, msgIDKey)
	okPos := strings.Index(payload, okKey)
	if start < 0 || okPos < 0 {
		return "", false, false
	}

	start += len(msgIDKey)
	end := strings.IndexByte(payload[start:], '"')
	if end < 0 {
		return "", false, false
	}

	msgID = payload[start : start+end]
	ok = strings.Contains(payload[okPos+len(okKey):], "true")
	return msgID, ok, true
}

// parsePinToken parses a pin number from a command topic token, accepting
// an optional leading V prefix. The token may carry trailing characters
// (e.g. a sub-path); parsing stops at the first non-digit.
func parsePinToken(token string) (int, bool) {
	if token == "" {
		return 0, false
	}
	if token[0] == 'V' || token[0] == 'v' {
		token = token[1:]
	}

	n := 0
	digits := 0
	for digits < len(token) && token[digits] >= '0' && token[digits] <= '9' {
		n = n*10 + int(token[digits]-'0')
		digits++
		if n > MaxVirtualPins {
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}

	return n, true
}

// handleAck resolves a pending reliable message. Unknown identifiers are
// duplicates or late ACKs for already-dropped messages; they are logged and
// ignored without touching any other slot.
func (c *Client) handleAck(msgID string, ok bool) {
	if !c.queue.take(msgID) {
		c.logger.Debug("ack for unknown message", "msg_id", msgID)
		return
	}

	c.logger.Debug("ack received", "msg_id", msgID, "ok", ok)
	if c.deliveryHandler != nil {
		c.deliveryHandler(msgID, ok)
	}
}
