package client

import "fmt"

// TopicPrefix is the root of the device topic hierarchy. Every topic a
// device publishes or subscribes to sits under vwire/{deviceId}/.
const TopicPrefix = "vwire"

// Topic suffixes within a device's hierarchy.
const (
	suffixStatus    = "status"
	suffixCommand   = "cmd"
	suffixAck       = "ack"
	suffixData      = "data"
	suffixOTA       = "ota"
	suffixOTAStatus = "ota_status"
	suffixPin       = "pin"
	suffixSync      = "sync"
	suffixHeartbeat = "heartbeat"
	suffixNotify    = "notify"
	suffixAlarm     = "alarm"
	suffixEmail     = "email"
	suffixLog       = "log"
)

// Topics provides builders for all device-scoped MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := client.Topics{DeviceID: "abc123"}
//	topics.Pin(7) // "vwire/abc123/pin/V7"
type Topics struct {
	DeviceID string
}

// Status returns the retained online/offline status topic.
//
// Example: vwire/abc123/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixStatus)
}

// CommandWildcard returns the subscription pattern covering all inbound
// commands for this device.
//
// Pattern: vwire/abc123/cmd/#
func (t Topics) CommandWildcard() string {
	return fmt.Sprintf("%s/%s/%s/#", TopicPrefix, t.DeviceID, suffixCommand)
}

// Command returns the command topic for a single pin token.
//
// Example: vwire/abc123/cmd/V7
func (t Topics) Command(pinToken string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, t.DeviceID, suffixCommand, pinToken)
}

// Ack returns the inbound delivery acknowledgment topic.
//
// Example: vwire/abc123/ack
func (t Topics) Ack() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixAck)
}

// Data returns the outbound reliable delivery envelope topic.
//
// Example: vwire/abc123/data
func (t Topics) Data() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixData)
}

// OTA returns the inbound firmware update command topic.
//
// Example: vwire/abc123/ota
func (t Topics) OTA() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixOTA)
}

// OTAStatus returns the outbound firmware update status topic.
//
// Example: vwire/abc123/ota_status
func (t Topics) OTAStatus() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixOTAStatus)
}

// Pin returns the fire-and-forget outbound topic for a virtual pin.
//
// Example: vwire/abc123/pin/V7
func (t Topics) Pin(pin int) string {
	return fmt.Sprintf("%s/%s/%s/V%d", TopicPrefix, t.DeviceID, suffixPin, pin)
}

// PinNamed returns the outbound topic for a named hardware pin.
//
// Example: vwire/abc123/pin/D4
func (t Topics) PinNamed(name string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, t.DeviceID, suffixPin, name)
}

// Sync returns the "send me all last values" request topic.
//
// Example: vwire/abc123/sync
func (t Topics) Sync() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixSync)
}

// SyncPin returns the per-pin "send me the last value" request topic.
//
// Example: vwire/abc123/sync/V7
func (t Topics) SyncPin(pin int) string {
	return fmt.Sprintf("%s/%s/%s/V%d", TopicPrefix, t.DeviceID, suffixSync, pin)
}

// Heartbeat returns the periodic liveness topic.
//
// Example: vwire/abc123/heartbeat
func (t Topics) Heartbeat() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixHeartbeat)
}

// Notify returns the one-way notification topic.
//
// Example: vwire/abc123/notify
func (t Topics) Notify() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixNotify)
}

// Alarm returns the high-priority alert topic.
//
// Example: vwire/abc123/alarm
func (t Topics) Alarm() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixAlarm)
}

// Email returns the email request topic.
//
// Example: vwire/abc123/email
func (t Topics) Email() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixEmail)
}

// Log returns the remote log topic.
//
// Example: vwire/abc123/log
func (t Topics) Log() string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, t.DeviceID, suffixLog)
}
