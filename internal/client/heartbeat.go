package client

import (
	"encoding/json"
	"runtime"
)

// Heartbeat is the periodic liveness report published on the heartbeat
// topic and handed to any registered heartbeat sink.
type Heartbeat struct {
	// Uptime is seconds since the current session was established.
	Uptime uint32 `json:"uptime"`

	// Heap is the process heap in use, in bytes.
	Heap uint64 `json:"heap"`

	// RSSI is the network signal strength in dBm.
	RSSI int `json:"rssi"`

	// IP is the device's current address.
	IP string `json:"ip"`

	// Firmware is the running firmware version.
	Firmware string `json:"fw"`

	// OTA marks that the device accepts firmware update commands.
	OTA bool `json:"ota,omitempty"`
}

// sendHeartbeat publishes the liveness report. Failures are logged and
// otherwise ignored; the next interval tries again.
func (c *Client) sendHeartbeat() {
	if !c.Connected() {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	hb := Heartbeat{
		Uptime:   c.Uptime(),
		Heap:     mem.HeapAlloc,
		RSSI:     c.network.RSSI(),
		IP:       c.network.IP(),
		Firmware: c.settings.Firmware,
		OTA:      c.cloudOTA,
	}

	body, err := json.Marshal(hb)
	if err != nil {
		c.logger.Error("encoding heartbeat", "error", err)
		return
	}

	if err := c.transport.Publish(c.topics.Heartbeat(), body, 0, false); err != nil {
		c.logger.Warn("heartbeat publish failed", "error", err)
		return
	}

	if c.heartbeatSink != nil {
		c.heartbeatSink(hb)
	}
}
