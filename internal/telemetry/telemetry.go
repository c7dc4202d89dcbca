// Package telemetry records device health samples to InfluxDB. It is an
// optional sidecar to the MQTT session: heartbeats and pin readings already
// travel to the platform, this keeps a local time-series history for
// dashboards on the same network.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vwire-io/vwire-device/internal/client"
	"github.com/vwire-io/vwire-device/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultFlushInterval = 10 // seconds
	batchSize            = 50
)

var (
	// ErrDisabled indicates telemetry is disabled in configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected indicates the recorder is not connected.
	ErrNotConnected = errors.New("telemetry: not connected")
)

// Recorder wraps the InfluxDB v2 client. Writes are non-blocking and
// batched; all methods are safe for concurrent use.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	deviceID string

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server and verifies it
// with a ping.
//
// Parameters:
//   - cfg: Telemetry configuration from config.yaml
//   - deviceID: Tag applied to every recorded point
//
// Returns:
//   - *Recorder: Connected recorder ready for use
//   - error: If telemetry is disabled or connection fails
func Connect(cfg config.TelemetryConfig, deviceID string) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- flush interval validated above to be positive
	c := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := c.Ping(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		c.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:    c,
		writeAPI:  c.WriteAPI(cfg.Org, cfg.Bucket),
		deviceID:  deviceID,
		connected: true,
	}

	go r.handleWriteErrors(r.writeAPI.Errors())

	return r, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// RecordHeartbeat writes one heartbeat sample. Wire it to the MQTT client:
//
//	vw.OnHeartbeat(recorder.RecordHeartbeat)
func (r *Recorder) RecordHeartbeat(hb client.Heartbeat) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"heartbeat",
		map[string]string{
			"device_id": r.deviceID,
			"firmware":  hb.Firmware,
		},
		map[string]interface{}{
			"uptime_s":  int64(hb.Uptime),
			"heap":      int64(hb.Heap), // #nosec G115 -- heap sizes fit int64
			"rssi_dbm":  hb.RSSI,
			"ip":        hb.IP,
			"ota_ready": hb.OTA,
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// RecordPinValue writes one virtual pin reading.
func (r *Recorder) RecordPinValue(pinNum int, value float64) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"virtual_pin",
		map[string]string{
			"device_id": r.deviceID,
			"pin":       fmt.Sprintf("V%d", pinNum),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// RecordHardwarePin writes one hardware pin reading by designator.
func (r *Recorder) RecordHardwarePin(name string, value int) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"hardware_pin",
		map[string]string{
			"device_id": r.deviceID,
			"pin":       name,
		},
		map[string]interface{}{
			"value": int64(value),
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// HealthCheck verifies the InfluxDB connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := r.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the last known connection state.
func (r *Recorder) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// SetOnError sets a callback invoked when async write errors occur.
func (r *Recorder) SetOnError(callback func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

// Flush forces all pending writes to be sent. Blocks until buffered points
// are written. Safe to call after Close (no-op).
func (r *Recorder) Flush() {
	if r.writeAPI == nil || !r.IsConnected() {
		return
	}
	r.writeAPI.Flush()
}

// Close flushes pending writes and shuts the recorder down.
func (r *Recorder) Close() error {
	if r.client == nil {
		return nil
	}

	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()
	return nil
}
