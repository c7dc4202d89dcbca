// VWire Device Agent
//
// This is the main entry point for the VWire device agent. It connects the
// device to the VWire platform over MQTT and runs the cooperative device
// loop: inbound command routing, reliable delivery retries, heartbeats,
// GPIO polling, and firmware updates.
//
// On first boot with no credentials it raises a setup hotspot and serves
// the provisioning portal until the user configures Wi-Fi and a device
// token.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vwire-io/vwire-device/internal/client"
	"github.com/vwire-io/vwire-device/internal/clock"
	"github.com/vwire-io/vwire-device/internal/gpio"
	"github.com/vwire-io/vwire-device/internal/infrastructure/config"
	"github.com/vwire-io/vwire-device/internal/infrastructure/database"
	"github.com/vwire-io/vwire-device/internal/infrastructure/logging"
	"github.com/vwire-io/vwire-device/internal/pin"
	"github.com/vwire-io/vwire-device/internal/provisioning"
	"github.com/vwire-io/vwire-device/internal/store"
	"github.com/vwire-io/vwire-device/internal/telemetry"
	"github.com/vwire-io/vwire-device/internal/timer"
	"github.com/vwire-io/vwire-device/internal/wifi"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	// loopInterval is the cadence of the cooperative device loop.
	loopInterval = 50 * time.Millisecond

	// provisioningPoll is how often the provisioning state machine is
	// advanced while the portal is up.
	provisioningPoll = 200 * time.Millisecond

	// pinSaveInterval is the cadence of the periodic pin-table save, in
	// milliseconds. Writes also happen immediately after commands.
	pinSaveInterval = 5 * 60 * 1000
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting VWire device agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	deviceID, err := resolveDeviceID(cfg)
	if err != nil {
		return err
	}
	log.Info("device identity", "device_id", deviceID, "board", cfg.Device.Board)

	// Open local database
	db, err := database.Open(database.Config{
		Path:        cfg.Store.Path,
		WALMode:     cfg.Store.WALMode,
		BusyTimeout: cfg.Store.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	st, err := store.New(ctx, db)
	if err != nil {
		return fmt.Errorf("initialising store: %w", err)
	}
	log.Info("store ready", "path", cfg.Store.Path)

	// Wireless interface
	wifiMgr, err := wifi.NewManager(cfg.WiFi.Interface)
	if err != nil {
		return fmt.Errorf("initialising wifi: %w", err)
	}
	wifiMgr.SetLogger(log)

	// Credentials: config token, stored credentials, or the provisioning
	// portal on first boot.
	creds, err := resolveCredentials(ctx, cfg, deviceID, wifiMgr, log)
	if err != nil {
		return err
	}

	settings := client.SettingsFromConfig(cfg)
	if settings.Token == "" {
		settings.Token = creds.Token
	}

	transport := client.NewPahoTransport(
		settings.Server,
		settings.Port,
		settings.UseTLS,
		cfg.GetConnectTimeout(),
		settings.MaxPayload,
	)
	transport.SetLogger(log)

	vw := client.New(settings, deviceID, client.Deps{
		Transport: transport,
		Network:   wifiMgr,
		Clock:     clock.NewWall(),
		Handlers:  client.NewHandlerSet(),
		Logger:    log,
	})

	vw.OnConnect(func() {
		log.Info("platform session established", "server", settings.Server)
	})
	vw.OnDisconnect(func() {
		log.Warn("platform session lost")
	})
	vw.OnDeliveryStatus(func(msgID string, ok bool) {
		if !ok {
			log.Warn("reliable delivery failed", "msg_id", msgID)
		}
	})

	// Firmware updates land through the OTA command topic.
	vw.EnableCloudOTA(newBinaryUpdater(log, cancelFromContext(ctx)))

	// GPIO manager
	var pins *gpio.Manager
	if cfg.GPIO.Enabled {
		pins, err = setupGPIO(ctx, cfg, st, log)
		if err != nil {
			return fmt.Errorf("initialising gpio: %w", err)
		}
	} else {
		log.Info("gpio disabled")
	}

	// Telemetry recorder (optional)
	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.Connect(cfg.Telemetry, deviceID)
		if err != nil {
			// The device is useful without local telemetry; keep going.
			log.Warn("telemetry unavailable", "error", err)
		} else {
			defer recorder.Close() //nolint:errcheck // Flushes on close
			recorder.SetOnError(func(err error) {
				log.Warn("telemetry write failed", "error", err)
			})
			vw.OnHeartbeat(recorder.RecordHeartbeat)
			log.Info("telemetry connected", "url", cfg.Telemetry.URL)
		}
	}

	// Raw observer: persist inbound virtual pin values and route hardware
	// pin commands to the GPIO manager.
	glue := &commandGlue{
		ctx:      ctx,
		store:    st,
		pins:     pins,
		recorder: recorder,
		log:      log,
	}
	vw.OnMessage(glue.observe)

	// Software timers share the device loop. The built-in ones cover
	// periodic persistence; applications embedding the client register
	// their own.
	timers := timer.NewSet(clock.NewWall())
	if pins != nil {
		if _, timerErr := timers.SetInterval(pinSaveInterval, func() {
			if saveErr := st.SavePinConfig(ctx, pins.Snapshot()); saveErr != nil {
				log.Warn("periodic pin save", "error", saveErr)
			}
		}); timerErr != nil {
			return fmt.Errorf("registering pin save timer: %w", timerErr)
		}
	}

	// Establish the session. If the network is already up (credentials in
	// config, interface managed externally) attach to it; otherwise join
	// with the provisioned credentials.
	if wifiMgr.Connected() {
		err = vw.BeginAttached()
	} else if creds.SSID != "" {
		err = vw.Begin(creds.SSID, creds.Password)
	} else {
		return fmt.Errorf("network down and no stored credentials to join with")
	}
	if err != nil {
		// Run() keeps retrying the broker while the network is up.
		log.Error("initial connect failed, will retry", "error", err)
	}

	log.Info("initialisation complete, entering device loop")

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			vw.Disconnect()
			if pins != nil {
				if saveErr := st.SavePinConfig(context.Background(), pins.Snapshot()); saveErr != nil {
					log.Error("saving pin config on shutdown", "error", saveErr)
				}
			}
			log.Info("VWire device agent stopped")
			return nil

		case <-ticker.C:
			vw.Run()
			timers.Tick()
			if pins != nil {
				pins.Poll(func(name string, value int) {
					if sendErr := vw.HardwareSend(name, value); sendErr != nil {
						log.Debug("hardware pin publish skipped", "pin", name, "error", sendErr)
					}
					if recorder != nil {
						recorder.RecordHardwarePin(name, value)
					}
				})
				glue.persistIfDirty()
			}
		}
	}
}

// resolveDeviceID returns the configured device ID, falling back to the
// hostname.
func resolveDeviceID(cfg *config.Config) (string, error) {
	if cfg.Device.ID != "" {
		return cfg.Device.ID, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolving device id: %w", err)
	}
	return hostname, nil
}

// resolveCredentials loads stored credentials, falls back to the configured
// token, or runs the provisioning portal until the user configures the
// device.
func resolveCredentials(ctx context.Context, cfg *config.Config, deviceID string, wifiMgr *wifi.Manager, log *logging.Logger) (provisioning.Credentials, error) {
	credStore := provisioning.NewFileStore(cfg.Provisioning.CredentialsPath)

	creds, err := credStore.Load()
	if err == nil {
		log.Info("using stored credentials", "ssid", creds.SSID)
		if creds.Token == "" {
			creds.Token = cfg.Device.Token
		}
		return creds, nil
	}
	if errors.Is(err, provisioning.ErrCorruptCredentials) {
		log.Warn("stored credentials corrupt, clearing", "error", err)
		_ = credStore.Clear()
	}

	if cfg.Device.Token != "" {
		// Token in config; the network is assumed to be managed externally.
		return provisioning.Credentials{Token: cfg.Device.Token}, nil
	}

	if !cfg.Provisioning.Enabled {
		return provisioning.Credentials{}, fmt.Errorf("no credentials available and provisioning is disabled")
	}

	pm, err := provisioning.NewManager(provisioning.Deps{
		Store:  credStore,
		AP:     wifiMgr,
		Joiner: wifiMgr,
		Logger: log,
	})
	if err != nil {
		return provisioning.Credentials{}, err
	}

	apSSID := cfg.Provisioning.APPrefix + shortID(deviceID)
	timeout := time.Duration(cfg.Provisioning.Timeout) * time.Millisecond
	if err := pm.StartAPMode(ctx, apSSID, "", cfg.Provisioning.Listen, timeout); err != nil {
		return provisioning.Credentials{}, err
	}
	log.Info("waiting for provisioning", "ap_ssid", apSSID)

	ticker := time.NewTicker(provisioningPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			pm.Stop()
			return provisioning.Credentials{}, ctx.Err()
		case <-ticker.C:
			pm.Run()
			switch pm.State() {
			case provisioning.StateSuccess:
				return pm.Credentials(), nil
			case provisioning.StateFailed:
				return provisioning.Credentials{}, fmt.Errorf("provisioning failed: could not join the configured network")
			case provisioning.StateTimeout:
				return provisioning.Credentials{}, fmt.Errorf("provisioning timed out")
			}
		}
	}
}

// setupGPIO builds the pin manager, restores the persisted table, then
// applies any pins declared in config on top.
func setupGPIO(ctx context.Context, cfg *config.Config, st *store.Store, log *logging.Logger) (*gpio.Manager, error) {
	pins := gpio.NewManager(gpio.NewSysfsHAL(), gpio.BoardFor(cfg.Device.Board), clock.NewWall())
	pins.SetLogger(log)

	saved, err := st.LoadPinConfig(ctx)
	if err != nil {
		return nil, err
	}
	if n := pins.Restore(saved); n > 0 {
		log.Info("restored pin config", "pins", n)
	}

	for _, p := range cfg.GPIO.Pins {
		mode := gpio.ParseMode(p.Mode)
		if mode == gpio.ModeDisabled {
			log.Warn("config pin skipped", "pin", p.Pin, "mode", p.Mode)
			continue
		}
		// #nosec G115 -- intervals validated non-negative by config
		if err := pins.AddPin(p.Pin, mode, uint32(p.Interval)); err != nil {
			log.Warn("config pin skipped", "pin", p.Pin, "error", err)
		}
	}
	log.Info("gpio ready", "pins", pins.PinCount())
	return pins, nil
}

// commandGlue connects inbound MQTT commands to local state: virtual pin
// values are persisted and recorded, hardware designators are driven
// through the GPIO manager.
type commandGlue struct {
	ctx      context.Context
	store    *store.Store
	pins     *gpio.Manager
	recorder *telemetry.Recorder
	log      *logging.Logger
	dirty    bool
}

func (g *commandGlue) observe(topic, payload string) {
	idx := strings.Index(topic, "/cmd/")
	if idx < 0 {
		return
	}
	token := topic[idx+len("/cmd/"):]
	if token == "" {
		return
	}

	if pinNum, ok := virtualPinNumber(token); ok {
		value := pin.New(payload)
		if err := g.store.SaveVirtualPin(g.ctx, pinNum, value); err != nil {
			g.log.Warn("persisting virtual pin", "pin", pinNum, "error", err)
		}
		if g.recorder != nil {
			g.recorder.RecordPinValue(pinNum, value.Float())
		}
		return
	}

	if g.pins == nil {
		return
	}

	// Hardware pin configuration document.
	if token == "gpio" {
		configured := g.pins.ApplyConfig([]byte(payload))
		g.log.Info("pin config applied", "pins", configured)
		g.dirty = true
		return
	}

	// Hardware pin write: vwire/<id>/cmd/D4 with the value as payload.
	if err := g.pins.HandleCommand(token, pin.New(payload).Int()); err != nil {
		g.log.Debug("hardware command dropped", "pin", token, "error", err)
		return
	}
	g.dirty = true
}

// persistIfDirty saves the pin table after configuration or write commands.
func (g *commandGlue) persistIfDirty() {
	if !g.dirty {
		return
	}
	g.dirty = false
	if err := g.store.SavePinConfig(g.ctx, g.pins.Snapshot()); err != nil {
		g.log.Warn("persisting pin config", "error", err)
	}
}

// virtualPinNumber reports whether a command token addresses a virtual pin.
func virtualPinNumber(token string) (int, bool) {
	s := token
	if len(s) > 0 && (s[0] == 'V' || s[0] == 'v') {
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n >= client.MaxVirtualPins {
			return 0, false
		}
	}
	return n, true
}

// shortID returns the trailing characters of the device ID used in the
// setup hotspot name.
func shortID(deviceID string) string {
	const n = 6
	if len(deviceID) <= n {
		return deviceID
	}
	return deviceID[len(deviceID)-n:]
}

// getConfigPath returns the configuration file path.
// Uses the VWIRE_CONFIG environment variable if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("VWIRE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// cancelFromContext gives the updater a way to request a graceful restart
// once a new binary is staged.
func cancelFromContext(ctx context.Context) func() {
	return func() {
		// The process manager restarts the agent; exiting cleanly is the
		// whole upgrade step.
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			return
		}
		_ = p.Signal(syscall.SIGTERM)
		<-ctx.Done()
	}
}

// binaryUpdater applies firmware images by staging the downloaded binary
// next to the running executable and swapping it in.
type binaryUpdater struct {
	log     *logging.Logger
	restart func()
}

func newBinaryUpdater(log *logging.Logger, restart func()) *binaryUpdater {
	return &binaryUpdater{log: log, restart: restart}
}

// Apply implements client.Updater.
func (u *binaryUpdater) Apply(_ context.Context, image io.Reader, size int64) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	staging := exe + ".new"
	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755) // #nosec G302 -- must be executable
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}

	written, err := io.Copy(f, image)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("writing staging file: %w", err)
	}
	if written != size {
		_ = os.Remove(staging)
		return fmt.Errorf("staged %d bytes, expected %d", written, size)
	}

	if err := os.Rename(staging, exe); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("swapping binary: %w", err)
	}

	u.log.Info("firmware staged, restarting", "path", exe, "bytes", written)
	go u.restart()
	return nil
}
