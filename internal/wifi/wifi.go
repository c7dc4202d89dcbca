// Package wifi controls the device's wireless interface through
// NetworkManager. It implements both the station-mode operations the MQTT
// client needs (join, link state, signal, address) and the hotspot
// operations provisioning needs.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// commandTimeout bounds every nmcli invocation.
	commandTimeout = 15 * time.Second

	// hotspotConnectionName is the NetworkManager connection profile used
	// for the provisioning hotspot.
	hotspotConnectionName = "vwire-setup"

	// hotspotAddress is NetworkManager's default shared-mode gateway.
	hotspotAddress = "10.42.0.1"
)

var (
	ErrCommandFailed = errors.New("wifi: command failed")
	ErrNoInterface   = errors.New("wifi: interface not configured")
)

// Runner executes an external command and returns its combined output.
// Abstracted so tests can run without nmcli installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%w: %s: %v", ErrCommandFailed, strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Manager drives one wireless interface.
type Manager struct {
	iface  string
	runner Runner
	logger Logger
}

// NewManager returns a manager for the named interface.
func NewManager(iface string) (*Manager, error) {
	if iface == "" {
		return nil, ErrNoInterface
	}
	return &Manager{iface: iface, runner: execRunner{}, logger: noopLogger{}}, nil
}

// SetRunner replaces the command runner.
func (m *Manager) SetRunner(r Runner) {
	if r != nil {
		m.runner = r
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// ============================================================================
// STATION MODE
// ============================================================================

// StartJoin begins connecting to a network. It returns once NetworkManager
// has accepted the request; poll Connected for the result.
func (m *Manager) StartJoin(ssid, password string) error {
	args := []string{"-w", "0", "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", m.iface)

	out, err := m.run(args...)
	if err != nil {
		return fmt.Errorf("joining %q: %w", ssid, err)
	}
	m.logger.Info("join requested", "ssid", ssid, "interface", m.iface)
	m.logger.Debug("nmcli output", "output", strings.TrimSpace(out))
	return nil
}

// Connected reports whether the interface has an active connection.
func (m *Manager) Connected() bool {
	out, err := m.run("-t", "-f", "GENERAL.STATE", "device", "show", m.iface)
	if err != nil {
		m.logger.Warn("link state query failed", "error", err)
		return false
	}
	return strings.Contains(out, "(connected)")
}

// RSSI returns the signal strength of the active network in dBm, or 0 when
// unknown. nmcli reports a 0-100 quality figure; the conversion mirrors the
// one wpa_supplicant uses.
func (m *Manager) RSSI() int {
	out, err := m.run("-t", "-f", "IN-USE,SIGNAL", "device", "wifi", "list", "ifname", m.iface)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 2 {
			continue
		}
		signal, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		return signal/2 - 100
	}
	return 0
}

// IP returns the interface's IPv4 address, or "" when unassigned.
func (m *Manager) IP() string {
	out, err := m.run("-t", "-f", "IP4.ADDRESS", "device", "show", m.iface)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(out, "\n") {
		// Lines look like "IP4.ADDRESS[1]:192.168.1.40/24".
		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		addr, _, _ := strings.Cut(strings.TrimSpace(value), "/")
		if addr != "" {
			return addr
		}
	}
	return ""
}

// ============================================================================
// HOTSPOT (PROVISIONING)
// ============================================================================

// StartAP raises the setup hotspot. An empty password creates an open
// network.
func (m *Manager) StartAP(ssid, password string) error {
	args := []string{"device", "wifi", "hotspot",
		"ifname", m.iface,
		"con-name", hotspotConnectionName,
		"ssid", ssid,
	}
	if password != "" {
		args = append(args, "password", password)
	}

	if _, err := m.run(args...); err != nil {
		return fmt.Errorf("starting hotspot %q: %w", ssid, err)
	}
	m.logger.Info("hotspot started", "ssid", ssid, "interface", m.iface)
	return nil
}

// StopAP tears the hotspot down and removes its connection profile.
func (m *Manager) StopAP() error {
	if _, err := m.run("connection", "down", hotspotConnectionName); err != nil {
		return fmt.Errorf("stopping hotspot: %w", err)
	}
	// Profile removal is best effort; a stale profile is reused next time.
	if _, err := m.run("connection", "delete", hotspotConnectionName); err != nil {
		m.logger.Debug("hotspot profile removal failed", "error", err)
	}
	m.logger.Info("hotspot stopped", "interface", m.iface)
	return nil
}

// APAddress returns the address clients reach the portal on while the
// hotspot is active.
func (m *Manager) APAddress() string {
	if addr := m.IP(); addr != "" {
		return addr
	}
	return hotspotAddress
}

func (m *Manager) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return m.runner.Run(ctx, "nmcli", args...)
}
