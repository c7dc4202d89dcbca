// Package provisioning collects Wi-Fi credentials and a device token from a
// first-time user. The device raises a setup access point, serves a small
// configuration page, and stores the submitted credentials for the normal
// boot path to use.
package provisioning

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the provisioning state machine position.
type State int

const (
	StateIdle State = iota
	StateAPActive
	StateConnecting
	StateSuccess
	StateFailed
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAPActive:
		return "ap_active"
	case StateConnecting:
		return "connecting"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// joinTimeout bounds the station-mode connection attempt after the user
// submits credentials.
const joinTimeout = 30 * time.Second

// joinPollInterval is how often the join attempt is re-checked.
const joinPollInterval = 500 * time.Millisecond

// AccessPoint raises and tears down the setup hotspot.
type AccessPoint interface {
	StartAP(ssid, password string) error
	StopAP() error
	APAddress() string
}

// Joiner attempts a station-mode connection with the submitted credentials.
type Joiner interface {
	StartJoin(ssid, password string) error
	Connected() bool
}

// Logger is the subset of logging the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateCallback is invoked on every state transition.
type StateCallback func(State)

// CredentialsCallback is invoked when the user submits valid credentials,
// before the connection attempt.
type CredentialsCallback func(Credentials)

// Deps holds the manager's dependencies.
type Deps struct {
	Store  Store
	AP     AccessPoint
	Joiner Joiner
	Logger Logger
}

// Manager runs AP-mode provisioning. The HTTP server accepts configuration
// on its own goroutines; the device loop drives progress by calling Run.
type Manager struct {
	store  Store
	ap     AccessPoint
	joiner Joiner
	logger Logger

	mu          sync.Mutex
	state       State
	apSSID      string
	credentials Credentials
	confirmed   bool
	received    bool
	deadline    time.Time

	onState       StateCallback
	onCredentials CredentialsCallback

	server *Server
}

// NewManager returns a manager over the given dependencies.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("provisioning: store is required")
	}
	if deps.AP == nil {
		return nil, fmt.Errorf("provisioning: access point is required")
	}
	if deps.Joiner == nil {
		return nil, fmt.Errorf("provisioning: joiner is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		store:  deps.Store,
		ap:     deps.AP,
		joiner: deps.Joiner,
		logger: logger,
	}, nil
}

// OnStateChange registers a callback fired on every transition.
func (m *Manager) OnStateChange(fn StateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// OnCredentialsReceived registers a callback fired when the user submits
// credentials.
func (m *Manager) OnCredentialsReceived(fn CredentialsCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCredentials = fn
}

// StartAPMode raises the setup hotspot and HTTP server. The SSID is the
// configured prefix plus the device identifier. A zero timeout means the
// portal stays up until stopped.
func (m *Manager) StartAPMode(ctx context.Context, apSSID, apPassword, listen string, timeout time.Duration) error {
	m.mu.Lock()
	if m.state == StateAPActive {
		m.mu.Unlock()
		return fmt.Errorf("provisioning: already active")
	}
	m.apSSID = apSSID
	m.confirmed = false
	m.received = false
	if timeout > 0 {
		m.deadline = time.Now().Add(timeout)
	} else {
		m.deadline = time.Time{}
	}
	m.mu.Unlock()

	if err := m.ap.StartAP(apSSID, apPassword); err != nil {
		return fmt.Errorf("starting access point: %w", err)
	}

	m.server = NewServer(m, listen, m.logger)
	if err := m.server.Start(ctx); err != nil {
		_ = m.ap.StopAP()
		return fmt.Errorf("starting setup server: %w", err)
	}

	m.setState(StateAPActive)
	m.logger.Info("provisioning portal started", "ssid", apSSID, "listen", listen)
	return nil
}

// Run advances the state machine. Call it from the device loop while
// provisioning is active. After the user confirms, the hotspot is torn down
// and a station-mode join is attempted; Run blocks for the duration of that
// attempt.
func (m *Manager) Run() {
	m.mu.Lock()
	state := m.state
	confirmed := m.confirmed
	creds := m.credentials
	deadline := m.deadline
	m.mu.Unlock()

	if state != StateAPActive {
		return
	}

	if confirmed {
		m.teardownPortal()
		m.setState(StateConnecting)
		if m.join(creds) {
			m.setState(StateSuccess)
			m.logger.Info("provisioning complete", "ssid", creds.SSID)
		} else {
			m.setState(StateFailed)
			m.logger.Error("provisioning failed", "ssid", creds.SSID)
		}
		m.mu.Lock()
		m.confirmed = false
		m.mu.Unlock()
		return
	}

	if !deadline.IsZero() && time.Now().After(deadline) {
		m.teardownPortal()
		m.setState(StateTimeout)
		m.logger.Warn("provisioning timed out", "ssid", m.apSSID)
	}
}

// Stop tears down the portal and returns the manager to idle.
func (m *Manager) Stop() {
	m.teardownPortal()
	m.setState(StateIdle)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Credentials returns the submitted credentials, valid once the state has
// reached StateSuccess.
func (m *Manager) Credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials
}

// Active reports whether provisioning is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAPActive || m.state == StateConnecting
}

// submit stores credentials received from the portal and marks the session
// confirmed. Called from HTTP handler goroutines.
func (m *Manager) submit(c Credentials) error {
	if err := m.store.Save(c); err != nil {
		return err
	}

	m.mu.Lock()
	m.credentials = c
	m.received = true
	m.confirmed = true
	fn := m.onCredentials
	m.mu.Unlock()

	if fn != nil {
		fn(c)
	}
	return nil
}

// credentialsReceived reports whether a submission has landed this session.
func (m *Manager) credentialsReceived() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func (m *Manager) join(c Credentials) bool {
	if err := m.joiner.StartJoin(c.SSID, c.Password); err != nil {
		m.logger.Error("join request failed", "error", err)
		return false
	}
	deadline := time.Now().Add(joinTimeout)
	for time.Now().Before(deadline) {
		if m.joiner.Connected() {
			return true
		}
		time.Sleep(joinPollInterval)
	}
	return false
}

func (m *Manager) teardownPortal() {
	if m.server != nil {
		if err := m.server.Close(); err != nil {
			m.logger.Warn("setup server shutdown", "error", err)
		}
		m.server = nil
	}
	if err := m.ap.StopAP(); err != nil {
		m.logger.Warn("access point teardown", "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fn := m.onState
	m.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
