// Package gpio manages hardware pins configured at runtime: polling inputs on
// an interval, publishing changed readings, and applying inbound write
// commands to outputs.
package gpio

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/vwire-io/vwire-device/internal/clock"
)

const (
	// Capacity is the maximum number of managed pins.
	Capacity = 16

	// DefaultReadInterval applies when a pin config omits the interval.
	DefaultReadInterval = 1000

	// MinReadInterval and MaxReadInterval clamp configured poll intervals.
	MinReadInterval = 100
	MaxReadInterval = 60000

	// valueNeverRead sits outside the reachable reading range so the first
	// poll of a pin always counts as a change.
	valueNeverRead = -32768
)

var (
	ErrTableFull     = errors.New("gpio: pin table full")
	ErrNoSuchPin     = errors.New("gpio: pin not configured")
	ErrNotWritable   = errors.New("gpio: pin mode does not accept writes")
	ErrBadDesignator = errors.New("gpio: unresolvable pin designator")
)

// PublishFunc receives a changed reading from Poll. The name is the
// uppercased pin designator.
type PublishFunc func(name string, value int)

// Logger is the subset of logging the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// PinState is a snapshot of one managed pin, used for persistence.
type PinState struct {
	Name      string
	Mode      Mode
	Interval  uint32
	LastValue int
}

type managedPin struct {
	name      string
	line      int
	mode      Mode
	interval  uint32
	lastRead  uint32
	lastValue int
	active    bool
}

// Manager owns the pin table. It is not safe for concurrent use; the device
// loop calls Poll and HandleCommand from a single goroutine.
type Manager struct {
	hal    HAL
	board  BoardMap
	clk    clock.Clock
	logger Logger
	pins   [Capacity]managedPin
}

// NewManager returns a manager over the given HAL and board map.
func NewManager(hal HAL, board BoardMap, clk clock.Clock) *Manager {
	return &Manager{hal: hal, board: board, clk: clk, logger: noopLogger{}}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// pinConfigDoc is the wire shape accepted by ApplyConfig.
type pinConfigDoc struct {
	Pins []struct {
		Pin      string `json:"pin"`
		Mode     string `json:"mode"`
		Interval uint32 `json:"interval"`
	} `json:"pins"`
}

// ApplyConfig replaces entries from a JSON document of the form
// {"pins":[{"pin":"D4","mode":"INPUT","interval":1000}]}. Entries with an
// unknown mode or unresolvable designator are skipped. Returns the number of
// pins configured.
func (m *Manager) ApplyConfig(payload []byte) int {
	var doc pinConfigDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		m.logger.Warn("pin config rejected", "error", err)
		return 0
	}

	configured := 0
	for _, p := range doc.Pins {
		mode := ParseMode(p.Mode)
		if mode == ModeDisabled {
			m.logger.Warn("pin config entry skipped", "pin", p.Pin, "mode", p.Mode)
			continue
		}
		if err := m.AddPin(p.Pin, mode, p.Interval); err != nil {
			m.logger.Warn("pin config entry skipped", "pin", p.Pin, "error", err)
			continue
		}
		configured++
	}
	return configured
}

// AddPin configures a pin, replacing any existing entry with the same name.
// The name is matched case-insensitively and stored uppercased. A zero
// interval takes the default; nonzero intervals are clamped to the
// min/max range.
func (m *Manager) AddPin(name string, mode Mode, interval uint32) error {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return ErrBadDesignator
	}
	line := m.board.Resolve(key)
	if line == lineUnresolved {
		return ErrBadDesignator
	}

	switch {
	case interval == 0:
		interval = DefaultReadInterval
	case interval < MinReadInterval:
		interval = MinReadInterval
	case interval > MaxReadInterval:
		interval = MaxReadInterval
	}

	slot := m.find(key)
	if slot == nil {
		slot = m.free()
		if slot == nil {
			return ErrTableFull
		}
	}

	if err := m.hal.SetMode(line, mode); err != nil {
		return err
	}

	*slot = managedPin{
		name:      key,
		line:      line,
		mode:      mode,
		interval:  interval,
		lastRead:  m.clk.Millis(),
		lastValue: valueNeverRead,
		active:    true,
	}
	m.logger.Debug("pin configured", "pin", key, "line", line, "mode", mode.String(), "interval", interval)
	return nil
}

// RemovePin deactivates a pin by name. Unknown names are a no-op.
func (m *Manager) RemovePin(name string) {
	if p := m.find(strings.ToUpper(strings.TrimSpace(name))); p != nil {
		p.active = false
	}
}

// ClearAll deactivates every managed pin.
func (m *Manager) ClearAll() {
	for i := range m.pins {
		m.pins[i].active = false
	}
}

// Poll samples every input-mode pin whose interval has elapsed and reports
// readings that changed since the previous sample. The first read of a pin
// always publishes.
func (m *Manager) Poll(publish PublishFunc) {
	now := m.clk.Millis()
	for i := range m.pins {
		p := &m.pins[i]
		if !p.active || !p.mode.readable() {
			continue
		}
		if p.lastValue != valueNeverRead && clock.Elapsed(now, p.lastRead) < p.interval {
			continue
		}
		p.lastRead = now

		var (
			value int
			err   error
		)
		if p.mode == ModeAnalogInput {
			value, err = m.hal.AnalogRead(p.line)
		} else {
			value, err = m.hal.DigitalRead(p.line)
		}
		if err != nil {
			m.logger.Warn("pin read failed", "pin", p.name, "error", err)
			continue
		}
		if value == p.lastValue {
			continue
		}
		p.lastValue = value
		if publish != nil {
			publish(p.name, value)
		}
	}
}

// HandleCommand writes a commanded value to an output or PWM pin. The value
// is constrained to 0-255. On a PWM pin, 0 and 1 are driven as clean digital
// levels and 2-255 as a duty cycle; on a plain output any nonzero value
// drives high.
func (m *Manager) HandleCommand(name string, value int) error {
	p := m.find(strings.ToUpper(strings.TrimSpace(name)))
	if p == nil {
		return ErrNoSuchPin
	}
	if !p.mode.writable() {
		return ErrNotWritable
	}

	if value < 0 {
		value = 0
	} else if value > 255 {
		value = 255
	}

	var err error
	switch {
	case p.mode == ModePWM && value > 1:
		err = m.hal.PWMWrite(p.line, value)
	default:
		err = m.hal.DigitalWrite(p.line, value != 0)
	}
	if err != nil {
		return err
	}
	p.lastValue = value
	m.logger.Debug("pin written", "pin", p.name, "value", value)
	return nil
}

// PinCount returns the number of active pins.
func (m *Manager) PinCount() int {
	n := 0
	for i := range m.pins {
		if m.pins[i].active {
			n++
		}
	}
	return n
}

// HasPin reports whether a pin is configured, matching case-insensitively.
func (m *Manager) HasPin(name string) bool {
	return m.find(strings.ToUpper(strings.TrimSpace(name))) != nil
}

// PinValue returns the last known value of a pin and whether the pin exists.
// A pin that has never been read or written reports ok with the sentinel
// stripped to zero.
func (m *Manager) PinValue(name string) (int, bool) {
	p := m.find(strings.ToUpper(strings.TrimSpace(name)))
	if p == nil {
		return 0, false
	}
	if p.lastValue == valueNeverRead {
		return 0, true
	}
	return p.lastValue, true
}

// Snapshot returns the active pin table for persistence.
func (m *Manager) Snapshot() []PinState {
	var out []PinState
	for i := range m.pins {
		p := &m.pins[i]
		if !p.active {
			continue
		}
		out = append(out, PinState{
			Name:      p.name,
			Mode:      p.mode,
			Interval:  p.interval,
			LastValue: p.lastValue,
		})
	}
	return out
}

// Restore reconfigures pins from a persisted snapshot. Entries that no longer
// resolve on the current board are skipped.
func (m *Manager) Restore(states []PinState) int {
	restored := 0
	for _, s := range states {
		if err := m.AddPin(s.Name, s.Mode, s.Interval); err != nil {
			m.logger.Warn("pin restore skipped", "pin", s.Name, "error", err)
			continue
		}
		restored++
	}
	return restored
}

func (m *Manager) find(key string) *managedPin {
	for i := range m.pins {
		if m.pins[i].active && m.pins[i].name == key {
			return &m.pins[i]
		}
	}
	return nil
}

func (m *Manager) free() *managedPin {
	for i := range m.pins {
		if !m.pins[i].active {
			return &m.pins[i]
		}
	}
	return nil
}
