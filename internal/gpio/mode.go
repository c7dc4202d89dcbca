package gpio

import "strings"

// Mode is the configured role of a managed hardware pin.
type Mode int

const (
	// ModeDisabled marks an unconfigured or unrecognised mode.
	ModeDisabled Mode = iota

	// ModeOutput drives a digital level.
	ModeOutput

	// ModeInput reads a digital level.
	ModeInput

	// ModeInputPullup reads a digital level with the internal pull-up engaged.
	ModeInputPullup

	// ModePWM drives a duty cycle, with 0/1 treated as clean digital levels.
	ModePWM

	// ModeAnalogInput reads the ADC.
	ModeAnalogInput
)

// ParseMode maps a configuration mode string to a Mode, case-insensitively.
// Unknown strings map to ModeDisabled, which callers skip rather than fail on.
func ParseMode(s string) Mode {
	switch strings.ToUpper(s) {
	case "OUTPUT":
		return ModeOutput
	case "INPUT":
		return ModeInput
	case "INPUT_PULLUP":
		return ModeInputPullup
	case "PWM":
		return ModePWM
	case "ANALOG_INPUT":
		return ModeAnalogInput
	default:
		return ModeDisabled
	}
}

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeOutput:
		return "OUTPUT"
	case ModeInput:
		return "INPUT"
	case ModeInputPullup:
		return "INPUT_PULLUP"
	case ModePWM:
		return "PWM"
	case ModeAnalogInput:
		return "ANALOG_INPUT"
	default:
		return "DISABLED"
	}
}

// readable reports whether the mode is polled by the manager.
func (m Mode) readable() bool {
	return m == ModeInput || m == ModeInputPullup || m == ModeAnalogInput
}

// writable reports whether the mode accepts inbound write commands.
func (m Mode) writable() bool {
	return m == ModeOutput || m == ModePWM
}
