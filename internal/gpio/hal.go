package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownPin is returned by HAL implementations for lines they do not expose.
var ErrUnknownPin = errors.New("gpio: unknown pin")

// HAL abstracts the hardware pins the manager drives. Implementations wrap
// whatever the platform provides (sysfs, a character device, a simulator).
type HAL interface {
	// SetMode configures the direction and pull of a line before use.
	SetMode(line int, mode Mode) error

	// DigitalWrite drives a digital level on an output line.
	DigitalWrite(line int, high bool) error

	// PWMWrite drives a duty cycle in the range 0-255 on a PWM line.
	PWMWrite(line int, duty int) error

	// DigitalRead samples a digital input line, returning 0 or 1.
	DigitalRead(line int) (int, error)

	// AnalogRead samples an ADC line.
	AnalogRead(line int) (int, error)
}

// MemoryHAL is an in-process HAL for development and tests. Reads return
// whatever was last written or injected with SetInput.
type MemoryHAL struct {
	mu    sync.Mutex
	modes map[int]Mode
	level map[int]int
}

// NewMemoryHAL returns an empty in-memory HAL.
func NewMemoryHAL() *MemoryHAL {
	return &MemoryHAL{
		modes: make(map[int]Mode),
		level: make(map[int]int),
	}
}

// SetInput injects a value for an input line, as if the wire changed.
func (h *MemoryHAL) SetInput(line, value int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level[line] = value
}

// Level returns the last driven or injected value on a line.
func (h *MemoryHAL) Level(line int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level[line]
}

// Mode returns the configured mode of a line.
func (h *MemoryHAL) Mode(line int) Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.modes[line]
}

func (h *MemoryHAL) SetMode(line int, mode Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modes[line] = mode
	return nil
}

func (h *MemoryHAL) DigitalWrite(line int, high bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if high {
		h.level[line] = 1
	} else {
		h.level[line] = 0
	}
	return nil
}

func (h *MemoryHAL) PWMWrite(line int, duty int) error {
	if duty < 0 || duty > 255 {
		return fmt.Errorf("gpio: duty %d out of range", duty)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level[line] = duty
	return nil
}

func (h *MemoryHAL) DigitalRead(line int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.level[line] != 0 {
		return 1, nil
	}
	return 0, nil
}

func (h *MemoryHAL) AnalogRead(line int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level[line], nil
}
