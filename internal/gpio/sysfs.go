package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	sysfsRoot = "/sys/class/gpio"

	// exportSettle is how long to wait after exporting a line before its
	// attribute files appear.
	exportSettle = 50 * time.Millisecond
)

// SysfsHAL drives pins through the kernel's sysfs GPIO interface. PWM and
// analog reads are not available through sysfs; pins configured for those
// modes fail at setup rather than at first use.
type SysfsHAL struct {
	root string
}

// NewSysfsHAL returns a HAL over /sys/class/gpio.
func NewSysfsHAL() *SysfsHAL {
	return &SysfsHAL{root: sysfsRoot}
}

func (h *SysfsHAL) SetMode(line int, mode Mode) error {
	switch mode {
	case ModeOutput, ModeInput, ModeInputPullup:
	default:
		return fmt.Errorf("gpio: mode %s not supported by sysfs", mode)
	}

	if err := h.export(line); err != nil {
		return err
	}

	direction := "in"
	if mode == ModeOutput {
		direction = "out"
	}
	// Pull configuration is not exposed through sysfs; INPUT_PULLUP falls
	// back to a plain input and relies on board-level pulls.
	path := filepath.Join(h.root, fmt.Sprintf("gpio%d", line), "direction")
	if err := os.WriteFile(path, []byte(direction), 0o644); err != nil {
		return fmt.Errorf("gpio: setting direction on line %d: %w", line, err)
	}
	return nil
}

func (h *SysfsHAL) DigitalWrite(line int, high bool) error {
	value := "0"
	if high {
		value = "1"
	}
	path := filepath.Join(h.root, fmt.Sprintf("gpio%d", line), "value")
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("gpio: writing line %d: %w", line, err)
	}
	return nil
}

func (h *SysfsHAL) PWMWrite(line int, duty int) error {
	// Sysfs has no PWM support; degrade to the digital threshold the
	// manager applies for duty values of 0 and 1.
	return h.DigitalWrite(line, duty > 127)
}

func (h *SysfsHAL) DigitalRead(line int) (int, error) {
	path := filepath.Join(h.root, fmt.Sprintf("gpio%d", line), "value")
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("gpio: reading line %d: %w", line, err)
	}
	if strings.TrimSpace(string(buf)) == "1" {
		return 1, nil
	}
	return 0, nil
}

func (h *SysfsHAL) AnalogRead(line int) (int, error) {
	return 0, fmt.Errorf("gpio: analog read not supported by sysfs (line %d)", line)
}

func (h *SysfsHAL) export(line int) error {
	if _, err := os.Stat(filepath.Join(h.root, fmt.Sprintf("gpio%d", line))); err == nil {
		return nil
	}
	path := filepath.Join(h.root, "export")
	if err := os.WriteFile(path, []byte(strconv.Itoa(line)), 0o644); err != nil {
		return fmt.Errorf("gpio: exporting line %d: %w", line, err)
	}
	time.Sleep(exportSettle)
	return nil
}
