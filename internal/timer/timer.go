// Package timer implements a fixed-capacity software timer table driven by
// a millisecond tick. Timers fire from Tick, never from a background
// goroutine, so callbacks run on the same loop that services the rest of
// the device and need no locking against it.
package timer

import (
	"errors"

	"github.com/vwire-io/vwire-device/internal/clock"
)

// Capacity is the number of timer slots available in one Set.
const Capacity = 16

// RunForever marks a timer that repeats until deleted.
const RunForever = -1

// ErrNoFreeSlot is returned when every timer slot is already occupied.
var ErrNoFreeSlot = errors.New("timer: no free slot")

// ID identifies a scheduled timer within its Set.
type ID int

// Callback runs when a timer fires.
type Callback func()

type slot struct {
	active   bool
	enabled  bool
	interval uint32
	lastRun  uint32
	runs     int
	maxRuns  int
	fn       Callback
}

// Set is a table of software timers sharing one clock. It is not safe for
// concurrent use; all calls must come from the owning loop.
type Set struct {
	clk   clock.Clock
	slots [Capacity]slot
}

// NewSet builds an empty timer table on the given clock.
func NewSet(clk clock.Clock) *Set {
	return &Set{clk: clk}
}

// SetInterval schedules fn to run every interval milliseconds until the
// timer is deleted.
func (s *Set) SetInterval(interval uint32, fn Callback) (ID, error) {
	return s.SetTimer(interval, fn, RunForever)
}

// SetTimeout schedules fn to run once after interval milliseconds. The slot
// frees itself after firing.
func (s *Set) SetTimeout(interval uint32, fn Callback) (ID, error) {
	return s.SetTimer(interval, fn, 1)
}

// SetTimer schedules fn to run every interval milliseconds at most maxRuns
// times. Pass RunForever to repeat until deleted. The slot frees itself once
// the run limit is reached.
func (s *Set) SetTimer(interval uint32, fn Callback, maxRuns int) (ID, error) {
	if fn == nil || maxRuns == 0 {
		return -1, ErrNoFreeSlot
	}
	for i := range s.slots {
		if s.slots[i].active {
			continue
		}
		s.slots[i] = slot{
			active:   true,
			enabled:  true,
			interval: interval,
			lastRun:  s.clk.Millis(),
			maxRuns:  maxRuns,
			fn:       fn,
		}
		return ID(i), nil
	}
	return -1, ErrNoFreeSlot
}

// Delete frees the timer slot. Deleting an unknown or already-freed timer
// is a no-op.
func (s *Set) Delete(id ID) {
	if id < 0 || int(id) >= Capacity {
		return
	}
	s.slots[id] = slot{}
}

// Enable resumes a paused timer. The interval is measured from now, not
// from when the timer was disabled.
func (s *Set) Enable(id ID) {
	if id < 0 || int(id) >= Capacity || !s.slots[id].active {
		return
	}
	s.slots[id].enabled = true
	s.slots[id].lastRun = s.clk.Millis()
}

// Disable pauses a timer without freeing its slot.
func (s *Set) Disable(id ID) {
	if id < 0 || int(id) >= Capacity || !s.slots[id].active {
		return
	}
	s.slots[id].enabled = false
}

// IsEnabled reports whether the timer exists and is currently running.
func (s *Set) IsEnabled(id ID) bool {
	if id < 0 || int(id) >= Capacity {
		return false
	}
	return s.slots[id].active && s.slots[id].enabled
}

// Active returns the number of occupied slots.
func (s *Set) Active() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].active {
			n++
		}
	}
	return n
}

// Tick fires every due timer once and frees slots that have reached their
// run limit. Callbacks may schedule or delete timers; a timer scheduled
// during Tick first fires on a later tick.
func (s *Set) Tick() {
	now := s.clk.Millis()
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.active || !sl.enabled || sl.fn == nil {
			continue
		}
		if clock.Elapsed(now, sl.lastRun) < sl.interval {
			continue
		}
		sl.lastRun = now
		sl.runs++
		fn := sl.fn
		if sl.maxRuns != RunForever && sl.runs >= sl.maxRuns {
			s.slots[i] = slot{}
		}
		fn()
	}
}
