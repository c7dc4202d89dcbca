// Package clock provides the monotonic millisecond counter used for all
// timing decisions in the device agent.
//
// The counter is deliberately a uint32, matching the millisecond timers of
// the embedded platforms this agent models: it wraps after roughly 49.7
// days. Every elapsed-time comparison in the codebase must therefore go
// through Elapsed, which is correct across wraparound.
package clock

import "time"

// Clock supplies a monotonic millisecond counter.
type Clock interface {
	// Millis returns milliseconds since an arbitrary fixed origin.
	// The value wraps at 2^32 ms.
	Millis() uint32
}

// Elapsed returns now-since using unsigned subtraction, which yields the
// correct interval even when the counter wrapped between the two samples.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// Wall is a Clock backed by the runtime monotonic clock.
type Wall struct {
	origin time.Time
}

// NewWall creates a wall clock with its origin at the time of the call.
func NewWall() *Wall {
	return &Wall{origin: time.Now()}
}

// Millis returns milliseconds elapsed since the clock was created,
// truncated to uint32.
func (w *Wall) Millis() uint32 {
	return uint32(time.Since(w.origin).Milliseconds()) // #nosec G115 -- wraparound is the contract
}

// Fake is a manually advanced Clock for deterministic tests.
type Fake struct {
	now uint32
}

// NewFake creates a fake clock starting at the given millisecond value.
func NewFake(start uint32) *Fake {
	return &Fake{now: start}
}

// Millis returns the current fake time.
func (f *Fake) Millis() uint32 { return f.now }

// Advance moves the fake clock forward by ms milliseconds.
func (f *Fake) Advance(ms uint32) { f.now += ms }

// Set moves the fake clock to an absolute millisecond value.
func (f *Fake) Set(ms uint32) { f.now = ms }
