package emulator

import "time"

// GPU timestamp clock frequency used by TimeHandler
const GPU_CLOCK_HZ = 31_250_000

// Source of the 64 bit nanosecond timestamps written by 16 byte semaphore
// releases
type Clock interface {
	Timestamp() uint64
}

// Deterministic clock driven by the method stream. Every method write
// advances it by METHOD_CYCLES. Owned by a single channel
type TimeHandler struct {
	// Keeps track of the current execution time, measured in GPU clock
	// cycles at GPU_CLOCK_HZ (32ns)
	Cycles uint64
}

// Cycles charged for a single method write
const METHOD_CYCLES = 1

// Returns a new instance of TimeHandler
func NewTimeHandler() *TimeHandler {
	return &TimeHandler{}
}

// Advance the current time by `cycles`
func (th *TimeHandler) Tick(cycles uint64) {
	th.Cycles += cycles
}

// Returns the current time in nanoseconds
func (th *TimeHandler) Timestamp() uint64 {
	const ns = uint64(time.Second)
	return (th.Cycles/GPU_CLOCK_HZ)*ns + (th.Cycles%GPU_CLOCK_HZ)*ns/GPU_CLOCK_HZ
}

// Clock based on the host's monotonic time
type WallClock struct {
	Start time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{Start: time.Now()}
}

// Returns the nanoseconds elapsed since the clock was created
func (clock *WallClock) Timestamp() uint64 {
	return uint64(time.Since(clock.Start))
}
