package emulator

import (
	"context"
	"sync"
)

// Number of syncpoints addressable by the 12 bit SYNCPOINT_B index
const MAX_SYNCPOINTS = 1 << 12

// A hardware counter shared by every channel. Increments and waits are
// safe for concurrent use
type Syncpoint struct {
	mutex   sync.Mutex
	value   uint32
	changed chan struct{} // Closed and replaced on every increment
}

func NewSyncpoint() *Syncpoint {
	return &Syncpoint{changed: make(chan struct{})}
}

// Returns the current counter value
func (sp *Syncpoint) Value() uint32 {
	sp.mutex.Lock()
	defer sp.mutex.Unlock()
	return sp.value
}

// Increments the counter by one, wakes up every waiter and returns the new value
func (sp *Syncpoint) Increment() uint32 {
	sp.mutex.Lock()
	defer sp.mutex.Unlock()

	sp.value++
	close(sp.changed)
	sp.changed = make(chan struct{})
	return sp.value
}

// Returns true if `value` has reached `threshold`. The comparison wraps
// around like the hardware one, so a counter that overflowed past the
// threshold still counts as reached
func syncpointReached(value, threshold uint32) bool {
	return int32(value-threshold) >= 0
}

// Blocks until the counter reaches `threshold` or `ctx` is done
func (sp *Syncpoint) Wait(ctx context.Context, threshold uint32) error {
	for {
		sp.mutex.Lock()
		if syncpointReached(sp.value, threshold) {
			sp.mutex.Unlock()
			return nil
		}
		changed := sp.changed
		sp.mutex.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Fixed arena of syncpoints indexed by SYNCPOINT_B. A single set is
// created by the owner and shared by all of its channels
type SyncpointSet struct {
	Syncpoints []*Syncpoint
}

// Returns a set of `count` syncpoints, all starting at zero. `count` is
// clamped to MAX_SYNCPOINTS
func NewSyncpointSet(count int) *SyncpointSet {
	if count <= 0 || count > MAX_SYNCPOINTS {
		count = MAX_SYNCPOINTS
	}

	set := &SyncpointSet{Syncpoints: make([]*Syncpoint, count)}
	for i := range set.Syncpoints {
		set.Syncpoints[i] = NewSyncpoint()
	}
	return set
}

// Returns the syncpoint at `index`, or false if the set is smaller
func (set *SyncpointSet) Get(index uint16) (*Syncpoint, bool) {
	if int(index) >= len(set.Syncpoints) {
		return nil, false
	}
	return set.Syncpoints[index], true
}

// Returns the number of syncpoints in the set
func (set *SyncpointSet) Len() int {
	return len(set.Syncpoints)
}

// Returns a snapshot of every counter
func (set *SyncpointSet) Values() []uint32 {
	values := make([]uint32, len(set.Syncpoints))
	for i, sp := range set.Syncpoints {
		values[i] = sp.Value()
	}
	return values
}
