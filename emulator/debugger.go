package emulator

// What triggered a watchpoint
type WatchKind uint8

const (
	WATCH_METHOD WatchKind = 0 // A watched method was written
	WATCH_MEMORY WatchKind = 1 // A semaphore store touched a watched range
)

// A triggered watchpoint
type Watch struct {
	Kind     WatchKind
	Method   uint32 // WATCH_METHOD only
	Argument uint32 // WATCH_METHOD only
	Address  uint64 // WATCH_MEMORY only
	Size     uint64 // WATCH_MEMORY only
}

// Method and semaphore memory watchpoints of a single channel. Watchpoints
// must be configured before the channel starts writing
type Debugger struct {
	MethodWatchpoints []uint32 // Watched method indices
	WriteWatchpoints  []Range  // Watched semaphore memory ranges
	OnWatch           func(watch Watch)
	Hits              uint64 // Number of triggered watchpoints
}

func NewDebugger() *Debugger {
	return &Debugger{}
}

// Reports every write to `method`
func (debugger *Debugger) AddMethodWatchpoint(method uint32) {
	// check if that watchpoint already exists
	for _, watchpoint := range debugger.MethodWatchpoints {
		if watchpoint == method {
			return
		}
	}
	debugger.MethodWatchpoints = append(debugger.MethodWatchpoints, method)
}

// Deletes the watchpoint on `method`. Does nothing if it doesn't exist
func (debugger *Debugger) DeleteMethodWatchpoint(method uint32) {
	for idx, watchpoint := range debugger.MethodWatchpoints {
		if watchpoint == method {
			debugger.MethodWatchpoints = append(
				debugger.MethodWatchpoints[:idx],
				debugger.MethodWatchpoints[idx+1:]...,
			)
			return
		}
	}
}

// Reports every semaphore store overlapping `r`
func (debugger *Debugger) AddWriteWatchpoint(r Range) {
	for _, watchpoint := range debugger.WriteWatchpoints {
		if watchpoint == r {
			return
		}
	}
	debugger.WriteWatchpoints = append(debugger.WriteWatchpoints, r)
}

// Deletes the memory watchpoint `r`. Does nothing if it doesn't exist
func (debugger *Debugger) DeleteWriteWatchpoint(r Range) {
	for idx, watchpoint := range debugger.WriteWatchpoints {
		if watchpoint == r {
			debugger.WriteWatchpoints = append(
				debugger.WriteWatchpoints[:idx],
				debugger.WriteWatchpoints[idx+1:]...,
			)
			return
		}
	}
}

// Called by the GPFIFO after every method write
func (debugger *Debugger) methodWritten(method, argument uint32) bool {
	for _, watchpoint := range debugger.MethodWatchpoints {
		if watchpoint == method {
			debugger.trigger(Watch{Kind: WATCH_METHOD, Method: method, Argument: argument})
			return true
		}
	}
	return false
}

// Called by the GPFIFO after a semaphore store of `size` bytes at `addr`
func (debugger *Debugger) memoryWrite(addr, size uint64) (Range, bool) {
	for _, watchpoint := range debugger.WriteWatchpoints {
		if watchpoint.Overlaps(addr, size) {
			debugger.trigger(Watch{Kind: WATCH_MEMORY, Address: addr, Size: size})
			return watchpoint, true
		}
	}
	return Range{}, false
}

func (debugger *Debugger) trigger(watch Watch) {
	debugger.Hits++
	if debugger.OnWatch != nil {
		debugger.OnWatch(watch)
	}
}
