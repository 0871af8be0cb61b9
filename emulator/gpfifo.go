package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unsafe"
)

const (
	GPFIFO_REGISTER_COUNT     = 0x40                      // Size of the register space in units of uint32
	GPFIFO_REGISTER_FILE_SIZE = GPFIFO_REGISTER_COUNT * 4 // Size of the register space in bytes
)

// Method indices of the B06F host class. Indices that are not listed are
// padding, writes to them are stored and otherwise ignored
const (
	METHOD_SET_OBJECT          uint32 = 0x00
	METHOD_ILLEGAL             uint32 = 0x01
	METHOD_NOP                 uint32 = 0x02
	METHOD_SEMAPHORE_A         uint32 = 0x04 // Semaphore address bits [39:32]
	METHOD_SEMAPHORE_B         uint32 = 0x05 // Semaphore address bits [31:2]
	METHOD_SEMAPHORE_C         uint32 = 0x06 // Semaphore payload
	METHOD_SEMAPHORE_D         uint32 = 0x07 // Semaphore control, triggers the operation
	METHOD_NON_STALL_INTERRUPT uint32 = 0x08
	METHOD_FB_FLUSH            uint32 = 0x09
	METHOD_MEM_OP_C            uint32 = 0x0c
	METHOD_MEM_OP_D            uint32 = 0x0d // Triggers the memory operation
	METHOD_SET_REFERENCE       uint32 = 0x14
	METHOD_SYNCPOINT_A         uint32 = 0x1c // Syncpoint payload
	METHOD_SYNCPOINT_B         uint32 = 0x1d // Syncpoint control, triggers the operation
	METHOD_WFI                 uint32 = 0x1e
	METHOD_CRC_CHECK           uint32 = 0x1f
	METHOD_YIELD               uint32 = 0x20
)

// Names of the methods with a defined meaning
var MethodNames = map[uint32]string{
	METHOD_SET_OBJECT:          "SET_OBJECT",
	METHOD_ILLEGAL:             "ILLEGAL",
	METHOD_NOP:                 "NOP",
	METHOD_SEMAPHORE_A:         "SEMAPHORE_A",
	METHOD_SEMAPHORE_B:         "SEMAPHORE_B",
	METHOD_SEMAPHORE_C:         "SEMAPHORE_C",
	METHOD_SEMAPHORE_D:         "SEMAPHORE_D",
	METHOD_NON_STALL_INTERRUPT: "NON_STALL_INTERRUPT",
	METHOD_FB_FLUSH:            "FB_FLUSH",
	METHOD_MEM_OP_C:            "MEM_OP_C",
	METHOD_MEM_OP_D:            "MEM_OP_D",
	METHOD_SET_REFERENCE:       "SET_REFERENCE",
	METHOD_SYNCPOINT_A:         "SYNCPOINT_A",
	METHOD_SYNCPOINT_B:         "SYNCPOINT_B",
	METHOD_WFI:                 "WFI",
	METHOD_CRC_CHECK:           "CRC_CHECK",
	METHOD_YIELD:               "YIELD",
}

// Returns the name of the method index, or "-" for padding
func MethodName(method uint32) string {
	if name, ok := MethodNames[method]; ok {
		return name
	}
	return "-"
}

// Raw register file. This is the only stored state, named fields are
// decoded from it when a triggering method is written
type Registers [GPFIFO_REGISTER_COUNT]uint32

// compile-time check that the register file is exactly 64 words
var _ = [1]struct{}{}[unsafe.Sizeof(Registers{})-GPFIFO_REGISTER_FILE_SIZE]

// Default interval between two reads of a semaphore being acquired
const DEFAULT_POLL_INTERVAL = 100 * time.Microsecond

var (
	ErrChannelClosed = errors.New("gpfifo: channel closed")
	ErrChannelReset  = errors.New("gpfifo: channel reset")
	ErrWaitTimeout   = errors.New("gpfifo: wait timed out")
)

// Collaborators and tunables of a GPFIFO. Zero values are replaced by
// defaults in NewGPFIFO
type Config struct {
	Memory     Memory        // Semaphore memory, defaults to a private RAM
	Syncpoints *SyncpointSet // Syncpoints, share one set between channels
	Host       Host          // Receives side effects, defaults to ignoring them
	Clock      Clock         // Semaphore timestamps, defaults to a TimeHandler
	Logger     *slog.Logger  // Method trace at debug level, defaults to discarding
	Debugger   *Debugger     // Optional watchpoints
	// Bound on semaphore acquires, syncpoint waits and WFIs. Zero waits
	// until the channel is reset or closed
	WaitTimeout  time.Duration
	PollInterval time.Duration // Defaults to DEFAULT_POLL_INTERVAL
}

// Emulated GPFIFO of a single command channel
type GPFIFO struct {
	mutex  sync.RWMutex
	regs   Registers
	object SetObject // Last SET_OBJECT

	memory       Memory
	syncpoints   *SyncpointSet
	host         Host
	clock        Clock
	logger       *slog.Logger
	debugger     *Debugger
	waitTimeout  time.Duration
	pollInterval time.Duration

	// Cancelled by Reset and Close to abort in-flight waits
	epochMutex  sync.Mutex
	epoch       context.Context
	cancelEpoch context.CancelCauseFunc
}

// Creates a new GPFIFO with zeroed registers
func NewGPFIFO(config Config) *GPFIFO {
	gpfifo := &GPFIFO{
		memory:       config.Memory,
		syncpoints:   config.Syncpoints,
		host:         config.Host,
		clock:        config.Clock,
		logger:       config.Logger,
		debugger:     config.Debugger,
		waitTimeout:  config.WaitTimeout,
		pollInterval: config.PollInterval,
	}

	if gpfifo.memory == nil {
		gpfifo.memory = NewRAM()
	}
	if gpfifo.syncpoints == nil {
		gpfifo.syncpoints = NewSyncpointSet(MAX_SYNCPOINTS)
	}
	if gpfifo.host == nil {
		gpfifo.host = nopHost{}
	}
	if gpfifo.clock == nil {
		gpfifo.clock = NewTimeHandler()
	}
	if gpfifo.logger == nil {
		gpfifo.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if gpfifo.pollInterval <= 0 {
		gpfifo.pollInterval = DEFAULT_POLL_INTERVAL
	}

	gpfifo.epoch, gpfifo.cancelEpoch = context.WithCancelCause(context.Background())
	return gpfifo
}

// Handles a method write from the owning channel. `method` must be below
// GPFIFO_REGISTER_COUNT, anything else is a bug in the caller and panics.
//
// The argument is always stored. If the method triggers an operation, the
// operation runs with the register values written before it. The returned
// error is non-nil only when a blocking wait was cancelled or timed out, in
// which case the operation had no side effect. Recoverable faults are
// reported to the Host instead
func (gpfifo *GPFIFO) Write(ctx context.Context, method, argument uint32) error {
	if method >= GPFIFO_REGISTER_COUNT {
		panicFmt("gpfifo: method 0x%x out of range", method)
	}

	if gpfifo.logger.Enabled(ctx, slog.LevelDebug) {
		gpfifo.logger.Debug("called method in GPFIFO",
			"method", fmt.Sprintf("0x%X", method),
			"name", MethodName(method),
			"argument", fmt.Sprintf("0x%X", argument),
		)
	}

	gpfifo.mutex.Lock()
	gpfifo.regs[method] = argument
	regs := gpfifo.regs
	gpfifo.mutex.Unlock()

	if ticker, ok := gpfifo.clock.(interface{ Tick(cycles uint64) }); ok {
		ticker.Tick(METHOD_CYCLES)
	}
	if gpfifo.debugger != nil && gpfifo.debugger.methodWritten(method, argument) {
		gpfifo.logger.Info("method watchpoint", "method", MethodName(method), "argument", argument)
	}

	switch method {
	case METHOD_SET_OBJECT:
		obj := DecodeSetObject(argument)
		gpfifo.mutex.Lock()
		gpfifo.object = obj
		gpfifo.mutex.Unlock()
		gpfifo.host.BindObject(obj)
	case METHOD_ILLEGAL:
		gpfifo.fault(FAULT_ILLEGAL_METHOD, method, argument)
	case METHOD_SEMAPHORE_D:
		return gpfifo.executeSemaphore(ctx, newSemaphoreRequest(&regs))
	case METHOD_NON_STALL_INTERRUPT:
		gpfifo.host.NonStallInterrupt()
	case METHOD_FB_FLUSH:
		gpfifo.host.FlushFramebuffer()
	case METHOD_MEM_OP_D:
		gpfifo.executeMemOp(regs[METHOD_MEM_OP_C], argument)
	case METHOD_SYNCPOINT_B:
		return gpfifo.executeSyncpoint(ctx, regs[METHOD_SYNCPOINT_A], argument)
	case METHOD_WFI:
		scope := DecodeWfiScope(argument)
		err := gpfifo.block(ctx, func(ctx context.Context) error {
			return gpfifo.host.WaitForIdle(ctx, scope)
		})
		if err != nil {
			return fmt.Errorf("wait for idle (%s): %w", scope, err)
		}
	case METHOD_CRC_CHECK:
		gpfifo.host.CheckCRC(argument)
	case METHOD_YIELD:
		if op := DecodeYieldOp(argument); op != YIELD_OP_NOP {
			gpfifo.host.Yield(op)
		}
	}
	return nil
}

// MEM_OP_D: only TLB invalidation has an observable effect here, the cache
// maintenance operations complete immediately
func (gpfifo *GPFIFO) executeMemOp(memOpC, memOpD uint32) {
	op := DecodeMemOpOperation(memOpD)
	switch {
	case !op.Valid():
		gpfifo.fault(FAULT_UNSUPPORTED_MEM_OP, METHOD_MEM_OP_D, memOpD)
	case op == MEM_OP_MMU_TLB_INVALIDATE:
		gpfifo.host.InvalidateTLB(DecodeTlbInvalidatePdb(memOpC))
	default:
		gpfifo.logger.Debug("memory operation", "operation", fmt.Sprintf("0x%x", uint8(op)))
	}
}

// SYNCPOINT_B: increment, or wait for the counter to reach SYNCPOINT_A
func (gpfifo *GPFIFO) executeSyncpoint(ctx context.Context, payload, control uint32) error {
	ctrl := DecodeSyncpointControl(control)
	sp, ok := gpfifo.syncpoints.Get(ctrl.Index)
	if !ok {
		gpfifo.fault(FAULT_INVALID_SYNCPOINT, METHOD_SYNCPOINT_B, control)
		return nil
	}

	switch ctrl.Operation {
	case SYNCPOINT_OP_INCR:
		value := sp.Increment()
		gpfifo.logger.Debug("syncpoint increment", "index", ctrl.Index, "value", value)
	case SYNCPOINT_OP_WAIT:
		if ctrl.WaitSwitch == SYNCPOINT_WAIT_SWITCH_DISABLED {
			return nil
		}
		err := gpfifo.block(ctx, func(ctx context.Context) error {
			return sp.Wait(ctx, payload)
		})
		if err != nil {
			return fmt.Errorf("syncpoint %d wait for %d: %w", ctrl.Index, payload, err)
		}
	}
	return nil
}

func (gpfifo *GPFIFO) fault(kind FaultKind, method, argument uint32) {
	fault := Fault{Kind: kind, Method: method, Argument: argument}
	gpfifo.logger.Warn("GPFIFO fault", "fault", kind.String(), "method", MethodName(method), "argument", argument)
	gpfifo.host.Fault(fault)
}

func (gpfifo *GPFIFO) memoryWritten(addr, size uint64) {
	if gpfifo.debugger == nil {
		return
	}
	if r, ok := gpfifo.debugger.memoryWrite(addr, size); ok {
		gpfifo.logger.Info("memory watchpoint",
			"address", fmt.Sprintf("0x%010x", addr),
			"offset", r.Offset(addr),
		)
	}
}

// Runs `wait` with a context that is also cancelled by Reset, Close and
// the configured timeout. Returns the cancellation cause if it fired
func (gpfifo *GPFIFO) block(ctx context.Context, wait func(ctx context.Context) error) error {
	gpfifo.epochMutex.Lock()
	epoch := gpfifo.epoch
	gpfifo.epochMutex.Unlock()

	if err := context.Cause(epoch); err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(epoch, func() {
		cancel(context.Cause(epoch))
	})
	defer stop()

	if gpfifo.waitTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, gpfifo.waitTimeout, ErrWaitTimeout)
		defer cancelTimeout()
	}

	if err := wait(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	return nil
}

// Returns the last value written to `method`
func (gpfifo *GPFIFO) Read(method uint32) uint32 {
	if method >= GPFIFO_REGISTER_COUNT {
		panicFmt("gpfifo: method 0x%x out of range", method)
	}
	gpfifo.mutex.RLock()
	defer gpfifo.mutex.RUnlock()
	return gpfifo.regs[method]
}

// Returns a copy of the register file
func (gpfifo *GPFIFO) Registers() Registers {
	gpfifo.mutex.RLock()
	defer gpfifo.mutex.RUnlock()
	return gpfifo.regs
}

// Returns the class and engine selected by the last SET_OBJECT
func (gpfifo *GPFIFO) Object() SetObject {
	gpfifo.mutex.RLock()
	defer gpfifo.mutex.RUnlock()
	return gpfifo.object
}

// Returns the marker stored by SET_REFERENCE
func (gpfifo *GPFIFO) Reference() uint32 {
	return gpfifo.Read(METHOD_SET_REFERENCE)
}

// Returns the syncpoint set used by this channel
func (gpfifo *GPFIFO) Syncpoints() *SyncpointSet {
	return gpfifo.syncpoints
}

// Channel reset: aborts in-flight waits with ErrChannelReset and clears the
// registers. The GPFIFO stays usable
func (gpfifo *GPFIFO) Reset() {
	gpfifo.epochMutex.Lock()
	if context.Cause(gpfifo.epoch) == nil {
		gpfifo.cancelEpoch(ErrChannelReset)
		gpfifo.epoch, gpfifo.cancelEpoch = context.WithCancelCause(context.Background())
	}
	gpfifo.epochMutex.Unlock()

	gpfifo.mutex.Lock()
	gpfifo.regs = Registers{}
	gpfifo.object = SetObject{}
	gpfifo.mutex.Unlock()
}

// Channel teardown: aborts in-flight waits with ErrChannelClosed. Every
// later blocking operation fails immediately
func (gpfifo *GPFIFO) Close() {
	gpfifo.epochMutex.Lock()
	defer gpfifo.epochMutex.Unlock()
	gpfifo.cancelEpoch(ErrChannelClosed)
}

// Formats the register file as `columns` columns of "index name value" cells
func (gpfifo *GPFIFO) Dump(columns int) string {
	regs := gpfifo.Registers()
	if columns < 1 {
		columns = 1
	}

	rows := (GPFIFO_REGISTER_COUNT + columns - 1) / columns
	var sb strings.Builder
	for row := 0; row < rows; row++ {
		for col := 0; col < columns; col++ {
			method := uint32(col*rows + row)
			if method >= GPFIFO_REGISTER_COUNT {
				break
			}
			if col > 0 {
				sb.WriteString("  ")
			}
			fmt.Fprintf(&sb, "0x%02X %-19s 0x%08X", method, MethodName(method), regs[method])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
