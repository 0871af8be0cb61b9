package emulator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A single store seen by recordingMemory
type memoryStore struct {
	Addr  uint64
	Size  int
	Value uint64
}

// RAM that records every access
type recordingMemory struct {
	*RAM
	mutex  sync.Mutex
	loads  int
	stores []memoryStore
}

func newRecordingMemory() *recordingMemory {
	return &recordingMemory{RAM: NewRAM()}
}

func (mem *recordingMemory) Load32(addr uint64) uint32 {
	mem.mutex.Lock()
	mem.loads++
	mem.mutex.Unlock()
	return mem.RAM.Load32(addr)
}

func (mem *recordingMemory) Store32(addr uint64, val uint32) {
	mem.mutex.Lock()
	mem.stores = append(mem.stores, memoryStore{Addr: addr, Size: 4, Value: uint64(val)})
	mem.mutex.Unlock()
	mem.RAM.Store32(addr, val)
}

func (mem *recordingMemory) Store64(addr uint64, val uint64) {
	mem.mutex.Lock()
	mem.stores = append(mem.stores, memoryStore{Addr: addr, Size: 8, Value: val})
	mem.mutex.Unlock()
	mem.RAM.Store64(addr, val)
}

func (mem *recordingMemory) Reduce32(addr uint64, fn func(old uint32) uint32) uint32 {
	v := mem.RAM.Reduce32(addr, fn)
	mem.mutex.Lock()
	mem.stores = append(mem.stores, memoryStore{Addr: addr, Size: 4, Value: uint64(v)})
	mem.mutex.Unlock()
	return v
}

func newTestGPFIFO(config Config) (*GPFIFO, *QueueHost) {
	host := NewQueueHost()
	config.Host = host
	if config.PollInterval == 0 {
		config.PollInterval = time.Millisecond
	}
	return NewGPFIFO(config), host
}

func mustWrite(t *testing.T, gpfifo *GPFIFO, method, argument uint32) {
	t.Helper()
	require.NoError(t, gpfifo.Write(context.Background(), method, argument))
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestGPFIFO_RegisterFileSize(t *testing.T) {
	assert.Equal(t, uintptr(256), unsafe.Sizeof(Registers{}))
	assert.Equal(t, 256, GPFIFO_REGISTER_FILE_SIZE)
}

func TestGPFIFO_WriteReadBack(t *testing.T) {
	assert := assert.New(t)
	gpfifo, _ := newTestGPFIFO(Config{})

	var expected Registers
	for method := uint32(0); method < GPFIFO_REGISTER_COUNT; method++ {
		// every trigger decodes this pattern to something non-blocking
		arg := 0xa5000000 | method<<8 | method
		mustWrite(t, gpfifo, method, arg)
		expected[method] = arg
		assert.Equal(arg, gpfifo.Read(method), "method 0x%x", method)
	}
	assert.Equal(expected, gpfifo.Registers(), spew.Sdump(gpfifo.Registers()))

	// the last write wins
	mustWrite(t, gpfifo, METHOD_NOP, 1)
	mustWrite(t, gpfifo, METHOD_NOP, 2)
	assert.Equal(uint32(2), gpfifo.Read(METHOD_NOP))
}

func TestGPFIFO_OutOfRangePanics(t *testing.T) {
	assert := assert.New(t)
	gpfifo, host := newTestGPFIFO(Config{})
	mustWrite(t, gpfifo, METHOD_SET_REFERENCE, 0x1234)
	host.Drain()
	before := gpfifo.Registers()

	assert.Panics(func() {
		gpfifo.Write(context.Background(), GPFIFO_REGISTER_COUNT, 0xdeadbeef)
	})
	assert.Panics(func() {
		gpfifo.Write(context.Background(), 0xffffffff, 0)
	})
	assert.Panics(func() {
		gpfifo.Read(GPFIFO_REGISTER_COUNT)
	})

	assert.Equal(before, gpfifo.Registers())
	assert.Empty(host.Drain())
}

func TestGPFIFO_IllegalMethod(t *testing.T) {
	assert := assert.New(t)
	gpfifo, host := newTestGPFIFO(Config{})
	mustWrite(t, gpfifo, METHOD_SEMAPHORE_C, 0x55)
	host.Drain()

	mustWrite(t, gpfifo, METHOD_ILLEGAL, 0xbad)

	events := host.Drain()
	require.Len(t, events, 1)
	assert.Equal(EVENT_FAULT, events[0].Kind)
	assert.Equal(Fault{Kind: FAULT_ILLEGAL_METHOD, Method: METHOD_ILLEGAL, Argument: 0xbad}, events[0].Fault)
	assert.True(host.InterruptPending())
	assert.True(host.Irq.IsHigh(INTERRUPT_FAULT))

	assert.Equal(uint32(0x55), gpfifo.Read(METHOD_SEMAPHORE_C))
	assert.Equal(uint32(0xbad), gpfifo.Read(METHOD_ILLEGAL))

	// the channel keeps working
	mustWrite(t, gpfifo, METHOD_SET_REFERENCE, 7)
	assert.Equal(uint32(7), gpfifo.Reference())
}

func TestGPFIFO_SetObject(t *testing.T) {
	assert := assert.New(t)
	gpfifo, host := newTestGPFIFO(Config{})

	mustWrite(t, gpfifo, METHOD_SET_OBJECT, 0x0003b197)

	assert.Equal(SetObject{Class: 0xb197, Engine: 3}, gpfifo.Object())
	assert.Equal(SetObject{Class: 0xb197, Engine: 3}, host.Object)
	events := host.Drain()
	require.Len(t, events, 1)
	assert.Equal(EVENT_BIND_OBJECT, events[0].Kind)
	assert.Equal(uint32(0x0003b197), events[0].Value)
}

func TestGPFIFO_Notifications(t *testing.T) {
	assert := assert.New(t)
	gpfifo, host := newTestGPFIFO(Config{})

	mustWrite(t, gpfifo, METHOD_NOP, 0)
	assert.Empty(host.Drain())

	mustWrite(t, gpfifo, METHOD_NON_STALL_INTERRUPT, 0)
	assert.Equal([]EventKind{EVENT_NON_STALL_INTERRUPT}, eventKinds(host.Drain()))
	assert.True(host.Irq.IsHigh(INTERRUPT_NON_STALL))
	host.Acknowledge(^uint16(1 << INTERRUPT_NON_STALL))
	assert.False(host.InterruptPending())

	mustWrite(t, gpfifo, METHOD_FB_FLUSH, 0)
	assert.Equal([]EventKind{EVENT_FB_FLUSH}, eventKinds(host.Drain()))

	mustWrite(t, gpfifo, METHOD_CRC_CHECK, 0xcafe)
	events := host.Drain()
	require.Len(t, events, 1)
	assert.Equal(Event{Kind: EVENT_CRC_CHECK, Value: 0xcafe}, events[0])

	mustWrite(t, gpfifo, METHOD_WFI, WFI_SCOPE_ALL.Encode())
	assert.Equal([]Event{{Kind: EVENT_WAIT_FOR_IDLE, Value: uint32(WFI_SCOPE_ALL)}}, host.Drain())

	mustWrite(t, gpfifo, METHOD_YIELD, YIELD_OP_NOP.Encode())
	assert.Empty(host.Drain())
	mustWrite(t, gpfifo, METHOD_YIELD, YIELD_OP_TSG.Encode())
	assert.Equal([]Event{{Kind: EVENT_YIELD, Value: uint32(YIELD_OP_TSG)}}, host.Drain())

	mustWrite(t, gpfifo, METHOD_SET_REFERENCE, 0x600d)
	assert.Empty(host.Drain())
	assert.Equal(uint32(0x600d), gpfifo.Reference())
}

func TestGPFIFO_MemOp(t *testing.T) {
	assert := assert.New(t)
	gpfifo, host := newTestGPFIFO(Config{})

	// MEM_OP_C alone only stores the scope
	mustWrite(t, gpfifo, METHOD_MEM_OP_C, TLB_INVALIDATE_PDB_ALL.Encode())
	assert.Empty(host.Drain())

	mustWrite(t, gpfifo, METHOD_MEM_OP_D, MEM_OP_MMU_TLB_INVALIDATE.Encode())
	assert.Equal([]Event{{Kind: EVENT_TLB_INVALIDATE, Value: uint32(TLB_INVALIDATE_PDB_ALL)}}, host.Drain())

	mustWrite(t, gpfifo, METHOD_MEM_OP_C, TLB_INVALIDATE_PDB_ONE.Encode())
	mustWrite(t, gpfifo, METHOD_MEM_OP_D, MEM_OP_MMU_TLB_INVALIDATE.Encode())
	assert.Equal([]Event{{Kind: EVENT_TLB_INVALIDATE, Value: uint32(TLB_INVALIDATE_PDB_ONE)}}, host.Drain())

	mustWrite(t, gpfifo, METHOD_MEM_OP_D, MEM_OP_L2_FLUSH_DIRTY.Encode())
	assert.Empty(host.Drain())

	mustWrite(t, gpfifo, METHOD_MEM_OP_D, MemOpOperation(0x1f).Encode())
	events := host.Drain()
	require.Len(t, events, 1)
	assert.Equal(FAULT_UNSUPPORTED_MEM_OP, events[0].Fault.Kind)
}

func TestGPFIFO_WaitForIdleError(t *testing.T) {
	errBusy := errors.New("busy")
	gpfifo, host := newTestGPFIFO(Config{})
	host.IdleWait = func(ctx context.Context, scope WfiScope) error {
		return errBusy
	}

	err := gpfifo.Write(context.Background(), METHOD_WFI, WFI_SCOPE_CURRENT_SCG_TYPE.Encode())
	assert.ErrorIs(t, err, errBusy)
}

func TestGPFIFO_Reset(t *testing.T) {
	assert := assert.New(t)
	gpfifo, _ := newTestGPFIFO(Config{Syncpoints: NewSyncpointSet(4)})
	mustWrite(t, gpfifo, METHOD_SET_OBJECT, 0xb197)
	mustWrite(t, gpfifo, METHOD_SYNCPOINT_A, 1)

	done := make(chan error, 1)
	go func() {
		ctrl := SyncpointControl{Operation: SYNCPOINT_OP_WAIT, WaitSwitch: SYNCPOINT_WAIT_SWITCH_ENABLED, Index: 2}
		done <- gpfifo.Write(context.Background(), METHOD_SYNCPOINT_B, ctrl.Encode())
	}()

	select {
	case err := <-done:
		t.Fatalf("wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	gpfifo.Reset()
	select {
	case err := <-done:
		assert.ErrorIs(err, ErrChannelReset)
	case <-time.After(time.Second):
		t.Fatal("reset did not cancel the wait")
	}

	assert.Equal(Registers{}, gpfifo.Registers())
	assert.Equal(SetObject{}, gpfifo.Object())

	// still usable after a reset
	mustWrite(t, gpfifo, METHOD_SYNCPOINT_A, 0)
	ctrl := SyncpointControl{Operation: SYNCPOINT_OP_WAIT, WaitSwitch: SYNCPOINT_WAIT_SWITCH_ENABLED, Index: 2}
	assert.NoError(gpfifo.Write(context.Background(), METHOD_SYNCPOINT_B, ctrl.Encode()))
}

func TestGPFIFO_Close(t *testing.T) {
	assert := assert.New(t)
	gpfifo, _ := newTestGPFIFO(Config{})
	mustWrite(t, gpfifo, METHOD_SYNCPOINT_A, 1)
	wait := SyncpointControl{Operation: SYNCPOINT_OP_WAIT, WaitSwitch: SYNCPOINT_WAIT_SWITCH_ENABLED, Index: 0}

	done := make(chan error, 1)
	go func() {
		done <- gpfifo.Write(context.Background(), METHOD_SYNCPOINT_B, wait.Encode())
	}()
	time.Sleep(10 * time.Millisecond)
	gpfifo.Close()

	select {
	case err := <-done:
		assert.ErrorIs(err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not cancel the wait")
	}

	// blocking operations fail right away, stores still land
	assert.ErrorIs(gpfifo.Write(context.Background(), METHOD_SYNCPOINT_B, wait.Encode()), ErrChannelClosed)
	mustWrite(t, gpfifo, METHOD_NOP, 3)
	assert.Equal(uint32(3), gpfifo.Read(METHOD_NOP))

	// reset does not reopen a closed channel
	gpfifo.Reset()
	assert.ErrorIs(gpfifo.Write(context.Background(), METHOD_SYNCPOINT_B, wait.Encode()), ErrChannelClosed)
}

func TestGPFIFO_WaitTimeout(t *testing.T) {
	gpfifo, _ := newTestGPFIFO(Config{WaitTimeout: 10 * time.Millisecond})
	mustWrite(t, gpfifo, METHOD_SYNCPOINT_A, 1)
	wait := SyncpointControl{Operation: SYNCPOINT_OP_WAIT, WaitSwitch: SYNCPOINT_WAIT_SWITCH_ENABLED, Index: 9}

	start := time.Now()
	err := gpfifo.Write(context.Background(), METHOD_SYNCPOINT_B, wait.Encode())
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestGPFIFO_ContextCancel(t *testing.T) {
	gpfifo, _ := newTestGPFIFO(Config{})
	mustWrite(t, gpfifo, METHOD_SYNCPOINT_A, 1)
	wait := SyncpointControl{Operation: SYNCPOINT_OP_WAIT, WaitSwitch: SYNCPOINT_WAIT_SWITCH_ENABLED, Index: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gpfifo.Write(ctx, METHOD_SYNCPOINT_B, wait.Encode())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGPFIFO_MethodWatchpoint(t *testing.T) {
	assert := assert.New(t)
	debugger := NewDebugger()
	debugger.AddMethodWatchpoint(METHOD_SET_REFERENCE)

	var hits []Watch
	debugger.OnWatch = func(watch Watch) {
		hits = append(hits, watch)
	}

	gpfifo, _ := newTestGPFIFO(Config{Debugger: debugger})
	mustWrite(t, gpfifo, METHOD_NOP, 1)
	mustWrite(t, gpfifo, METHOD_SET_REFERENCE, 42)

	assert.Equal([]Watch{{Kind: WATCH_METHOD, Method: METHOD_SET_REFERENCE, Argument: 42}}, hits)
	assert.Equal(uint64(1), debugger.Hits)
}

func TestGPFIFO_Dump(t *testing.T) {
	assert := assert.New(t)
	gpfifo, _ := newTestGPFIFO(Config{})
	mustWrite(t, gpfifo, METHOD_SET_REFERENCE, 0xabcd1234)

	dump := gpfifo.Dump(1)
	assert.Equal(GPFIFO_REGISTER_COUNT, strings.Count(dump, "\n"))
	assert.Contains(dump, "0x14 SET_REFERENCE       0xABCD1234")

	dump = gpfifo.Dump(4)
	assert.Equal(GPFIFO_REGISTER_COUNT/4, strings.Count(dump, "\n"))
	assert.Contains(dump, "SEMAPHORE_D")
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "SYNCPOINT_B", MethodName(METHOD_SYNCPOINT_B))
	assert.Equal(t, "-", MethodName(0x03))
	assert.Equal(t, "-", MethodName(0x3f))
}
