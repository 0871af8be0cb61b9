package emulator

import (
	"context"
	"fmt"
	"sync"
)

// Collaborator notified of the side effects of method writes. It stands in
// for the channel scheduler, the memory management unit and the engine
// framework that owns the GPFIFO
type Host interface {
	BindObject(obj SetObject)                              // SET_OBJECT
	Fault(fault Fault)                                     // Recoverable protocol faults
	NonStallInterrupt()                                    // NON_STALL_INTERRUPT
	FlushFramebuffer()                                     // FB_FLUSH
	InvalidateTLB(pdb TlbInvalidatePdb)                    // MEM_OP_D with MMU_TLB_INVALIDATE
	WaitForIdle(ctx context.Context, scope WfiScope) error // WFI and release WFI
	CheckCRC(crc uint32)                                   // CRC_CHECK
	Yield(op YieldOp)                                      // YIELD and acquire switching
}

// Kind of recoverable fault raised by the GPFIFO
type FaultKind uint8

const (
	FAULT_ILLEGAL_METHOD           FaultKind = iota // ILLEGAL was written
	FAULT_UNSUPPORTED_SEMAPHORE_OP FaultKind = iota // Reserved operation or reduction in SEMAPHORE_D
	FAULT_UNSUPPORTED_MEM_OP       FaultKind = iota // Unknown operation in MEM_OP_D
	FAULT_INVALID_SYNCPOINT        FaultKind = iota // SYNCPOINT_B index outside of the syncpoint set
)

func (kind FaultKind) String() string {
	switch kind {
	case FAULT_ILLEGAL_METHOD:
		return "illegal method"
	case FAULT_UNSUPPORTED_SEMAPHORE_OP:
		return "unsupported semaphore operation"
	case FAULT_UNSUPPORTED_MEM_OP:
		return "unsupported memory operation"
	case FAULT_INVALID_SYNCPOINT:
		return "invalid syncpoint"
	}
	return fmt.Sprintf("fault(%d)", uint8(kind))
}

// A recoverable fault. The write that raised it had no side effect besides
// the raw register store
type Fault struct {
	Kind     FaultKind
	Method   uint32 // Method index that raised the fault
	Argument uint32 // Argument written to that method
}

func (fault Fault) Error() string {
	return fmt.Sprintf("gpfifo: %s (method 0x%x, argument 0x%x)", fault.Kind, fault.Method, fault.Argument)
}

// Host that ignores every notification
type nopHost struct{}

func (nopHost) BindObject(SetObject)                        {}
func (nopHost) Fault(Fault)                                 {}
func (nopHost) NonStallInterrupt()                          {}
func (nopHost) FlushFramebuffer()                           {}
func (nopHost) InvalidateTLB(TlbInvalidatePdb)              {}
func (nopHost) WaitForIdle(context.Context, WfiScope) error { return nil }
func (nopHost) CheckCRC(uint32)                             {}
func (nopHost) Yield(YieldOp)                               {}

// Kind of notification recorded by QueueHost
type EventKind uint8

const (
	EVENT_BIND_OBJECT         EventKind = iota
	EVENT_FAULT               EventKind = iota
	EVENT_NON_STALL_INTERRUPT EventKind = iota
	EVENT_FB_FLUSH            EventKind = iota
	EVENT_TLB_INVALIDATE      EventKind = iota
	EVENT_WAIT_FOR_IDLE       EventKind = iota
	EVENT_CRC_CHECK           EventKind = iota
	EVENT_YIELD               EventKind = iota
)

func (kind EventKind) String() string {
	switch kind {
	case EVENT_BIND_OBJECT:
		return "bind_object"
	case EVENT_FAULT:
		return "fault"
	case EVENT_NON_STALL_INTERRUPT:
		return "non_stall_interrupt"
	case EVENT_FB_FLUSH:
		return "fb_flush"
	case EVENT_TLB_INVALIDATE:
		return "tlb_invalidate"
	case EVENT_WAIT_FOR_IDLE:
		return "wait_for_idle"
	case EVENT_CRC_CHECK:
		return "crc_check"
	case EVENT_YIELD:
		return "yield"
	}
	return fmt.Sprintf("event(%d)", uint8(kind))
}

// A single host notification
type Event struct {
	Kind  EventKind
	Value uint32 // Encoded SetObject, scope, CRC or yield op depending on Kind
	Fault Fault  // Only valid for EVENT_FAULT
}

// Host implementation that queues every notification in an EventFIFO and
// latches interrupts in an IrqState, for the owner to drain between writes
type QueueHost struct {
	mutex    sync.Mutex
	Events   *EventFIFO
	Irq      *IrqState
	Dropped  uint64 // Events lost because the FIFO was full
	Object   SetObject
	IdleWait func(ctx context.Context, scope WfiScope) error // Optional WFI behaviour
}

// Returns a new QueueHost with every interrupt unmasked
func NewQueueHost() *QueueHost {
	host := &QueueHost{
		Events: NewEventFIFO(),
		Irq:    NewIrqState(),
	}
	host.Irq.SetMask(0xffff)
	return host
}

func (host *QueueHost) push(ev Event) {
	if host.Events.IsFull() {
		host.Dropped++
		return
	}
	host.Events.Push(ev)
}

func (host *QueueHost) BindObject(obj SetObject) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.Object = obj
	host.push(Event{Kind: EVENT_BIND_OBJECT, Value: obj.Encode()})
}

func (host *QueueHost) Fault(fault Fault) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.Irq.SetHigh(INTERRUPT_FAULT)
	host.push(Event{Kind: EVENT_FAULT, Fault: fault})
}

func (host *QueueHost) NonStallInterrupt() {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.Irq.SetHigh(INTERRUPT_NON_STALL)
	host.push(Event{Kind: EVENT_NON_STALL_INTERRUPT})
}

func (host *QueueHost) FlushFramebuffer() {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.push(Event{Kind: EVENT_FB_FLUSH})
}

func (host *QueueHost) InvalidateTLB(pdb TlbInvalidatePdb) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.push(Event{Kind: EVENT_TLB_INVALIDATE, Value: pdb.Encode()})
}

func (host *QueueHost) WaitForIdle(ctx context.Context, scope WfiScope) error {
	host.mutex.Lock()
	host.push(Event{Kind: EVENT_WAIT_FOR_IDLE, Value: scope.Encode()})
	idleWait := host.IdleWait
	host.mutex.Unlock()

	if idleWait != nil {
		return idleWait(ctx, scope)
	}
	return nil
}

func (host *QueueHost) CheckCRC(crc uint32) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.push(Event{Kind: EVENT_CRC_CHECK, Value: crc})
}

func (host *QueueHost) Yield(op YieldOp) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.push(Event{Kind: EVENT_YIELD, Value: op.Encode()})
}

// Pops every queued event
func (host *QueueHost) Drain() []Event {
	host.mutex.Lock()
	defer host.mutex.Unlock()

	events := make([]Event, 0, host.Events.Length())
	for !host.Events.IsEmpty() {
		events = append(events, host.Events.Pop())
	}
	return events
}

// Returns true if an unmasked interrupt is pending
func (host *QueueHost) InterruptPending() bool {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	return host.Irq.Active()
}

// Clears the interrupt bits that are zero in `ack`
func (host *QueueHost) Acknowledge(ack uint16) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	host.Irq.Acknowledge(ack)
}
