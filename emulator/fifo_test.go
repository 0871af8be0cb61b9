package emulator

import "testing"

func TestEventFIFO(t *testing.T) {
	assert := func(v bool) {
		if !v {
			t.Error("assert failed")
		}
	}

	fifo := NewEventFIFO()
	assert(fifo.IsEmpty())
	assert(!fifo.IsFull())
	assert(fifo.Length() == 0)

	for i := uint32(0); i < 16; i++ {
		fifo.Push(Event{Kind: EVENT_CRC_CHECK, Value: i})
	}
	assert(fifo.IsFull())
	assert(fifo.Length() == 16)

	for i := uint32(0); i < 16; i++ {
		assert(fifo.Pop().Value == i)
	}
	assert(fifo.IsEmpty())

	// pointers wrap around
	fifo.PushSlice([]Event{{Kind: EVENT_YIELD}, {Kind: EVENT_FB_FLUSH}})
	assert(fifo.Length() == 2)
	assert(fifo.Pop().Kind == EVENT_YIELD)
	assert(fifo.Pop().Kind == EVENT_FB_FLUSH)

	fifo = NewEventFIFOFromEvents([]Event{{Kind: EVENT_FAULT}})
	assert(fifo.Length() == 1)
	fifo.Clear()
	assert(fifo.IsEmpty())
}

func TestQueueHostOverflow(t *testing.T) {
	assert := func(v bool) {
		if !v {
			t.Error("assert failed")
		}
	}

	host := NewQueueHost()
	for i := uint32(0); i < 20; i++ {
		host.CheckCRC(i)
	}
	assert(host.Dropped == 4)

	events := host.Drain()
	assert(len(events) == 16)
	// the oldest events are kept
	assert(events[0].Value == 0)
	assert(events[15].Value == 15)
	assert(len(host.Drain()) == 0)
}

func TestQueueHostInterrupts(t *testing.T) {
	assert := func(v bool) {
		if !v {
			t.Error("assert failed")
		}
	}

	host := NewQueueHost()
	assert(!host.InterruptPending())

	host.Fault(Fault{Kind: FAULT_ILLEGAL_METHOD})
	host.NonStallInterrupt()
	assert(host.InterruptPending())

	// masked interrupts stay latched but are not pending
	host.Irq.SetMask(1 << INTERRUPT_NON_STALL)
	host.Acknowledge(^uint16(1 << INTERRUPT_NON_STALL))
	assert(!host.InterruptPending())
	assert(host.Irq.IsHigh(INTERRUPT_FAULT))
	assert(!host.Irq.IsHigh(INTERRUPT_NON_STALL))
}
