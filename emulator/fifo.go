package emulator

// Queue of host events, 16 entries deep
type EventFIFO struct {
	Buffer   [16]Event
	WritePtr uint8 // Write pointer (4 bits and carry)
	ReadPtr  uint8 // Read pointer (4 bits and carry)
}

// Returns a new EventFIFO instance
func NewEventFIFO() *EventFIFO {
	return &EventFIFO{}
}

func NewEventFIFOFromEvents(events []Event) *EventFIFO {
	fifo := NewEventFIFO()
	fifo.PushSlice(events)
	return fifo
}

// Returns true if the FIFO is empty
func (fifo *EventFIFO) IsEmpty() bool {
	// if the read and write pointers are the same, the FIFO is empty
	return fifo.WritePtr == fifo.ReadPtr
}

// Returns true if the FIFO is full
func (fifo *EventFIFO) IsFull() bool {
	// if both pointers point to the same slot, but have a different
	// carry
	return fifo.WritePtr == fifo.ReadPtr^0x10
}

// Resets the FIFO
func (fifo *EventFIFO) Clear() {
	fifo.ReadPtr = 0
	fifo.WritePtr = 0
	for i := 0; i < len(fifo.Buffer); i++ {
		fifo.Buffer[i] = Event{}
	}
}

// Pushes an event to the FIFO. Pushing to a full FIFO overwrites the oldest
// entry, callers are expected to check IsFull first
func (fifo *EventFIFO) Push(ev Event) {
	fifo.Buffer[fifo.WritePtr&0xf] = ev
	fifo.WritePtr = (fifo.WritePtr + 1) & 0x1f
}

func (fifo *EventFIFO) PushSlice(events []Event) {
	for _, ev := range events {
		fifo.Push(ev)
	}
}

// Increments the read pointer of the FIFO and returns the event at
// that pointer
func (fifo *EventFIFO) Pop() Event {
	idx := fifo.ReadPtr & 0xf
	fifo.ReadPtr = (fifo.ReadPtr + 1) & 0x1f
	return fifo.Buffer[idx]
}

// Returns the amount of events in the FIFO, at most 16
func (fifo *EventFIFO) Length() uint8 {
	return (fifo.WritePtr - fifo.ReadPtr) & 0x1f
}
