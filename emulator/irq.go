package emulator

// State of the channel's interrupt latch
type IrqState struct {
	Status uint16 // Interrupt status
	Mask   uint16 // Interrupt mask
}

// Represents an interrupt line
type Interrupt uint16

const (
	INTERRUPT_NON_STALL Interrupt = 0 // NON_STALL_INTERRUPT was written
	INTERRUPT_FAULT     Interrupt = 1 // A recoverable fault was reported
)

// Returns a new interrupt instance
func NewIrqState() *IrqState {
	return &IrqState{}
}

// Returns true if any interrupt is active
func (state *IrqState) Active() bool {
	return (state.Status & state.Mask) != 0
}

// Writing 0 to a status bit clears it
func (state *IrqState) Acknowledge(ack uint16) {
	state.Status &= ack
}

func (state *IrqState) SetMask(mask uint16) {
	state.Mask = mask
}

func (state *IrqState) SetHigh(interrupt Interrupt) {
	state.Status |= 1 << interrupt
}

// Returns true if `interrupt` is latched, regardless of the mask
func (state *IrqState) IsHigh(interrupt Interrupt) bool {
	return state.Status&(1<<interrupt) != 0
}
