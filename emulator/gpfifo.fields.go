package emulator

import "fmt"

// Semaphore operation selected by bits [4:0] of SEMAPHORE_D
type SemaphoreOperation uint8

const (
	SEMAPHORE_OP_ACQUIRE   SemaphoreOperation = 1  // Wait until memory equals the payload
	SEMAPHORE_OP_RELEASE   SemaphoreOperation = 2  // Write the payload
	SEMAPHORE_OP_ACQ_GEQ   SemaphoreOperation = 4  // Wait until memory >= payload
	SEMAPHORE_OP_ACQ_AND   SemaphoreOperation = 8  // Wait until memory & payload != 0
	SEMAPHORE_OP_REDUCTION SemaphoreOperation = 16 // Combine memory with the payload
)

// Returns false for the reserved encodings of the 5 bit operation field
func (op SemaphoreOperation) Valid() bool {
	switch op {
	case SEMAPHORE_OP_ACQUIRE, SEMAPHORE_OP_RELEASE, SEMAPHORE_OP_ACQ_GEQ,
		SEMAPHORE_OP_ACQ_AND, SEMAPHORE_OP_REDUCTION:
		return true
	}
	return false
}

// Returns true for the three acquire flavours
func (op SemaphoreOperation) IsAcquire() bool {
	return op == SEMAPHORE_OP_ACQUIRE || op == SEMAPHORE_OP_ACQ_GEQ || op == SEMAPHORE_OP_ACQ_AND
}

func (op SemaphoreOperation) String() string {
	switch op {
	case SEMAPHORE_OP_ACQUIRE:
		return "acquire"
	case SEMAPHORE_OP_RELEASE:
		return "release"
	case SEMAPHORE_OP_ACQ_GEQ:
		return "acq_geq"
	case SEMAPHORE_OP_ACQ_AND:
		return "acq_and"
	case SEMAPHORE_OP_REDUCTION:
		return "reduction"
	}
	return fmt.Sprintf("reserved(%d)", uint8(op))
}

// When enabled, a failed acquire gives up the timeslice before polling again
type SemaphoreAcquireSwitch uint8

const (
	SEMAPHORE_ACQUIRE_SWITCH_DISABLED SemaphoreAcquireSwitch = 0
	SEMAPHORE_ACQUIRE_SWITCH_ENABLED  SemaphoreAcquireSwitch = 1
)

// Whether a release waits for idle first. Note that 0 means enabled
type SemaphoreReleaseWfi uint8

const (
	SEMAPHORE_RELEASE_WFI_ENABLED  SemaphoreReleaseWfi = 0
	SEMAPHORE_RELEASE_WFI_DISABLED SemaphoreReleaseWfi = 1
)

// Size of the structure written by a release
type SemaphoreReleaseSize uint8

const (
	SEMAPHORE_RELEASE_SIZE_16BYTE SemaphoreReleaseSize = 0 // Payload, zero word, 64 bit timestamp
	SEMAPHORE_RELEASE_SIZE_4BYTE  SemaphoreReleaseSize = 1 // Payload only
)

// Reduction applied by SEMAPHORE_OP_REDUCTION
type SemaphoreReduction uint8

const (
	SEMAPHORE_REDUCTION_MIN SemaphoreReduction = 0
	SEMAPHORE_REDUCTION_MAX SemaphoreReduction = 1
	SEMAPHORE_REDUCTION_XOR SemaphoreReduction = 2
	SEMAPHORE_REDUCTION_AND SemaphoreReduction = 3
	SEMAPHORE_REDUCTION_OR  SemaphoreReduction = 4
	SEMAPHORE_REDUCTION_ADD SemaphoreReduction = 5
	SEMAPHORE_REDUCTION_INC SemaphoreReduction = 6
	SEMAPHORE_REDUCTION_DEC SemaphoreReduction = 7
)

// Returns false for the reserved encodings of the 4 bit reduction field
func (red SemaphoreReduction) Valid() bool {
	return red <= SEMAPHORE_REDUCTION_DEC
}

// Interpretation of the payload for MIN/MAX reductions and ACQ_GEQ
type SemaphoreFormat uint8

const (
	SEMAPHORE_FORMAT_SIGNED   SemaphoreFormat = 0
	SEMAPHORE_FORMAT_UNSIGNED SemaphoreFormat = 1
)

// Decoded SEMAPHORE_D control word
type SemaphoreControl struct {
	Operation     SemaphoreOperation     // bits [4:0]
	AcquireSwitch SemaphoreAcquireSwitch // bit 12
	ReleaseWfi    SemaphoreReleaseWfi    // bit 20
	ReleaseSize   SemaphoreReleaseSize   // bit 24
	Reduction     SemaphoreReduction     // bits [30:27]
	Format        SemaphoreFormat        // bit 31
}

func DecodeSemaphoreControl(val uint32) SemaphoreControl {
	return SemaphoreControl{
		Operation:     SemaphoreOperation(val & 0x1f),
		AcquireSwitch: SemaphoreAcquireSwitch((val >> 12) & 1),
		ReleaseWfi:    SemaphoreReleaseWfi((val >> 20) & 1),
		ReleaseSize:   SemaphoreReleaseSize((val >> 24) & 1),
		Reduction:     SemaphoreReduction((val >> 27) & 0xf),
		Format:        SemaphoreFormat((val >> 31) & 1),
	}
}

// Packs the control word back into its register encoding
func (ctrl SemaphoreControl) Encode() uint32 {
	var r uint32
	r |= uint32(ctrl.Operation) & 0x1f
	r |= (uint32(ctrl.AcquireSwitch) & 1) << 12
	r |= (uint32(ctrl.ReleaseWfi) & 1) << 20
	r |= (uint32(ctrl.ReleaseSize) & 1) << 24
	r |= (uint32(ctrl.Reduction) & 0xf) << 27
	r |= (uint32(ctrl.Format) & 1) << 31
	return r
}

// Builds the 40 bit semaphore address from SEMAPHORE_A and SEMAPHORE_B.
// The low two bits of SEMAPHORE_B are ignored, the address is always word
// aligned
func SemaphoreAddress(offsetUpper, offsetLower uint32) uint64 {
	return uint64(offsetUpper&0xff)<<32 | uint64(offsetLower&0xfffffffc)
}

// Syncpoint operation selected by bit 0 of SYNCPOINT_B
type SyncpointOperation uint8

const (
	SYNCPOINT_OP_WAIT SyncpointOperation = 0
	SYNCPOINT_OP_INCR SyncpointOperation = 1
)

// When disabled, a syncpoint wait is dropped instead of blocking the channel
type SyncpointWaitSwitch uint8

const (
	SYNCPOINT_WAIT_SWITCH_DISABLED SyncpointWaitSwitch = 0
	SYNCPOINT_WAIT_SWITCH_ENABLED  SyncpointWaitSwitch = 1
)

// Decoded SYNCPOINT_B control word
type SyncpointControl struct {
	Operation  SyncpointOperation  // bit 0
	WaitSwitch SyncpointWaitSwitch // bit 4
	Index      uint16              // bits [19:8]
}

func DecodeSyncpointControl(val uint32) SyncpointControl {
	return SyncpointControl{
		Operation:  SyncpointOperation(val & 1),
		WaitSwitch: SyncpointWaitSwitch((val >> 4) & 1),
		Index:      uint16((val >> 8) & 0xfff),
	}
}

func (ctrl SyncpointControl) Encode() uint32 {
	var r uint32
	r |= uint32(ctrl.Operation) & 1
	r |= (uint32(ctrl.WaitSwitch) & 1) << 4
	r |= (uint32(ctrl.Index) & 0xfff) << 8
	return r
}

// Scope of a wait-for-idle barrier
type WfiScope uint8

const (
	WFI_SCOPE_CURRENT_SCG_TYPE WfiScope = 0 // Only the current channel's subcontext group
	WFI_SCOPE_ALL              WfiScope = 1 // Every channel
)

func DecodeWfiScope(val uint32) WfiScope {
	return WfiScope(val & 1)
}

func (scope WfiScope) Encode() uint32 {
	return uint32(scope) & 1
}

func (scope WfiScope) String() string {
	if scope == WFI_SCOPE_ALL {
		return "all"
	}
	return "current_scg_type"
}

// Granularity of a scheduling yield
type YieldOp uint8

const (
	YIELD_OP_NOP               YieldOp = 0
	YIELD_OP_PBDMA_TIMESLICE   YieldOp = 1
	YIELD_OP_RUNLIST_TIMESLICE YieldOp = 2
	YIELD_OP_TSG               YieldOp = 3
)

func DecodeYieldOp(val uint32) YieldOp {
	return YieldOp(val & 3)
}

func (op YieldOp) Encode() uint32 {
	return uint32(op) & 3
}

func (op YieldOp) String() string {
	switch op {
	case YIELD_OP_NOP:
		return "nop"
	case YIELD_OP_PBDMA_TIMESLICE:
		return "pbdma_timeslice"
	case YIELD_OP_RUNLIST_TIMESLICE:
		return "runlist_timeslice"
	default:
		return "tsg"
	}
}

// Which page directories a TLB invalidate applies to (MEM_OP_C bit 0)
type TlbInvalidatePdb uint8

const (
	TLB_INVALIDATE_PDB_ONE TlbInvalidatePdb = 0
	TLB_INVALIDATE_PDB_ALL TlbInvalidatePdb = 1
)

func DecodeTlbInvalidatePdb(val uint32) TlbInvalidatePdb {
	return TlbInvalidatePdb(val & 1)
}

func (pdb TlbInvalidatePdb) Encode() uint32 {
	return uint32(pdb) & 1
}

// Memory operation selected by bits [31:27] of MEM_OP_D
type MemOpOperation uint8

const (
	MEM_OP_MEMBAR                MemOpOperation = 0x05
	MEM_OP_MMU_TLB_INVALIDATE    MemOpOperation = 0x09
	MEM_OP_L2_PEERMEM_INVALIDATE MemOpOperation = 0x0d
	MEM_OP_L2_SYSMEM_INVALIDATE  MemOpOperation = 0x0e
	MEM_OP_L2_CLEAN_COMMENTABLE  MemOpOperation = 0x0f
	MEM_OP_L2_FLUSH_DIRTY        MemOpOperation = 0x10
)

func DecodeMemOpOperation(val uint32) MemOpOperation {
	return MemOpOperation((val >> 27) & 0x1f)
}

func (op MemOpOperation) Encode() uint32 {
	return (uint32(op) & 0x1f) << 27
}

func (op MemOpOperation) Valid() bool {
	switch op {
	case MEM_OP_MEMBAR, MEM_OP_MMU_TLB_INVALIDATE, MEM_OP_L2_PEERMEM_INVALIDATE,
		MEM_OP_L2_SYSMEM_INVALIDATE, MEM_OP_L2_CLEAN_COMMENTABLE, MEM_OP_L2_FLUSH_DIRTY:
		return true
	}
	return false
}

// Decoded SET_OBJECT word: the class and engine subsequent methods are routed to
type SetObject struct {
	Class  uint16 // bits [15:0]
	Engine uint8  // bits [20:16]
}

func DecodeSetObject(val uint32) SetObject {
	return SetObject{
		Class:  uint16(val),
		Engine: uint8((val >> 16) & 0x1f),
	}
}

func (obj SetObject) Encode() uint32 {
	return uint32(obj.Class) | (uint32(obj.Engine)&0x1f)<<16
}
