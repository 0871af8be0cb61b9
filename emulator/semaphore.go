package emulator

import (
	"context"
	"fmt"
	"time"
)

// Snapshot of SEMAPHORE_A..D taken when SEMAPHORE_D is written
type semaphoreRequest struct {
	Address uint64
	Payload uint32
	Control SemaphoreControl
	Raw     uint32 // Raw SEMAPHORE_D value, reported with faults
}

func newSemaphoreRequest(regs *Registers) semaphoreRequest {
	return semaphoreRequest{
		Address: SemaphoreAddress(regs[METHOD_SEMAPHORE_A], regs[METHOD_SEMAPHORE_B]),
		Payload: regs[METHOD_SEMAPHORE_C],
		Control: DecodeSemaphoreControl(regs[METHOD_SEMAPHORE_D]),
		Raw:     regs[METHOD_SEMAPHORE_D],
	}
}

// Returns the result of combining the memory value `mem` with `payload`
func reduceSemaphore(red SemaphoreReduction, format SemaphoreFormat, mem, payload uint32) uint32 {
	switch red {
	case SEMAPHORE_REDUCTION_MIN:
		if format == SEMAPHORE_FORMAT_SIGNED {
			if int32(payload) < int32(mem) {
				return payload
			}
			return mem
		}
		if payload < mem {
			return payload
		}
		return mem
	case SEMAPHORE_REDUCTION_MAX:
		if format == SEMAPHORE_FORMAT_SIGNED {
			if int32(payload) > int32(mem) {
				return payload
			}
			return mem
		}
		if payload > mem {
			return payload
		}
		return mem
	case SEMAPHORE_REDUCTION_XOR:
		return mem ^ payload
	case SEMAPHORE_REDUCTION_AND:
		return mem & payload
	case SEMAPHORE_REDUCTION_OR:
		return mem | payload
	case SEMAPHORE_REDUCTION_ADD:
		return mem + payload
	case SEMAPHORE_REDUCTION_INC:
		// wraps back to zero once the payload is reached
		if mem >= payload {
			return 0
		}
		return mem + 1
	case SEMAPHORE_REDUCTION_DEC:
		// wraps back to the payload once zero is reached
		if mem == 0 || mem > payload {
			return payload
		}
		return mem - 1
	}
	panicFmt("semaphore: unhandled reduction %d", red)
	return 0
}

// Returns true if the memory value `mem` satisfies an acquire of `payload`
func acquireSatisfied(op SemaphoreOperation, format SemaphoreFormat, mem, payload uint32) bool {
	switch op {
	case SEMAPHORE_OP_ACQUIRE:
		return mem == payload
	case SEMAPHORE_OP_ACQ_GEQ:
		if format == SEMAPHORE_FORMAT_SIGNED {
			return int32(mem) >= int32(payload)
		}
		return mem >= payload
	case SEMAPHORE_OP_ACQ_AND:
		return mem&payload != 0
	}
	return false
}

// Runs the semaphore operation selected by a SEMAPHORE_D write
func (gpfifo *GPFIFO) executeSemaphore(ctx context.Context, req semaphoreRequest) error {
	ctrl := req.Control
	if !ctrl.Operation.Valid() ||
		(ctrl.Operation == SEMAPHORE_OP_REDUCTION && !ctrl.Reduction.Valid()) {
		gpfifo.fault(FAULT_UNSUPPORTED_SEMAPHORE_OP, METHOD_SEMAPHORE_D, req.Raw)
		return nil
	}

	if ctrl.Operation.IsAcquire() {
		err := gpfifo.block(ctx, func(ctx context.Context) error {
			return gpfifo.semaphoreAcquire(ctx, req)
		})
		if err != nil {
			return fmt.Errorf("semaphore %s at 0x%010x: %w", ctrl.Operation, req.Address, err)
		}
		return nil
	}

	if ctrl.ReleaseWfi == SEMAPHORE_RELEASE_WFI_ENABLED {
		err := gpfifo.block(ctx, func(ctx context.Context) error {
			return gpfifo.host.WaitForIdle(ctx, WFI_SCOPE_CURRENT_SCG_TYPE)
		})
		if err != nil {
			return fmt.Errorf("semaphore %s wait for idle: %w", ctrl.Operation, err)
		}
	}

	var value uint32
	if ctrl.Operation == SEMAPHORE_OP_REDUCTION {
		value = gpfifo.memory.Reduce32(req.Address, func(old uint32) uint32 {
			return reduceSemaphore(ctrl.Reduction, ctrl.Format, old, req.Payload)
		})
	} else {
		value = req.Payload
		gpfifo.memory.Store32(req.Address, value)
	}

	size := uint64(4)
	if ctrl.ReleaseSize == SEMAPHORE_RELEASE_SIZE_16BYTE {
		// the 16 byte form is {payload, 0, timestamp}
		gpfifo.memory.Store32(req.Address+4, 0)
		gpfifo.memory.Store64(req.Address+8, gpfifo.clock.Timestamp())
		size = 16
	}
	gpfifo.memoryWritten(req.Address, size)

	gpfifo.logger.Debug("semaphore release",
		"operation", ctrl.Operation.String(),
		"address", fmt.Sprintf("0x%010x", req.Address),
		"value", value,
		"size", size,
	)
	return nil
}

// Polls memory until the acquire condition holds. With the acquire switch
// enabled the channel offers its timeslice after every failed poll
func (gpfifo *GPFIFO) semaphoreAcquire(ctx context.Context, req semaphoreRequest) error {
	ctrl := req.Control
	if acquireSatisfied(ctrl.Operation, ctrl.Format, gpfifo.memory.Load32(req.Address), req.Payload) {
		return nil
	}

	ticker := time.NewTicker(gpfifo.pollInterval)
	defer ticker.Stop()

	for {
		if ctrl.AcquireSwitch == SEMAPHORE_ACQUIRE_SWITCH_ENABLED {
			gpfifo.host.Yield(YIELD_OP_PBDMA_TIMESLICE)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if acquireSatisfied(ctrl.Operation, ctrl.Format, gpfifo.memory.Load32(req.Address), req.Payload) {
			return nil
		}
	}
}
