package gpu

import (
	"fmt"

	"github.com/relic-emu/relic/engine/containers"
	"github.com/relic-emu/relic/engine/core"
)

type bufferForDeletion struct {
	buffer              Buffer
	lastUsageSubmission uint64
}

// TransientBufferManager owns one growable scratch GPU buffer and one
// growable CPU readback buffer. Both are reused within and across
// submissions. When a request outgrows a buffer, the old instance goes into
// a deferred-deletion queue tagged with the submission that may still
// reference it, and is freed only once that submission completes.
type TransientBufferManager struct {
	device   Device
	barriers *BarrierBatch

	scratchIncrement  uint64
	readbackIncrement uint64

	scratch      Buffer
	scratchState ResourceState
	scratchUsed  bool

	readback Buffer

	deletions *containers.Deque[bufferForDeletion]
}

func NewTransientBufferManager(device Device, barriers *BarrierBatch, scratchIncrement, readbackIncrement uint64) *TransientBufferManager {
	return &TransientBufferManager{
		device:            device,
		barriers:          barriers,
		scratchIncrement:  scratchIncrement,
		readbackIncrement: readbackIncrement,
		deletions:         containers.NewDeque[bufferForDeletion](8),
	}
}

// RequestScratch returns the single temporary GPU buffer of a submission,
// for tasks like untiling and resolving. Only one scratch request may be
// live at a time; the caller must ReleaseScratch before requesting again.
// Requesting while the buffer is in use is a programmer error.
func (tm *TransientBufferManager) RequestScratch(size uint64, state ResourceState, currentSubmission uint64) (Buffer, error) {
	if tm.scratchUsed {
		err := fmt.Errorf("scratch buffer requested while already in use")
		core.LogError(err.Error())
		return nil, err
	}

	if tm.scratch != nil && size <= tm.scratch.Size() {
		tm.barriers.PushTransition(tm.scratch, tm.scratchState, state, SubresourceAll)
		tm.scratchState = state
		tm.scratchUsed = true
		return tm.scratch, nil
	}

	newSize := core.RoundUp(size, tm.scratchIncrement)
	buffer, err := tm.device.CreateBuffer("scratch", newSize, HEAP_KIND_DEFAULT, state)
	if err != nil {
		core.LogError("failed to grow scratch buffer to %d bytes: %s", newSize, err)
		return nil, err
	}
	if tm.scratch != nil {
		tm.deletions.PushBack(bufferForDeletion{
			buffer:              tm.scratch,
			lastUsageSubmission: currentSubmission,
		})
	}
	tm.scratch = buffer
	tm.scratchState = state
	tm.scratchUsed = true
	return buffer, nil
}

// ReleaseScratch marks the scratch buffer free for reuse and records the
// state its user left it in.
func (tm *TransientBufferManager) ReleaseScratch(buffer Buffer, newState ResourceState) {
	if buffer != tm.scratch {
		core.LogWarn("released a scratch buffer that is no longer current")
		return
	}
	tm.scratchState = newState
	tm.scratchUsed = false
}

// ScratchInUse reports whether a scratch request is currently live.
func (tm *TransientBufferManager) ScratchInUse() bool {
	return tm.scratchUsed
}

// RequestReadback returns a buffer for reading GPU data back to the CPU,
// always in copy-dest state. The caller synchronizes immediately after use,
// so unlike the scratch buffer there is no in-use tracking.
func (tm *TransientBufferManager) RequestReadback(size uint64, currentSubmission uint64) (Buffer, error) {
	if tm.readback != nil && size <= tm.readback.Size() {
		return tm.readback, nil
	}

	newSize := core.RoundUp(size, tm.readbackIncrement)
	buffer, err := tm.device.CreateBuffer("readback", newSize, HEAP_KIND_READBACK, RESOURCE_STATE_COPY_DEST)
	if err != nil {
		core.LogError("failed to grow readback buffer to %d bytes: %s", newSize, err)
		return nil, err
	}
	if tm.readback != nil {
		tm.deletions.PushBack(bufferForDeletion{
			buffer:              tm.readback,
			lastUsageSubmission: currentSubmission,
		})
	}
	tm.readback = buffer
	return buffer, nil
}

// SweepCompleted frees deferred-deleted buffers whose last-use submission
// has completed.
func (tm *TransientBufferManager) SweepCompleted(completedSubmission uint64) {
	for !tm.deletions.IsEmpty() {
		entry, _ := tm.deletions.PeekFront()
		if entry.lastUsageSubmission > completedSubmission {
			break
		}
		tm.deletions.PopFront()
		entry.buffer.Destroy()
	}
}

// Shutdown destroys the live buffers and everything still in the deletion
// queue. The caller must have awaited completion of all submissions first.
func (tm *TransientBufferManager) Shutdown() {
	if tm.scratch != nil {
		tm.scratch.Destroy()
		tm.scratch = nil
	}
	if tm.readback != nil {
		tm.readback.Destroy()
		tm.readback = nil
	}
	for !tm.deletions.IsEmpty() {
		entry, _ := tm.deletions.PopFront()
		entry.buffer.Destroy()
	}
	tm.scratchUsed = false
}
