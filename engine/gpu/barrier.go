package gpu

// BarrierBatch accumulates pending resource transitions, aliasing barriers
// and UAV hazard barriers, and emits them as a single batched call. Batching
// amortizes the fixed cost of a barrier call and lets independent transitions
// of different resources be expressed together. Callers must flush at state
// change boundaries, before recording work that depends on the new states.
type BarrierBatch struct {
	pending []Barrier
}

func NewBarrierBatch() *BarrierBatch {
	return &BarrierBatch{}
}

func (bb *BarrierBatch) PushTransition(resource Resource, oldState, newState ResourceState, subresource uint32) {
	if oldState == newState {
		return
	}
	bb.pending = append(bb.pending, Barrier{
		Type:        BARRIER_TYPE_TRANSITION,
		Resource:    resource,
		OldState:    oldState,
		NewState:    newState,
		Subresource: subresource,
	})
}

func (bb *BarrierBatch) PushAliasing(oldResource, newResource Resource) {
	bb.pending = append(bb.pending, Barrier{
		Type:        BARRIER_TYPE_ALIASING,
		Resource:    newResource,
		OldResource: oldResource,
	})
}

func (bb *BarrierBatch) PushUAV(resource Resource) {
	bb.pending = append(bb.pending, Barrier{
		Type:     BARRIER_TYPE_UAV,
		Resource: resource,
	})
}

// Flush emits all pending barriers in one call and clears the batch.
func (bb *BarrierBatch) Flush(recorder CommandRecorder) {
	if len(bb.pending) == 0 {
		return
	}
	recorder.ResourceBarriers(bb.pending)
	bb.pending = bb.pending[:0]
}

func (bb *BarrierBatch) PendingCount() int {
	return len(bb.pending)
}
