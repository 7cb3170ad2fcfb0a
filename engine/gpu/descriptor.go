package gpu

// RequestViewDescriptors grants a range of view descriptors and rebinds the
// view heap on the command stream when the pool moved to a new page. A
// returned page equal to previousPage means the previous range was extended
// in place and no rebind happened. Bindings written into an abandoned heap
// are invalidated here, because their GPU handles die with the heap.
func (cp *CommandProcessor) RequestViewDescriptors(previousPage uint64, countForPartial, countForFull uint32) (uint64, CPUDescriptorHandle, GPUDescriptorHandle, error) {
	page, heap, cpuHandle, gpuHandle, err := cp.co.ViewPool.Request(
		cp.submissionCurrent, previousPage, countForPartial, countForFull)
	if err != nil {
		return PageInvalid, 0, 0, err
	}
	if heap != cp.currentViewHeap {
		cp.currentViewHeap = heap
		cp.recorder.SetDescriptorHeaps(cp.currentViewHeap, cp.currentSamplerHeap)
		cp.invalidateViewBindings()
	}
	return page, cpuHandle, gpuHandle, nil
}

// RequestSamplerDescriptors is the sampler-heap counterpart of
// RequestViewDescriptors, against the separate sampler pool.
func (cp *CommandProcessor) RequestSamplerDescriptors(previousPage uint64, countForPartial, countForFull uint32) (uint64, CPUDescriptorHandle, GPUDescriptorHandle, error) {
	page, heap, cpuHandle, gpuHandle, err := cp.co.SamplerPool.Request(
		cp.submissionCurrent, previousPage, countForPartial, countForFull)
	if err != nil {
		return PageInvalid, 0, 0, err
	}
	if heap != cp.currentSamplerHeap {
		cp.currentSamplerHeap = heap
		cp.recorder.SetDescriptorHeaps(cp.currentViewHeap, cp.currentSamplerHeap)
		cp.invalidateSamplerBindings()
	}
	return page, cpuHandle, gpuHandle, nil
}

func (cp *CommandProcessor) invalidateViewBindings() {
	cp.textureBindingsWrittenVertex = false
	cp.textureBindingsWrittenPixel = false
	cp.sharedMemoryWritten = false
	cp.currentGraphicsRootUpToDate.remove(uint32(ROOT_PARAMETER_SHARED_MEMORY))
	if cp.currentGraphicsRootExtras.TexturesVertex != RootParameterUnavailable {
		cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.TexturesVertex)
	}
	if cp.currentGraphicsRootExtras.TexturesPixel != RootParameterUnavailable {
		cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.TexturesPixel)
	}
}

func (cp *CommandProcessor) invalidateSamplerBindings() {
	cp.samplersWrittenVertex = false
	cp.samplersWrittenPixel = false
	if cp.currentGraphicsRootExtras.SamplersVertex != RootParameterUnavailable {
		cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.SamplersVertex)
	}
	if cp.currentGraphicsRootExtras.SamplersPixel != RootParameterUnavailable {
		cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.SamplersPixel)
	}
}
