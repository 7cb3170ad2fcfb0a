package gpu

import "github.com/relic-emu/relic/engine/core"

type pipelineKind int

const (
	pipelineNone pipelineKind = iota
	pipelineGuest
	pipelineExternal
	pipelineCompute
)

// boundPipeline is a closed sum: exactly one of the variants is active,
// tagged by kind. A guest handle and an external object can never be bound
// at the same time.
type boundPipeline struct {
	kind     pipelineKind
	guest    PipelineHandle
	external Pipeline
}

// fixedFunctionState caches the dynamic state last confirmed on the command
// stream. An "up to date" flag cleared means the value must be re-emitted
// before the next draw.
type fixedFunctionState struct {
	viewport         Viewport
	viewportUpToDate bool

	scissor         Rect
	scissorUpToDate bool

	blendFactor         [4]float32
	blendFactorUpToDate bool

	stencilRef         uint32
	stencilRefUpToDate bool

	topology         PrimitiveTopology
	topologyUpToDate bool

	samplePositions     MsaaSamples
	samplePositionsSent bool
}

// setGuestPipeline lazily resolves and binds a cache-managed pipeline.
// Pending or failed resolution is a recoverable condition: no draw is
// issued and the frame continues.
func (cp *CommandProcessor) setGuestPipeline(handle PipelineHandle) error {
	if cp.boundPipeline.kind == pipelineGuest && cp.boundPipeline.guest == handle {
		return nil
	}
	pipeline, status := cp.co.Pipelines.ResolvePipeline(handle)
	if status != PIPELINE_STATUS_READY {
		return ErrNotReady
	}
	cp.recorder.SetPipeline(pipeline)
	cp.boundPipeline = boundPipeline{kind: pipelineGuest, guest: handle}
	return nil
}

// SetExternalGraphicsPipeline binds a special drawing pipeline supplied by a
// non-guest internal operation (a resolve or clear pass). Only the state the
// caller declares as changing is invalidated; everything else keeps its
// cached confirmation. All root parameters must be re-bound on the next
// guest draw regardless. A submission must be open.
func (cp *CommandProcessor) SetExternalGraphicsPipeline(pipeline Pipeline, changingRTsAndSamplePositions, changingViewport, changingBlendFactor, changingStencilRef bool) {
	if !cp.submissionOpen {
		core.LogError("SetExternalGraphicsPipeline called without an open submission")
		return
	}
	if !(cp.boundPipeline.kind == pipelineExternal && cp.boundPipeline.external == pipeline) {
		cp.recorder.SetPipeline(pipeline)
	}
	cp.boundPipeline = boundPipeline{kind: pipelineExternal, external: pipeline}

	if changingRTsAndSamplePositions {
		cp.ff.samplePositionsSent = false
	}
	if changingViewport {
		cp.ff.viewportUpToDate = false
		cp.ff.scissorUpToDate = false
	}
	if changingBlendFactor {
		cp.ff.blendFactorUpToDate = false
	}
	if changingStencilRef {
		cp.ff.stencilRefUpToDate = false
	}
	cp.ff.topologyUpToDate = false
	cp.currentGraphicsRootUpToDate.clear()
}

// SetComputePipeline replaces the bound pipeline with a compute pipeline.
// A submission must be open.
func (cp *CommandProcessor) SetComputePipeline(pipeline Pipeline) {
	if !cp.submissionOpen {
		core.LogError("SetComputePipeline called without an open submission")
		return
	}
	if cp.boundPipeline.kind == pipelineCompute && cp.boundPipeline.external == pipeline {
		return
	}
	cp.recorder.SetPipeline(pipeline)
	cp.boundPipeline = boundPipeline{kind: pipelineCompute, external: pipeline}
}

// FlushAndUnbindRenderTargets stores and unbinds the emulated render targets
// before render targets are changed externally. Separate from
// SetExternalGraphicsPipeline because it dispatches work and may use the
// scratch buffer.
func (cp *CommandProcessor) FlushAndUnbindRenderTargets() {
	if cp.co.RenderTargets != nil {
		cp.co.RenderTargets.FlushAndUnbind()
	}
}

// Guest fixed-function setters. Values are cached; the command stream is
// only touched by updateFixedFunctionState before a draw.

func (cp *CommandProcessor) SetViewport(v Viewport) {
	if cp.ff.viewport != v {
		cp.ff.viewport = v
		cp.ff.viewportUpToDate = false
	}
}

func (cp *CommandProcessor) SetScissor(r Rect) {
	if cp.ff.scissor != r {
		cp.ff.scissor = r
		cp.ff.scissorUpToDate = false
	}
}

func (cp *CommandProcessor) SetBlendFactor(factor [4]float32) {
	if cp.ff.blendFactor != factor {
		cp.ff.blendFactor = factor
		cp.ff.blendFactorUpToDate = false
	}
}

func (cp *CommandProcessor) SetStencilRef(ref uint32) {
	if cp.ff.stencilRef != ref {
		cp.ff.stencilRef = ref
		cp.ff.stencilRefUpToDate = false
	}
}

// SetSamplePositions sets the current SSAA sample positions. Must happen
// before render targets are set or depth render targets are copied to.
func (cp *CommandProcessor) SetSamplePositions(samples MsaaSamples) {
	if cp.ff.samplePositions != samples {
		cp.ff.samplePositions = samples
		cp.ff.samplePositionsSent = false
	}
}

// updateFixedFunctionState re-emits whatever dynamic state is stale.
func (cp *CommandProcessor) updateFixedFunctionState(topology PrimitiveTopology) {
	if !cp.ff.viewportUpToDate {
		cp.recorder.SetViewport(cp.ff.viewport)
		cp.ff.viewportUpToDate = true
	}
	if !cp.ff.scissorUpToDate {
		cp.recorder.SetScissor(cp.ff.scissor)
		cp.ff.scissorUpToDate = true
	}
	if !cp.ff.blendFactorUpToDate {
		cp.recorder.SetBlendFactor(cp.ff.blendFactor)
		cp.ff.blendFactorUpToDate = true
	}
	if !cp.ff.stencilRefUpToDate {
		cp.recorder.SetStencilRef(cp.ff.stencilRef)
		cp.ff.stencilRefUpToDate = true
	}
	if !cp.ff.topologyUpToDate || cp.ff.topology != topology {
		cp.recorder.SetPrimitiveTopology(topology)
		cp.ff.topology = topology
		cp.ff.topologyUpToDate = true
	}
	if !cp.ff.samplePositionsSent {
		cp.recorder.SetSamplePositions(cp.ff.samplePositions)
		cp.ff.samplePositionsSent = true
	}
}
