package gpu

import (
	"fmt"

	"github.com/relic-emu/relic/engine/core"
)

// CommandProcessor turns the guest command stream into submissions and
// frames on the host device. One producer thread drives BeginSubmission,
// draws, copies and EndSubmission sequentially; the device executes
// asynchronously, and the only cross-domain synchronization is the
// monotonically increasing completion counter.
type CommandProcessor struct {
	device Device
	cfg    core.RendererConfig
	co     Collaborators

	recorder         CommandRecorder
	barriers         *BarrierBatch
	allocators       *CommandAllocatorPool
	transient        *TransientBufferManager
	currentAllocator CommandAllocator

	cacheClearRequested bool

	submissionOpen      bool
	recordingClosed     bool
	submissionCurrent   uint64
	submissionCompleted uint64

	frameOpen      bool
	frameCurrent   uint64
	frameCompleted uint64
	// Submission numbers of already-closed frames, indexed by frame number
	// modulo the in-flight window.
	closedFrameSubmissions []uint64

	trace      frameTrace
	frameClock *core.Clock

	rootSignatures map[uint64]RootSignature

	boundPipeline boundPipeline
	ff            fixedFunctionState

	currentGraphicsRootSignature RootSignature
	currentGraphicsRootExtras    RootExtraParameterIndices
	currentGraphicsRootUpToDate  rootParamSet

	currentViewHeap    DescriptorHeap
	currentSamplerHeap DescriptorHeap
	drawViewPage       uint64
	drawSamplerPage    uint64

	systemConstants      SystemConstants
	cbufferBindings      [constantBufferCount]constantBufferBinding
	floatConstantsVertex []float32
	floatConstantsPixel  []float32
	boolLoopConstants    []uint32
	fetchConstants       []uint32

	// Guest fixed-function values feeding the system constants.
	colorMask         uint32
	alphaTest         int32
	alphaTestRange    [2]float32
	pointSize         [2]float32
	vertexIndexEndian uint32
	vertexBaseIndex   int32

	textureBindingsWrittenVertex bool
	textureBindingsWrittenPixel  bool
	textureBindingsHashVertex    uint64
	textureBindingsHashPixel     uint64
	samplersWrittenVertex        bool
	samplersWrittenPixel         bool
	samplersHashVertex           uint64
	samplersHashPixel            uint64
	sharedMemoryWritten          bool

	gpuHandleSharedMemory   GPUDescriptorHandle
	gpuHandleTexturesVertex GPUDescriptorHandle
	gpuHandleTexturesPixel  GPUDescriptorHandle
	gpuHandleSamplersVertex GPUDescriptorHandle
	gpuHandleSamplersPixel  GPUDescriptorHandle
}

const defaultBufferIncrement = 16 * 1024 * 1024

// Hard ceiling on the in-flight frame window; anything larger only delays
// reclamation without buying parallelism.
const maxQueueFrames = 16

// NewCommandProcessor builds the submission core around a device and the
// external collaborators. The descriptor and upload pools are required; the
// caches may be nil, in which case draws needing them fail as not ready.
func NewCommandProcessor(device Device, cfg core.RendererConfig, co Collaborators) (*CommandProcessor, error) {
	if co.ViewPool == nil || co.SamplerPool == nil || co.ConstantPool == nil {
		err := fmt.Errorf("a command processor needs view, sampler and constant pools")
		core.LogError(err.Error())
		return nil, err
	}
	queueFrames := cfg.QueueFrames
	if queueFrames == 0 {
		queueFrames = 3
	}
	queueFrames = core.Clamp(queueFrames, 1, maxQueueFrames)
	scratchIncrement := uint64(cfg.ScratchIncrementMB) * 1024 * 1024
	if scratchIncrement == 0 {
		scratchIncrement = defaultBufferIncrement
	}
	readbackIncrement := uint64(cfg.ReadbackIncrementMB) * 1024 * 1024
	if readbackIncrement == 0 {
		readbackIncrement = defaultBufferIncrement
	}

	recorder, err := device.CreateCommandRecorder()
	if err != nil {
		core.LogError("failed to create the command recorder: %s", err)
		return nil, err
	}

	if err := core.MetricsInitialize(); err != nil {
		return nil, err
	}

	barriers := NewBarrierBatch()
	cp := &CommandProcessor{
		device:                 device,
		cfg:                    cfg,
		co:                     co,
		recorder:               recorder,
		barriers:               barriers,
		allocators:             NewCommandAllocatorPool(device),
		transient:              NewTransientBufferManager(device, barriers, scratchIncrement, readbackIncrement),
		submissionCurrent:      1,
		frameCurrent:           1,
		closedFrameSubmissions: make([]uint64, queueFrames),
		frameClock:             core.NewClock(),
		rootSignatures:         make(map[uint64]RootSignature),
		drawViewPage:           PageInvalid,
		drawSamplerPage:        PageInvalid,
	}
	return cp, nil
}

func (cp *CommandProcessor) GetCurrentSubmission() uint64   { return cp.submissionCurrent }
func (cp *CommandProcessor) GetCompletedSubmission() uint64 { return cp.submissionCompleted }
func (cp *CommandProcessor) GetCurrentFrame() uint64        { return cp.frameCurrent }
func (cp *CommandProcessor) GetCompletedFrame() uint64      { return cp.frameCompleted }

// checkSubmissionCompleted polls the completion counter and reclaims
// whatever the new value unlocks.
func (cp *CommandProcessor) checkSubmissionCompleted() {
	completed := cp.device.CompletedValue()
	if completed >= cp.submissionCurrent {
		// The device can never be ahead of what was submitted.
		core.LogWarn("completion counter %d is ahead of the current submission %d", completed, cp.submissionCurrent)
		completed = cp.submissionCurrent - 1
	}
	if completed <= cp.submissionCompleted {
		return
	}
	cp.submissionCompleted = completed

	cp.transient.SweepCompleted(completed)
	cp.co.ViewPool.RecycleCompleted(completed)
	cp.co.SamplerPool.RecycleCompleted(completed)
	cp.co.ConstantPool.RecycleCompleted(completed)
	cp.updateCompletedFrame()
}

// updateCompletedFrame derives the completed frame counter from the
// closed-frame ring: the highest closed frame whose closing submission has
// completed. Frame completion is monotonic because submissions complete in
// order.
func (cp *CommandProcessor) updateCompletedFrame() {
	window := uint64(len(cp.closedFrameSubmissions))
	frame := cp.frameCurrent - 1
	for i := uint64(0); i < window && frame > cp.frameCompleted; i++ {
		closing := cp.closedFrameSubmissions[frame%window]
		if closing != 0 && closing <= cp.submissionCompleted {
			cp.frameCompleted = frame
			break
		}
		frame--
	}
}

// BeginSubmission opens a submission if none is open, and additionally
// promotes it to a full frame when isGuestCommand is set: per-frame resource
// cleanup, deferred cache clears and trace capture happen only on the frame
// path. Calling with an open submission is idempotent apart from a pending
// frame promotion.
func (cp *CommandProcessor) BeginSubmission(isGuestCommand bool) error {
	openingFrame := isGuestCommand && !cp.frameOpen
	if cp.submissionOpen && !openingFrame {
		return nil
	}

	cp.checkSubmissionCompleted()

	if openingFrame {
		// Transient resources may be reused across the in-flight frame
		// window, but not beyond it: await the frame leaving the window.
		window := uint64(len(cp.closedFrameSubmissions))
		if cp.frameCurrent > window {
			closing := cp.closedFrameSubmissions[cp.frameCurrent%window]
			if closing > cp.submissionCompleted {
				cp.device.AwaitValue(closing)
				cp.checkSubmissionCompleted()
			}
		}
	}

	if !cp.submissionOpen {
		allocator, err := cp.allocators.Acquire(cp.submissionCompleted)
		if err != nil {
			core.LogError("failed to acquire a command allocator: %s", err)
			return err
		}
		if err := cp.recorder.Begin(allocator); err != nil {
			core.LogError("failed to begin command recording: %s", err)
			cp.allocators.Retire(allocator, cp.submissionCompleted)
			return err
		}
		cp.currentAllocator = allocator
		cp.submissionOpen = true
		cp.recordingClosed = false
		cp.resetCommandStreamState()
	}

	if openingFrame {
		cp.frameOpen = true
		cp.frameClock.Start()
		if cp.cacheClearRequested {
			cp.applyCacheClear()
		}
		cp.beginTrace()
	}
	return nil
}

// resetCommandStreamState forgets everything confirmed on the previous
// command list. A fresh list has no pipeline, heaps, layout or dynamic
// state bound.
func (cp *CommandProcessor) resetCommandStreamState() {
	cp.boundPipeline = boundPipeline{}
	cp.currentGraphicsRootSignature = nil
	cp.currentGraphicsRootUpToDate.clear()
	cp.currentViewHeap = nil
	cp.currentSamplerHeap = nil
	cp.textureBindingsWrittenVertex = false
	cp.textureBindingsWrittenPixel = false
	cp.samplersWrittenVertex = false
	cp.samplersWrittenPixel = false
	cp.sharedMemoryWritten = false
	cp.invalidateConstantBindings()
	cp.ff.viewportUpToDate = false
	cp.ff.scissorUpToDate = false
	cp.ff.blendFactorUpToDate = false
	cp.ff.stencilRefUpToDate = false
	cp.ff.topologyUpToDate = false
	cp.ff.samplePositionsSent = false
}

// EndSubmission flushes pending barriers, closes recording and hands the
// work to the device tagged with the current submission number. On device
// rejection the submission is left open and counters untouched; the caller
// decides between retry and teardown. Recording is closed exactly once,
// so a retry skips straight to resubmitting the already-closed work. With
// closeFrame set, frame-close bookkeeping runs even if the submission
// itself was already closed.
func (cp *CommandProcessor) EndSubmission(closeFrame bool) error {
	if cp.submissionOpen {
		if !cp.recordingClosed {
			if cp.transient.ScratchInUse() {
				core.LogError("ending a submission while the scratch buffer is still in use")
			}
			cp.barriers.Flush(cp.recorder)
			if err := cp.recorder.End(); err != nil {
				core.LogError("failed to close command recording: %s", err)
				return err
			}
			cp.recordingClosed = true
		}
		if err := cp.device.Submit(cp.recorder, cp.submissionCurrent); err != nil {
			core.LogError("submission %d was rejected by the device: %s", cp.submissionCurrent, err)
			return err
		}
		cp.allocators.Retire(cp.currentAllocator, cp.submissionCurrent)
		cp.currentAllocator = nil
		cp.recordingClosed = false
		cp.submissionCurrent++
		cp.submissionOpen = false
	}

	if closeFrame && cp.frameOpen {
		window := uint64(len(cp.closedFrameSubmissions))
		cp.closedFrameSubmissions[cp.frameCurrent%window] = cp.submissionCurrent - 1
		cp.frameCurrent++
		cp.frameOpen = false
		cp.endTrace()
		cp.frameClock.Update()
		core.MetricsUpdate(cp.frameClock.Elapsed() / 1e9)
	}
	return nil
}

// AwaitAllSubmissionsCompletion blocks until every closed submission has
// finished on the device. Required before destructive cache clears and
// persistent-resource resizes.
func (cp *CommandProcessor) AwaitAllSubmissionsCompletion() {
	target := cp.submissionCurrent - 1
	if target > cp.submissionCompleted {
		cp.device.AwaitValue(target)
		cp.checkSubmissionCompleted()
	}
}

// ClearCaches schedules a full cache clear. It is applied at the next full
// frame open, after awaiting completion, rather than immediately.
func (cp *CommandProcessor) ClearCaches() {
	cp.cacheClearRequested = true
}

func (cp *CommandProcessor) applyCacheClear() {
	cp.cacheClearRequested = false
	cp.AwaitAllSubmissionsCompletion()

	cp.allocators.ClearAll()
	cp.transient.Shutdown()
	cp.co.ViewPool.Reset()
	cp.co.SamplerPool.Reset()
	cp.co.ConstantPool.Reset()
	for key, rs := range cp.rootSignatures {
		rs.Destroy()
		delete(cp.rootSignatures, key)
	}
	for _, collaborator := range []any{
		cp.co.Pipelines, cp.co.Textures, cp.co.Samplers,
		cp.co.RenderTargets, cp.co.Primitives,
	} {
		if clearer, ok := collaborator.(CacheClearer); ok {
			clearer.ClearCache()
		}
	}
	cp.drawViewPage = PageInvalid
	cp.drawSamplerPage = PageInvalid
	cp.resetCommandStreamState()
	core.LogInfo("GPU caches cleared")
}

// SetColorMask sets the register-configured render-target write mask.
func (cp *CommandProcessor) SetColorMask(mask uint32) {
	cp.colorMask = mask
}

// GetCurrentColorMask gates the configured mask by the pixel shader's own
// write mask.
func (cp *CommandProcessor) GetCurrentColorMask(pixelShader *TranslatedShader) uint32 {
	return GetCurrentColorMask(pixelShader, cp.colorMask)
}

// SetAlphaTest sets the guest alpha test function and reference range.
func (cp *CommandProcessor) SetAlphaTest(test int32, rng [2]float32) {
	cp.alphaTest = test
	cp.alphaTestRange = rng
}

func (cp *CommandProcessor) SetPointSize(size [2]float32) {
	cp.pointSize = size
}

// SetVertexIndexParams sets index endian swapping and the base vertex index.
func (cp *CommandProcessor) SetVertexIndexParams(endian uint32, base int32) {
	cp.vertexIndexEndian = endian
	cp.vertexBaseIndex = base
}

// Barrier operations exposed to the guest-command-stream consumer and the
// collaborating caches. A submission must be open to flush.

func (cp *CommandProcessor) PushTransitionBarrier(resource Resource, oldState, newState ResourceState, subresource uint32) {
	cp.barriers.PushTransition(resource, oldState, newState, subresource)
}

func (cp *CommandProcessor) PushAliasingBarrier(oldResource, newResource Resource) {
	cp.barriers.PushAliasing(oldResource, newResource)
}

func (cp *CommandProcessor) PushUAVBarrier(resource Resource) {
	cp.barriers.PushUAV(resource)
}

func (cp *CommandProcessor) SubmitBarriers() {
	if !cp.submissionOpen {
		core.LogError("SubmitBarriers called without an open submission")
		return
	}
	cp.barriers.Flush(cp.recorder)
}

// RequestScratchGPUBuffer returns the submission's temporary GPU buffer for
// tasks like texture untiling and resolving. ReleaseScratchGPUBuffer must be
// called before the next request.
func (cp *CommandProcessor) RequestScratchGPUBuffer(size uint64, state ResourceState) (Buffer, error) {
	if !cp.submissionOpen {
		err := fmt.Errorf("scratch buffer requested without an open submission")
		core.LogError(err.Error())
		return nil, err
	}
	return cp.transient.RequestScratch(size, state, cp.submissionCurrent)
}

// ReleaseScratchGPUBuffer notifies the processor of the state the user left
// the scratch buffer in.
func (cp *CommandProcessor) ReleaseScratchGPUBuffer(buffer Buffer, newState ResourceState) {
	cp.transient.ReleaseScratch(buffer, newState)
}

// RequestReadbackBuffer returns a copy-dest buffer for reading GPU data back
// to the CPU, assuming the caller synchronizes immediately after use.
func (cp *CommandProcessor) RequestReadbackBuffer(size uint64) (Buffer, error) {
	if !cp.submissionOpen {
		err := fmt.Errorf("readback buffer requested without an open submission")
		core.LogError(err.Error())
		return nil, err
	}
	return cp.transient.RequestReadback(size, cp.submissionCurrent)
}

// IssueDraw records one guest draw call. ErrNotReady means the draw was
// skipped because something (pipeline, texture) is not available yet; the
// frame continues.
func (cp *CommandProcessor) IssueDraw(vertexShader, pixelShader *TranslatedShader, tessellated bool, topology PrimitiveTopology, vertexCount uint32, indexBuffer *IndexBufferInfo) error {
	if vertexShader == nil {
		err := fmt.Errorf("a draw needs a vertex shader")
		core.LogError(err.Error())
		return err
	}
	if err := cp.BeginSubmission(true); err != nil {
		return err
	}
	if cp.co.Pipelines == nil {
		return ErrNotReady
	}

	colorMask := cp.GetCurrentColorMask(pixelShader)

	if cp.co.Primitives != nil {
		var err error
		topology, indexBuffer, err = cp.co.Primitives.Convert(topology, indexBuffer)
		if err != nil {
			return err
		}
	}

	handle, err := cp.co.Pipelines.ConfigurePipeline(vertexShader, pixelShader, tessellated, topology)
	if err != nil {
		return err
	}
	rootSignature, err := cp.GetRootSignature(vertexShader, pixelShader, tessellated)
	if err != nil {
		return err
	}
	if err := cp.setGuestPipeline(handle); err != nil {
		return err
	}

	cp.updateFixedFunctionState(topology)
	cp.updateSystemConstantValues(colorMask)
	if err := cp.UpdateBindings(vertexShader, pixelShader, rootSignature); err != nil {
		return err
	}

	// All states the draw depends on are declared; make them effective.
	cp.barriers.Flush(cp.recorder)

	if indexBuffer != nil {
		cp.recorder.SetIndexBuffer(*indexBuffer)
		cp.recorder.DrawIndexed(indexBuffer.Count, 0, cp.vertexBaseIndex)
	} else {
		cp.recorder.Draw(vertexCount, 0)
	}
	return nil
}

// IssueCopy records one guest copy/resolve operation, delegated to the
// render-target cache within the current submission.
func (cp *CommandProcessor) IssueCopy() error {
	if err := cp.BeginSubmission(true); err != nil {
		return err
	}
	if cp.co.RenderTargets == nil {
		return nil
	}
	return cp.co.RenderTargets.Resolve(cp.submissionCurrent)
}

// Shutdown frees everything the processor owns. It awaits completion of all
// submissions first; the device itself is owned by the caller.
func (cp *CommandProcessor) Shutdown() {
	if cp.submissionOpen {
		core.LogWarn("shutting down with an open submission; its work is dropped")
		cp.submissionOpen = false
		cp.recordingClosed = false
		cp.frameOpen = false
	}
	cp.AwaitAllSubmissionsCompletion()
	if cp.currentAllocator != nil {
		cp.currentAllocator.Destroy()
		cp.currentAllocator = nil
	}
	cp.allocators.ClearAll()
	cp.transient.Shutdown()
	cp.co.ViewPool.Reset()
	cp.co.SamplerPool.Reset()
	cp.co.ConstantPool.Reset()
	for key, rs := range cp.rootSignatures {
		rs.Destroy()
		delete(cp.rootSignatures, key)
	}
}
