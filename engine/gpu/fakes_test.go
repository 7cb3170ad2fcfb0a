package gpu

import (
	"fmt"

	"github.com/relic-emu/relic/engine/core"
)

// The fakes below stand in for the host device and the collaborating caches
// so the submission logic can be driven deterministically: completion is
// advanced by hand and every recorded command is observable.

type fakeBuffer struct {
	name      string
	size      uint64
	heap      HeapKind
	address   uint64
	mapping   []byte
	destroyed bool
}

func (b *fakeBuffer) Name() string       { return b.name }
func (b *fakeBuffer) Size() uint64       { return b.size }
func (b *fakeBuffer) GPUAddress() uint64 { return b.address }
func (b *fakeBuffer) Mapping() []byte    { return b.mapping }
func (b *fakeBuffer) Destroy()           { b.destroyed = true }

type fakeAllocator struct {
	resets    int
	destroyed bool
	failReset error
}

func (a *fakeAllocator) Reset() error {
	if a.failReset != nil {
		return a.failReset
	}
	a.resets++
	return nil
}

func (a *fakeAllocator) Destroy() { a.destroyed = true }

type fakeHeap struct {
	kind      DescriptorHeapKind
	capacity  uint32
	base      uint64
	destroyed bool
}

func (h *fakeHeap) Kind() DescriptorHeapKind { return h.kind }
func (h *fakeHeap) Capacity() uint32         { return h.capacity }
func (h *fakeHeap) CPUHandle(index uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle(h.base + uint64(index))
}
func (h *fakeHeap) GPUHandle(index uint32) GPUDescriptorHandle {
	return GPUDescriptorHandle(h.base + uint64(index))
}
func (h *fakeHeap) Destroy() { h.destroyed = true }

type fakeRootSignature struct {
	desc      RootSignatureDesc
	destroyed bool
}

func (rs *fakeRootSignature) ParameterCount() uint32 {
	count := uint32(ROOT_PARAMETER_COUNT_BASE)
	for _, n := range []uint32{
		rs.desc.TextureCountPixel, rs.desc.SamplerCountPixel,
		rs.desc.TextureCountVertex, rs.desc.SamplerCountVertex,
	} {
		if n > 0 {
			count++
		}
	}
	return count
}

func (rs *fakeRootSignature) Destroy() { rs.destroyed = true }

type recordedConstant struct {
	parameter uint32
	address   uint64
}

type recordedTable struct {
	parameter uint32
	handle    GPUDescriptorHandle
}

type fakeRecorder struct {
	begun     int
	ended     int
	recording bool
	failEnd   error

	barrierBatches [][]Barrier
	viewHeaps      []DescriptorHeap
	samplerHeaps   []DescriptorHeap
	rootSignatures []RootSignature
	constants      []recordedConstant
	tables         []recordedTable
	pipelines      []Pipeline

	viewports       []Viewport
	scissors        []Rect
	blendFactors    [][4]float32
	stencilRefs     []uint32
	topologies      []PrimitiveTopology
	samplePositions []MsaaSamples
	indexBuffers    []IndexBufferInfo

	draws        int
	drawsIndexed int
	copies       int
}

func (r *fakeRecorder) Begin(allocator CommandAllocator) error {
	if r.recording {
		return fmt.Errorf("recorder is already recording")
	}
	r.begun++
	r.recording = true
	return nil
}

// End mirrors the backend recorders: it only succeeds while recording, so
// closing twice without a fresh Begin is an error.
func (r *fakeRecorder) End() error {
	if !r.recording {
		return fmt.Errorf("recorder is not recording")
	}
	if r.failEnd != nil {
		return r.failEnd
	}
	r.ended++
	r.recording = false
	return nil
}

func (r *fakeRecorder) ResourceBarriers(barriers []Barrier) {
	batch := make([]Barrier, len(barriers))
	copy(batch, barriers)
	r.barrierBatches = append(r.barrierBatches, batch)
}

func (r *fakeRecorder) SetDescriptorHeaps(view, sampler DescriptorHeap) {
	r.viewHeaps = append(r.viewHeaps, view)
	r.samplerHeaps = append(r.samplerHeaps, sampler)
}

func (r *fakeRecorder) SetGraphicsRootSignature(rs RootSignature) {
	r.rootSignatures = append(r.rootSignatures, rs)
}

func (r *fakeRecorder) SetGraphicsRootConstantBuffer(parameter uint32, gpuAddress uint64) {
	r.constants = append(r.constants, recordedConstant{parameter: parameter, address: gpuAddress})
}

func (r *fakeRecorder) SetGraphicsRootDescriptorTable(parameter uint32, handle GPUDescriptorHandle) {
	r.tables = append(r.tables, recordedTable{parameter: parameter, handle: handle})
}

func (r *fakeRecorder) SetPipeline(p Pipeline) { r.pipelines = append(r.pipelines, p) }

func (r *fakeRecorder) SetViewport(v Viewport)       { r.viewports = append(r.viewports, v) }
func (r *fakeRecorder) SetScissor(rect Rect)         { r.scissors = append(r.scissors, rect) }
func (r *fakeRecorder) SetBlendFactor(f [4]float32)  { r.blendFactors = append(r.blendFactors, f) }
func (r *fakeRecorder) SetStencilRef(ref uint32)     { r.stencilRefs = append(r.stencilRefs, ref) }
func (r *fakeRecorder) SetPrimitiveTopology(t PrimitiveTopology) {
	r.topologies = append(r.topologies, t)
}
func (r *fakeRecorder) SetSamplePositions(s MsaaSamples) {
	r.samplePositions = append(r.samplePositions, s)
}
func (r *fakeRecorder) SetIndexBuffer(info IndexBufferInfo) {
	r.indexBuffers = append(r.indexBuffers, info)
}

func (r *fakeRecorder) Draw(vertexCount, startVertex uint32)                  { r.draws++ }
func (r *fakeRecorder) DrawIndexed(indexCount, startIndex uint32, base int32) { r.drawsIndexed++ }
func (r *fakeRecorder) CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64) {
	r.copies++
}

type fakeDevice struct {
	completed  uint64
	awaited    []uint64
	submitted  []uint64
	failSubmit error

	buffers        []*fakeBuffer
	allocators     []*fakeAllocator
	heaps          []*fakeHeap
	rootSignatures []*fakeRootSignature

	nextAddress  uint64
	nextHeapBase uint64
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{nextAddress: 1 << 16, nextHeapBase: 1 << 32}
}

func (d *fakeDevice) CreateCommandAllocator() (CommandAllocator, error) {
	allocator := &fakeAllocator{}
	d.allocators = append(d.allocators, allocator)
	return allocator, nil
}

func (d *fakeDevice) CreateCommandRecorder() (CommandRecorder, error) {
	return &fakeRecorder{}, nil
}

func (d *fakeDevice) CreateBuffer(name string, size uint64, heap HeapKind, initialState ResourceState) (Buffer, error) {
	buffer := &fakeBuffer{
		name:    name,
		size:    size,
		heap:    heap,
		address: d.nextAddress,
		mapping: make([]byte, size),
	}
	d.nextAddress += core.RoundUp(size, uint64(1<<16)) + 1<<16
	d.buffers = append(d.buffers, buffer)
	return buffer, nil
}

func (d *fakeDevice) CreateDescriptorHeap(kind DescriptorHeapKind, capacity uint32) (DescriptorHeap, error) {
	heap := &fakeHeap{kind: kind, capacity: capacity, base: d.nextHeapBase}
	d.nextHeapBase += 1 << 20
	d.heaps = append(d.heaps, heap)
	return heap, nil
}

func (d *fakeDevice) CreateRootSignature(desc RootSignatureDesc) (RootSignature, error) {
	rs := &fakeRootSignature{desc: desc}
	d.rootSignatures = append(d.rootSignatures, rs)
	return rs, nil
}

func (d *fakeDevice) Submit(recorder CommandRecorder, signalValue uint64) error {
	if d.failSubmit != nil {
		return d.failSubmit
	}
	d.submitted = append(d.submitted, signalValue)
	return nil
}

func (d *fakeDevice) CompletedValue() uint64 { return d.completed }

func (d *fakeDevice) AwaitValue(value uint64) {
	d.awaited = append(d.awaited, value)
	if value > d.completed {
		d.completed = value
	}
}

func (d *fakeDevice) Destroy() {}

// complete simulates the device finishing execution up to a submission.
func (d *fakeDevice) complete(value uint64) { d.completed = value }

type uploadRequest struct {
	submission uint64
	size       uint64
}

type fakeUploadPool struct {
	requests    []uploadRequest
	nextAddress uint64
	recycles    []uint64
	resets      int
	fail        error
}

func newFakeUploadPool() *fakeUploadPool {
	return &fakeUploadPool{nextAddress: 1 << 24}
}

func (p *fakeUploadPool) Request(currentSubmission uint64, size uint64) ([]byte, uint64, error) {
	if p.fail != nil {
		return nil, 0, p.fail
	}
	p.requests = append(p.requests, uploadRequest{submission: currentSubmission, size: size})
	address := p.nextAddress
	p.nextAddress += core.RoundUp(size, uint64(256))
	return make([]byte, size), address, nil
}

func (p *fakeUploadPool) RecycleCompleted(completedSubmission uint64) {
	p.recycles = append(p.recycles, completedSubmission)
}

func (p *fakeUploadPool) Reset() { p.resets++ }

// fakeDescriptorPagePool implements the partial/full paging contract over
// fake heaps with a configurable page capacity.
type fakeDescriptorPagePool struct {
	kind     DescriptorHeapKind
	capacity uint32

	currentHeap *fakeHeap
	currentPage uint64
	offset      uint32
	pages       int
	nextBase    uint64

	requests []uint32 // granted counts, in order
	recycles []uint64
	resets   int
	fail     error
}

func newFakeDescriptorPagePool(kind DescriptorHeapKind, capacity uint32) *fakeDescriptorPagePool {
	base := uint64(1 << 40)
	if kind == DESCRIPTOR_HEAP_KIND_SAMPLER {
		base = 1 << 48
	}
	return &fakeDescriptorPagePool{kind: kind, capacity: capacity, nextBase: base}
}

func (p *fakeDescriptorPagePool) Request(currentSubmission, previousPage uint64, countForPartial, countForFull uint32) (uint64, DescriptorHeap, CPUDescriptorHandle, GPUDescriptorHandle, error) {
	if p.fail != nil {
		return PageInvalid, nil, 0, 0, p.fail
	}
	if countForFull > p.capacity {
		return PageInvalid, nil, 0, 0, fmt.Errorf("full count %d exceeds page capacity %d", countForFull, p.capacity)
	}
	count := countForFull
	if p.currentHeap != nil && previousPage == p.currentPage {
		count = countForPartial
	}
	if p.currentHeap == nil || p.capacity-p.offset < count {
		if p.currentHeap != nil {
			p.currentPage++
		}
		p.currentHeap = &fakeHeap{kind: p.kind, capacity: p.capacity, base: p.nextBase}
		p.nextBase += 1 << 20
		p.pages++
		p.offset = 0
		count = countForFull
	}
	index := p.offset
	p.offset += count
	p.requests = append(p.requests, count)
	return p.currentPage, p.currentHeap, p.currentHeap.CPUHandle(index), p.currentHeap.GPUHandle(index), nil
}

func (p *fakeDescriptorPagePool) RecycleCompleted(completedSubmission uint64) {
	p.recycles = append(p.recycles, completedSubmission)
}

func (p *fakeDescriptorPagePool) Reset() { p.resets++ }

type fakePipeline struct {
	name string
}

func (p *fakePipeline) Name() string { return p.name }

type pipelineConfigKey struct {
	vertexShader *TranslatedShader
	pixelShader  *TranslatedShader
	tessellated  bool
	topology     PrimitiveTopology
}

type fakePipelineResolver struct {
	handles    map[pipelineConfigKey]PipelineHandle
	pipelines  map[PipelineHandle]*fakePipeline
	statuses   map[PipelineHandle]PipelineStatus
	nextHandle PipelineHandle

	configures  int
	resolves    int
	cacheClears int
}

func newFakePipelineResolver() *fakePipelineResolver {
	return &fakePipelineResolver{
		handles:    make(map[pipelineConfigKey]PipelineHandle),
		pipelines:  make(map[PipelineHandle]*fakePipeline),
		statuses:   make(map[PipelineHandle]PipelineStatus),
		nextHandle: 1,
	}
}

func (r *fakePipelineResolver) ConfigurePipeline(vertexShader, pixelShader *TranslatedShader, tessellated bool, topology PrimitiveTopology) (PipelineHandle, error) {
	r.configures++
	key := pipelineConfigKey{vertexShader, pixelShader, tessellated, topology}
	if handle, ok := r.handles[key]; ok {
		return handle, nil
	}
	handle := r.nextHandle
	r.nextHandle++
	r.handles[key] = handle
	r.pipelines[handle] = &fakePipeline{name: fmt.Sprintf("guest_%d", handle)}
	r.statuses[handle] = PIPELINE_STATUS_READY
	return handle, nil
}

func (r *fakePipelineResolver) ResolvePipeline(handle PipelineHandle) (Pipeline, PipelineStatus) {
	r.resolves++
	status := r.statuses[handle]
	if status != PIPELINE_STATUS_READY {
		return nil, status
	}
	return r.pipelines[handle], status
}

func (r *fakePipelineResolver) ClearCache() { r.cacheClears++ }

type textureWrite struct {
	stage  ShaderStage
	handle CPUDescriptorHandle
	count  int
}

type fakeTextureBinder struct {
	bindings map[ShaderStage][]TextureBinding
	writes   []textureWrite
	fail     error
}

func newFakeTextureBinder() *fakeTextureBinder {
	return &fakeTextureBinder{bindings: make(map[ShaderStage][]TextureBinding)}
}

func (b *fakeTextureBinder) setBindings(stage ShaderStage, bindings []TextureBinding) {
	b.bindings[stage] = bindings
}

func (b *fakeTextureBinder) TextureBindings(stage ShaderStage, count uint32) ([]TextureBinding, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	if existing, ok := b.bindings[stage]; ok {
		return existing, nil
	}
	bindings := make([]TextureBinding, count)
	for i := range bindings {
		bindings[i] = TextureBinding{GuestBase: uint32(i) * 0x1000, Format: 1, Dimension: 2}
	}
	return bindings, nil
}

func (b *fakeTextureBinder) WriteTextureDescriptors(stage ShaderStage, bindings []TextureBinding, handle CPUDescriptorHandle) error {
	b.writes = append(b.writes, textureWrite{stage: stage, handle: handle, count: len(bindings)})
	return nil
}

type samplerWrite struct {
	stage  ShaderStage
	handle CPUDescriptorHandle
	count  int
}

type fakeSamplerBinder struct {
	bindings map[ShaderStage][]SamplerBinding
	writes   []samplerWrite
	fail     error
}

func newFakeSamplerBinder() *fakeSamplerBinder {
	return &fakeSamplerBinder{bindings: make(map[ShaderStage][]SamplerBinding)}
}

func (b *fakeSamplerBinder) setBindings(stage ShaderStage, bindings []SamplerBinding) {
	b.bindings[stage] = bindings
}

func (b *fakeSamplerBinder) SamplerBindings(stage ShaderStage, count uint32) ([]SamplerBinding, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	if existing, ok := b.bindings[stage]; ok {
		return existing, nil
	}
	bindings := make([]SamplerBinding, count)
	for i := range bindings {
		bindings[i] = SamplerBinding{Filter: uint32(i)}
	}
	return bindings, nil
}

func (b *fakeSamplerBinder) WriteSamplerDescriptors(stage ShaderStage, bindings []SamplerBinding, handle CPUDescriptorHandle) error {
	b.writes = append(b.writes, samplerWrite{stage: stage, handle: handle, count: len(bindings)})
	return nil
}

type fakeSharedMemory struct {
	count  uint32
	writes []CPUDescriptorHandle
}

func (m *fakeSharedMemory) DescriptorCount() uint32 { return m.count }
func (m *fakeSharedMemory) WriteDescriptors(handle CPUDescriptorHandle) {
	m.writes = append(m.writes, handle)
}

type fakeRenderTargetCache struct {
	resolves []uint64
	flushes  int
}

func (c *fakeRenderTargetCache) Resolve(currentSubmission uint64) error {
	c.resolves = append(c.resolves, currentSubmission)
	return nil
}

func (c *fakeRenderTargetCache) FlushAndUnbind() { c.flushes++ }

type fakePrimitiveConverter struct {
	calls int
}

// Convert rewrites triangle fans to triangle lists and passes everything
// else through, without touching the index buffer.
func (c *fakePrimitiveConverter) Convert(topology PrimitiveTopology, indexBuffer *IndexBufferInfo) (PrimitiveTopology, *IndexBufferInfo, error) {
	c.calls++
	if topology == PRIMITIVE_TOPOLOGY_TRIANGLE_FAN {
		topology = PRIMITIVE_TOPOLOGY_TRIANGLE_LIST
	}
	return topology, indexBuffer, nil
}

// testSetup wires a processor to fakes of everything it collaborates with.
type testSetup struct {
	device      *fakeDevice
	cp          *CommandProcessor
	viewPool    *fakeDescriptorPagePool
	samplerPool *fakeDescriptorPagePool
	uploadPool  *fakeUploadPool
	pipelines   *fakePipelineResolver
	textures    *fakeTextureBinder
	samplers    *fakeSamplerBinder
	shared      *fakeSharedMemory
	primitives  *fakePrimitiveConverter
	targets     *fakeRenderTargetCache
}

func (s *testSetup) recorder() *fakeRecorder {
	return s.cp.recorder.(*fakeRecorder)
}

func newTestSetup(cfg core.RendererConfig) (*testSetup, error) {
	s := &testSetup{
		device:      newFakeDevice(),
		viewPool:    newFakeDescriptorPagePool(DESCRIPTOR_HEAP_KIND_VIEW, 64),
		samplerPool: newFakeDescriptorPagePool(DESCRIPTOR_HEAP_KIND_SAMPLER, 16),
		uploadPool:  newFakeUploadPool(),
		pipelines:   newFakePipelineResolver(),
		textures:    newFakeTextureBinder(),
		samplers:    newFakeSamplerBinder(),
		shared:      &fakeSharedMemory{count: 1},
		primitives:  &fakePrimitiveConverter{},
		targets:     &fakeRenderTargetCache{},
	}
	cp, err := NewCommandProcessor(s.device, cfg, Collaborators{
		Pipelines:     s.pipelines,
		Textures:      s.textures,
		Samplers:      s.samplers,
		SharedMemory:  s.shared,
		RenderTargets: s.targets,
		Primitives:    s.primitives,
		ViewPool:      s.viewPool,
		SamplerPool:   s.samplerPool,
		ConstantPool:  s.uploadPool,
	})
	if err != nil {
		return nil, err
	}
	s.cp = cp
	return s, nil
}
