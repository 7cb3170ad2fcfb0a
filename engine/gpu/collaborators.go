package gpu

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// PageInvalid is the "no previous page" value for descriptor paging.
const PageInvalid = ^uint64(0)

// UploadPool is the pooled upload-buffer allocator constant data is written
// through. A granted range stays untouched until the tagging submission has
// completed.
type UploadPool interface {
	// Request returns a CPU mapping and the GPU address of a fresh range of
	// size bytes, tagged with the current submission.
	Request(currentSubmission uint64, size uint64) ([]byte, uint64, error)
	// RecycleCompleted returns pages whose last-use submission has completed
	// to the free list.
	RecycleCompleted(completedSubmission uint64)
	// Reset destroys all pages. Requires prior completion of all submissions.
	Reset()
}

// DescriptorPagePool is a growable descriptor-heap pool handing out
// contiguous descriptor ranges. If the caller's previous page can be
// extended by countForPartial descriptors, the same page index is returned
// and no heap rebind is needed; otherwise a range of countForFull is granted
// on the current (possibly new) page. Partial updates are far cheaper than a
// heap rebind, so hot-path callers only pay the rebind when a page is
// actually exhausted.
type DescriptorPagePool interface {
	Request(currentSubmission, previousPage uint64, countForPartial, countForFull uint32) (page uint64, heap DescriptorHeap, cpu CPUDescriptorHandle, gpu GPUDescriptorHandle, err error)
	RecycleCompleted(completedSubmission uint64)
	Reset()
}

// PipelineHandle refers to a pipeline owned by the pipeline cache, possibly
// still being created asynchronously.
type PipelineHandle uint64

type PipelineStatus int

const (
	PIPELINE_STATUS_PENDING PipelineStatus = iota
	PIPELINE_STATUS_READY
	PIPELINE_STATUS_FAILED
)

// PipelineResolver is the pipeline cache contract. Resolution yielding
// PIPELINE_STATUS_PENDING or PIPELINE_STATUS_FAILED is a recoverable,
// expected condition: the draw is skipped and the frame continues.
type PipelineResolver interface {
	// ConfigurePipeline returns an opaque handle for the current shader pair,
	// fixed-function state and topology. Creation may still be in progress.
	ConfigurePipeline(vertexShader, pixelShader *TranslatedShader, tessellated bool, topology PrimitiveTopology) (PipelineHandle, error)
	ResolvePipeline(handle PipelineHandle) (Pipeline, PipelineStatus)
}

// TextureBinding describes one texture bound to a shader stage, as reported
// by the texture cache. Only identity matters here: the submission core
// hashes bindings to skip redundant descriptor writes.
type TextureBinding struct {
	GuestBase uint32
	Format    uint32
	Dimension uint32
}

// TextureBinder is the texture cache contract.
type TextureBinder interface {
	// TextureBindings returns the current bindings of a stage. ErrNotReady if
	// a required texture is not yet resident.
	TextureBindings(stage ShaderStage, count uint32) ([]TextureBinding, error)
	// WriteTextureDescriptors writes descriptors for the given bindings
	// starting at handle.
	WriteTextureDescriptors(stage ShaderStage, bindings []TextureBinding, handle CPUDescriptorHandle) error
}

// SamplerBinding describes one sampler's parameters.
type SamplerBinding struct {
	Filter   uint32
	AddressU uint32
	AddressV uint32
	AddressW uint32
}

type SamplerBinder interface {
	SamplerBindings(stage ShaderStage, count uint32) ([]SamplerBinding, error)
	WriteSamplerDescriptors(stage ShaderStage, bindings []SamplerBinding, handle CPUDescriptorHandle) error
}

// SharedMemory is the guest-memory-backed buffer contract. Its descriptors
// occupy the head of every full view-descriptor update.
type SharedMemory interface {
	DescriptorCount() uint32
	WriteDescriptors(handle CPUDescriptorHandle)
}

// RenderTargetCache is the render-target/EDRAM emulation contract. Copy
// operations are delegated to it; it calls back into the processor for
// scratch buffers and barriers.
type RenderTargetCache interface {
	// Resolve performs a guest copy/resolve operation within the current
	// submission.
	Resolve(currentSubmission uint64) error
	// FlushAndUnbind stores and unbinds the emulated render targets before
	// external render-target binds.
	FlushAndUnbind()
}

// PrimitiveConverter rewrites guest primitive types the host cannot draw
// directly (triangle fans, line loops) into supported topologies.
type PrimitiveConverter interface {
	Convert(topology PrimitiveTopology, indexBuffer *IndexBufferInfo) (PrimitiveTopology, *IndexBufferInfo, error)
}

// CacheClearer is implemented by collaborators that can drop their cached
// resources. Clearing happens only at full frame open, after all
// submissions have completed.
type CacheClearer interface {
	ClearCache()
}

// Collaborators wires the external caches and allocators into the
// submission core. Textures, Samplers, SharedMemory, RenderTargets and
// Primitives may be nil; draws then fail as not-ready or skip the
// corresponding bindings.
type Collaborators struct {
	Pipelines     PipelineResolver
	Textures      TextureBinder
	Samplers      SamplerBinder
	SharedMemory  SharedMemory
	RenderTargets RenderTargetCache
	Primitives    PrimitiveConverter
	ViewPool      DescriptorPagePool
	SamplerPool   DescriptorPagePool
	ConstantPool  UploadPool
}

func hashTextureBindings(bindings []TextureBinding) uint64 {
	var d xxhash.Digest
	d.Reset()
	var scratch [12]byte
	for i := range bindings {
		binary.LittleEndian.PutUint32(scratch[0:], bindings[i].GuestBase)
		binary.LittleEndian.PutUint32(scratch[4:], bindings[i].Format)
		binary.LittleEndian.PutUint32(scratch[8:], bindings[i].Dimension)
		d.Write(scratch[:])
	}
	return d.Sum64()
}

func hashSamplerBindings(bindings []SamplerBinding) uint64 {
	var d xxhash.Digest
	d.Reset()
	var scratch [16]byte
	for i := range bindings {
		binary.LittleEndian.PutUint32(scratch[0:], bindings[i].Filter)
		binary.LittleEndian.PutUint32(scratch[4:], bindings[i].AddressU)
		binary.LittleEndian.PutUint32(scratch[8:], bindings[i].AddressV)
		binary.LittleEndian.PutUint32(scratch[12:], bindings[i].AddressW)
		d.Write(scratch[:])
	}
	return d.Sum64()
}
