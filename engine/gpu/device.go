package gpu

import "errors"

var (
	// ErrNotReady signals that a required resource (pipeline still compiling,
	// texture not resident) is unavailable. The draw should be skipped and the
	// frame continues; this is not fatal.
	ErrNotReady = errors.New("resource not ready")
	// ErrDeviceRemoved signals that the device rejected a submission.
	ErrDeviceRemoved = errors.New("device removed")
)

// ResourceState describes how a resource is allowed to be accessed by
// recorded work. States of distinct resources can be transitioned together
// in one barrier batch.
type ResourceState uint32

const (
	RESOURCE_STATE_COMMON            ResourceState = 0
	RESOURCE_STATE_CONSTANT_BUFFER   ResourceState = 1 << 0
	RESOURCE_STATE_INDEX_BUFFER      ResourceState = 1 << 1
	RESOURCE_STATE_RENDER_TARGET     ResourceState = 1 << 2
	RESOURCE_STATE_UNORDERED_ACCESS  ResourceState = 1 << 3
	RESOURCE_STATE_DEPTH_WRITE       ResourceState = 1 << 4
	RESOURCE_STATE_SHADER_RESOURCE   ResourceState = 1 << 5
	RESOURCE_STATE_COPY_DEST         ResourceState = 1 << 6
	RESOURCE_STATE_COPY_SOURCE       ResourceState = 1 << 7
	RESOURCE_STATE_INDIRECT_ARGUMENT ResourceState = 1 << 8
)

// SubresourceAll addresses every subresource of a resource in a transition.
const SubresourceAll = ^uint32(0)

type HeapKind int

const (
	HEAP_KIND_DEFAULT HeapKind = iota
	HEAP_KIND_UPLOAD
	HEAP_KIND_READBACK
)

// Resource is anything barriers and copies can target. Backends type-assert
// to their own concrete types.
type Resource interface {
	// Name identifies the resource in logs and traces.
	Name() string
}

// Buffer is a GPU buffer created through the device.
type Buffer interface {
	Resource
	Size() uint64
	// GPUAddress returns the device virtual address of the buffer start.
	GPUAddress() uint64
	// Mapping returns the CPU-visible bytes of the buffer, or nil if the
	// buffer lives in a heap the CPU cannot see.
	Mapping() []byte
	Destroy()
}

type DescriptorHeapKind int

const (
	DESCRIPTOR_HEAP_KIND_VIEW DescriptorHeapKind = iota
	DESCRIPTOR_HEAP_KIND_SAMPLER
)

// Descriptor handles address a single binding-table slot. Handles within one
// heap are contiguous, so a handle for slot i+n is the slot-i handle plus n.
type (
	CPUDescriptorHandle uint64
	GPUDescriptorHandle uint64
)

// DescriptorHeap is a contiguous array of binding-table slots.
type DescriptorHeap interface {
	Kind() DescriptorHeapKind
	Capacity() uint32
	CPUHandle(index uint32) CPUDescriptorHandle
	GPUHandle(index uint32) GPUDescriptorHandle
	Destroy()
}

// RootSignatureDesc describes the shape of a binding layout. The base
// parameters (the five constant buffers and the shared-memory table) are
// always present; the four texture/sampler tables exist only when the
// corresponding count is non-zero.
type RootSignatureDesc struct {
	TextureCountPixel  uint32
	SamplerCountPixel  uint32
	TextureCountVertex uint32
	SamplerCountVertex uint32
	Tessellated        bool
}

type RootSignature interface {
	ParameterCount() uint32
	Destroy()
}

// Pipeline is an opaque compiled pipeline object.
type Pipeline interface {
	Name() string
}

// CommandAllocator is recyclable backing storage for recorded commands. It
// may be reset only after the submission that last used it has completed.
type CommandAllocator interface {
	Reset() error
	Destroy()
}

type BarrierType int

const (
	BARRIER_TYPE_TRANSITION BarrierType = iota
	BARRIER_TYPE_ALIASING
	BARRIER_TYPE_UAV
)

type Barrier struct {
	Type        BarrierType
	Resource    Resource
	OldResource Resource // aliasing only
	OldState    ResourceState
	NewState    ResourceState
	Subresource uint32
}

type Viewport struct {
	X, Y, Width, Height, MinDepth, MaxDepth float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

type PrimitiveTopology int

const (
	PRIMITIVE_TOPOLOGY_POINT_LIST PrimitiveTopology = iota
	PRIMITIVE_TOPOLOGY_LINE_LIST
	PRIMITIVE_TOPOLOGY_LINE_STRIP
	PRIMITIVE_TOPOLOGY_TRIANGLE_LIST
	PRIMITIVE_TOPOLOGY_TRIANGLE_STRIP
	PRIMITIVE_TOPOLOGY_TRIANGLE_FAN
)

type MsaaSamples int

const (
	MSAA_SAMPLES_1X MsaaSamples = iota
	MSAA_SAMPLES_2X
	MSAA_SAMPLES_4X
)

type IndexFormat int

const (
	INDEX_FORMAT_16 IndexFormat = iota
	INDEX_FORMAT_32
)

type IndexBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Format IndexFormat
	Count  uint32
}

// CommandRecorder records device commands between Begin and End. One
// recorder is reused for every submission, backed by a different allocator
// each time.
type CommandRecorder interface {
	Begin(allocator CommandAllocator) error
	End() error

	ResourceBarriers(barriers []Barrier)

	SetDescriptorHeaps(view, sampler DescriptorHeap)
	SetGraphicsRootSignature(rs RootSignature)
	SetGraphicsRootConstantBuffer(parameter uint32, gpuAddress uint64)
	SetGraphicsRootDescriptorTable(parameter uint32, handle GPUDescriptorHandle)
	SetPipeline(p Pipeline)

	SetViewport(v Viewport)
	SetScissor(r Rect)
	SetBlendFactor(factor [4]float32)
	SetStencilRef(ref uint32)
	SetPrimitiveTopology(t PrimitiveTopology)
	SetSamplePositions(samples MsaaSamples)
	SetIndexBuffer(info IndexBufferInfo)

	Draw(vertexCount, startVertex uint32)
	DrawIndexed(indexCount, startIndex uint32, baseVertex int32)
	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)
}

// Device is the narrow contract the submission core consumes from the host
// graphics backend.
type Device interface {
	CreateCommandAllocator() (CommandAllocator, error)
	CreateCommandRecorder() (CommandRecorder, error)
	CreateBuffer(name string, size uint64, heap HeapKind, initialState ResourceState) (Buffer, error)
	CreateDescriptorHeap(kind DescriptorHeapKind, capacity uint32) (DescriptorHeap, error)
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)

	// Submit hands recorded work to the device queue. The completion counter
	// reaches signalValue once the work has finished executing. Submissions
	// are consumed in increasing signal-value order.
	Submit(recorder CommandRecorder, signalValue uint64) error
	// CompletedValue returns the highest signaled completion counter value.
	CompletedValue() uint64
	// AwaitValue blocks until the completion counter reaches value.
	AwaitValue(value uint64)

	Destroy()
}
