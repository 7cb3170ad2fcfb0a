package pools

import (
	"github.com/relic-emu/relic/engine/gpu"
)

type poolBuffer struct {
	name      string
	size      uint64
	heap      gpu.HeapKind
	address   uint64
	mapping   []byte
	destroyed bool
}

func (b *poolBuffer) Name() string       { return b.name }
func (b *poolBuffer) Size() uint64       { return b.size }
func (b *poolBuffer) GPUAddress() uint64 { return b.address }
func (b *poolBuffer) Mapping() []byte    { return b.mapping }
func (b *poolBuffer) Destroy()           { b.destroyed = true }

type poolHeap struct {
	kind      gpu.DescriptorHeapKind
	capacity  uint32
	base      uint64
	destroyed bool
}

func (h *poolHeap) Kind() gpu.DescriptorHeapKind { return h.kind }
func (h *poolHeap) Capacity() uint32             { return h.capacity }
func (h *poolHeap) CPUHandle(index uint32) gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle(h.base + uint64(index))
}
func (h *poolHeap) GPUHandle(index uint32) gpu.GPUDescriptorHandle {
	return gpu.GPUDescriptorHandle(h.base + uint64(index))
}
func (h *poolHeap) Destroy() { h.destroyed = true }

// poolDevice implements only the creation side of the device contract; the
// pools never submit work themselves.
type poolDevice struct {
	buffers     []*poolBuffer
	heaps       []*poolHeap
	nextAddress uint64
	nextBase    uint64
	failCreate  error
}

func newPoolDevice() *poolDevice {
	return &poolDevice{nextAddress: 1 << 16, nextBase: 1 << 32}
}

func (d *poolDevice) CreateCommandAllocator() (gpu.CommandAllocator, error) { return nil, nil }
func (d *poolDevice) CreateCommandRecorder() (gpu.CommandRecorder, error)  { return nil, nil }

func (d *poolDevice) CreateBuffer(name string, size uint64, heap gpu.HeapKind, initialState gpu.ResourceState) (gpu.Buffer, error) {
	if d.failCreate != nil {
		return nil, d.failCreate
	}
	buffer := &poolBuffer{
		name:    name,
		size:    size,
		heap:    heap,
		address: d.nextAddress,
		mapping: make([]byte, size),
	}
	d.nextAddress += size + 1<<16
	d.buffers = append(d.buffers, buffer)
	return buffer, nil
}

func (d *poolDevice) CreateDescriptorHeap(kind gpu.DescriptorHeapKind, capacity uint32) (gpu.DescriptorHeap, error) {
	if d.failCreate != nil {
		return nil, d.failCreate
	}
	heap := &poolHeap{kind: kind, capacity: capacity, base: d.nextBase}
	d.nextBase += 1 << 20
	d.heaps = append(d.heaps, heap)
	return heap, nil
}

func (d *poolDevice) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	return nil, nil
}

func (d *poolDevice) Submit(recorder gpu.CommandRecorder, signalValue uint64) error { return nil }
func (d *poolDevice) CompletedValue() uint64                                        { return 0 }
func (d *poolDevice) AwaitValue(value uint64)                                       {}
func (d *poolDevice) Destroy()                                                      {}
