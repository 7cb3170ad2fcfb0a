package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/gpu"
)

type descriptorRecordKind int

const (
	DESCRIPTOR_RECORD_EMPTY descriptorRecordKind = iota
	DESCRIPTOR_RECORD_BUFFER
	DESCRIPTOR_RECORD_IMAGE
	DESCRIPTOR_RECORD_SAMPLER
)

// descriptorRecord is the CPU-side shadow of one binding-table slot. Slots
// are written through the heap (or through the device by handle) and turned
// into real descriptor sets by the recorder right before a draw that uses
// them.
type descriptorRecord struct {
	kind        descriptorRecordKind
	buffer      vk.Buffer
	offset      vk.DeviceSize
	size        vk.DeviceSize
	imageView   vk.ImageView
	imageLayout vk.ImageLayout
	sampler     vk.Sampler
}

// VulkanDescriptorHeap is a flat, indexable array of binding-table slots.
// Handles are the heap base plus the slot index, so handle arithmetic works
// the way the submission core expects.
type VulkanDescriptorHeap struct {
	device   *VulkanDevice
	kind     gpu.DescriptorHeapKind
	base     uint64
	capacity uint32
	records  []descriptorRecord
}

var _ gpu.DescriptorHeap = (*VulkanDescriptorHeap)(nil)

func (h *VulkanDescriptorHeap) Kind() gpu.DescriptorHeapKind {
	return h.kind
}

func (h *VulkanDescriptorHeap) Capacity() uint32 {
	return h.capacity
}

func (h *VulkanDescriptorHeap) CPUHandle(index uint32) gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle(h.base + uint64(index))
}

func (h *VulkanDescriptorHeap) GPUHandle(index uint32) gpu.GPUDescriptorHandle {
	return gpu.GPUDescriptorHandle(h.base + uint64(index))
}

// WriteBufferDescriptor records a storage-buffer view in the given slot.
func (h *VulkanDescriptorHeap) WriteBufferDescriptor(index uint32, buffer *VulkanBuffer, offset, size uint64) error {
	if index >= h.capacity {
		return fmt.Errorf("descriptor index %d out of range (capacity %d)", index, h.capacity)
	}
	h.records[index] = descriptorRecord{
		kind:   DESCRIPTOR_RECORD_BUFFER,
		buffer: buffer.Handle,
		offset: vk.DeviceSize(offset),
		size:   vk.DeviceSize(size),
	}
	return nil
}

// WriteImageDescriptor records a sampled-image view in the given slot.
func (h *VulkanDescriptorHeap) WriteImageDescriptor(index uint32, view vk.ImageView, layout vk.ImageLayout) error {
	if index >= h.capacity {
		return fmt.Errorf("descriptor index %d out of range (capacity %d)", index, h.capacity)
	}
	h.records[index] = descriptorRecord{
		kind:        DESCRIPTOR_RECORD_IMAGE,
		imageView:   view,
		imageLayout: layout,
	}
	return nil
}

// WriteSamplerDescriptor records a sampler in the given slot.
func (h *VulkanDescriptorHeap) WriteSamplerDescriptor(index uint32, sampler vk.Sampler) error {
	if index >= h.capacity {
		return fmt.Errorf("descriptor index %d out of range (capacity %d)", index, h.capacity)
	}
	h.records[index] = descriptorRecord{
		kind:    DESCRIPTOR_RECORD_SAMPLER,
		sampler: sampler,
	}
	return nil
}

func (h *VulkanDescriptorHeap) recordsAt(index, count uint32) ([]descriptorRecord, error) {
	if uint64(index)+uint64(count) > uint64(h.capacity) {
		return nil, fmt.Errorf("descriptor range [%d, %d) out of range (capacity %d)", index, index+count, h.capacity)
	}
	return h.records[index : index+count], nil
}

func (h *VulkanDescriptorHeap) Destroy() {
	h.device.unregisterHeap(h)
	h.records = nil
}

// WriteBufferDescriptorHandle resolves a raw CPU handle to its owning heap
// and writes a storage-buffer view there. Binder implementations use this
// when all they were given is the handle.
func (d *VulkanDevice) WriteBufferDescriptorHandle(handle gpu.CPUDescriptorHandle, buffer *VulkanBuffer, offset, size uint64) error {
	heap, index, err := d.resolveHeapSlot(uint64(handle))
	if err != nil {
		return err
	}
	return heap.WriteBufferDescriptor(index, buffer, offset, size)
}

func (d *VulkanDevice) WriteImageDescriptorHandle(handle gpu.CPUDescriptorHandle, view vk.ImageView, layout vk.ImageLayout) error {
	heap, index, err := d.resolveHeapSlot(uint64(handle))
	if err != nil {
		return err
	}
	return heap.WriteImageDescriptor(index, view, layout)
}

func (d *VulkanDevice) WriteSamplerDescriptorHandle(handle gpu.CPUDescriptorHandle, sampler vk.Sampler) error {
	heap, index, err := d.resolveHeapSlot(uint64(handle))
	if err != nil {
		return err
	}
	return heap.WriteSamplerDescriptor(index, sampler)
}
