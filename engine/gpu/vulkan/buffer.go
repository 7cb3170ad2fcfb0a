package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

// VulkanBuffer backs every heap kind the submission core allocates from.
// Upload and readback buffers stay persistently mapped for their whole
// lifetime.
type VulkanBuffer struct {
	device  *VulkanDevice
	name    string
	size    uint64
	heap    gpu.HeapKind
	Handle  vk.Buffer
	Memory  vk.DeviceMemory
	mapping []byte
	address uint64
}

var _ gpu.Buffer = (*VulkanBuffer)(nil)

func (d *VulkanDevice) CreateBuffer(name string, size uint64, heap gpu.HeapKind, initialState gpu.ResourceState) (gpu.Buffer, error) {
	var usage vk.BufferUsageFlags
	var memoryFlags vk.MemoryPropertyFlags
	switch heap {
	case gpu.HEAP_KIND_DEFAULT:
		usage = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit |
			vk.BufferUsageTransferDstBit |
			vk.BufferUsageUniformBufferBit |
			vk.BufferUsageStorageBufferBit |
			vk.BufferUsageIndexBufferBit |
			vk.BufferUsageIndirectBufferBit)
		memoryFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case gpu.HEAP_KIND_UPLOAD:
		usage = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit |
			vk.BufferUsageUniformBufferBit |
			vk.BufferUsageIndexBufferBit)
		memoryFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	case gpu.HEAP_KIND_READBACK:
		usage = vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
		memoryFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	default:
		err := fmt.Errorf("unknown heap kind %d for buffer %s", heap, name)
		core.LogError(err.Error())
		return nil, err
	}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(d.context.LogicalDevice, &bufferInfo, d.context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("vkCreateBuffer (%s) failed with %s", name, VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.context.LogicalDevice, handle, &memReqs)
	memReqs.Deref()

	memoryIndex := d.context.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex == -1 {
		vk.DestroyBuffer(d.context.LogicalDevice, handle, d.context.Allocator)
		err := fmt.Errorf("no suitable memory type for buffer %s", name)
		core.LogError(err.Error())
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.context.LogicalDevice, &allocInfo, d.context.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(d.context.LogicalDevice, handle, d.context.Allocator)
		err := fmt.Errorf("vkAllocateMemory (%s) failed with %s", name, VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	if res := vk.BindBufferMemory(d.context.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(d.context.LogicalDevice, memory, d.context.Allocator)
		vk.DestroyBuffer(d.context.LogicalDevice, handle, d.context.Allocator)
		err := fmt.Errorf("vkBindBufferMemory (%s) failed with %s", name, VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	buffer := &VulkanBuffer{
		device: d,
		name:   name,
		size:   size,
		heap:   heap,
		Handle: handle,
		Memory: memory,
	}

	if heap != gpu.HEAP_KIND_DEFAULT {
		var data unsafe.Pointer
		if res := vk.MapMemory(d.context.LogicalDevice, memory, 0, vk.DeviceSize(size), 0, &data); res != vk.Success {
			buffer.Destroy()
			err := fmt.Errorf("vkMapMemory (%s) failed with %s", name, VulkanResultString(res))
			core.LogError(err.Error())
			return nil, err
		}
		buffer.mapping = sliceFromMapping(data, size)
	}

	buffer.address = d.registerBufferRange(buffer, size)
	return buffer, nil
}

func (b *VulkanBuffer) Name() string {
	return b.name
}

func (b *VulkanBuffer) Size() uint64 {
	return b.size
}

func (b *VulkanBuffer) GPUAddress() uint64 {
	return b.address
}

func (b *VulkanBuffer) Mapping() []byte {
	return b.mapping
}

func (b *VulkanBuffer) Destroy() {
	if b.mapping != nil {
		vk.UnmapMemory(b.device.context.LogicalDevice, b.Memory)
		b.mapping = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(b.device.context.LogicalDevice, b.Handle, b.device.context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(b.device.context.LogicalDevice, b.Memory, b.device.context.Allocator)
		b.Memory = nil
	}
	if b.address != 0 {
		b.device.unregisterBufferRange(b.address)
		b.address = 0
	}
}
