package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/core"
)

// VulkanContext carries the instance-level and device-level handles every
// other object in this package needs. It is created by NewDevice and shared
// by reference.
type VulkanContext struct {
	Instance           vk.Instance
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueue      vk.Queue
	GraphicsQueueIndex uint32
	Allocator          *vk.AllocationCallbacks
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// VulkanSafeString returns a null-terminated copy of s as required by the
// C-side of the Vulkan API.
func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return "\x00"
	}
	if s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	for i := range list {
		list[i] = VulkanSafeString(list[i])
	}
	return list
}

func sliceFromMapping(ptr unsafe.Pointer, size uint64) []byte {
	return unsafe.Slice((*byte)(ptr), size)
}
