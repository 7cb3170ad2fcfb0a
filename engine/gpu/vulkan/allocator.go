package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

const (
	allocatorMaxDescriptorSets  = 1024
	allocatorUniformDescriptors = 4096
	allocatorStorageDescriptors = 256
	allocatorImageDescriptors   = 2048
	allocatorSamplerDescriptors = 512
)

// VulkanCommandAllocator pairs a command pool with a descriptor pool. The
// descriptor sets the recorder materializes at draw time live exactly as
// long as the commands that reference them, so both pools reset together
// once the submission that used them has completed.
type VulkanCommandAllocator struct {
	device         *VulkanDevice
	CommandPool    vk.CommandPool
	DescriptorPool vk.DescriptorPool
}

var _ gpu.CommandAllocator = (*VulkanCommandAllocator)(nil)

func NewVulkanCommandAllocator(device *VulkanDevice) (*VulkanCommandAllocator, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.context.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var commandPool vk.CommandPool
	if res := vk.CreateCommandPool(
		device.context.LogicalDevice,
		&poolCreateInfo,
		device.context.Allocator,
		&commandPool); res != vk.Success {
		err := fmt.Errorf("vkCreateCommandPool failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	descriptorPoolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:   vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets: allocatorMaxDescriptorSets,
		PoolSizes: []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: allocatorUniformDescriptors},
			{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: allocatorStorageDescriptors},
			{Type: vk.DescriptorTypeSampledImage, DescriptorCount: allocatorImageDescriptors},
			{Type: vk.DescriptorTypeSampler, DescriptorCount: allocatorSamplerDescriptors},
		},
		PoolSizeCount: 4,
	}
	var descriptorPool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(
		device.context.LogicalDevice,
		&descriptorPoolCreateInfo,
		device.context.Allocator,
		&descriptorPool); res != vk.Success {
		vk.DestroyCommandPool(device.context.LogicalDevice, commandPool, device.context.Allocator)
		err := fmt.Errorf("vkCreateDescriptorPool failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	return &VulkanCommandAllocator{
		device:         device,
		CommandPool:    commandPool,
		DescriptorPool: descriptorPool,
	}, nil
}

func (a *VulkanCommandAllocator) Reset() error {
	if res := vk.ResetCommandPool(a.device.context.LogicalDevice, a.CommandPool, 0); res != vk.Success {
		err := fmt.Errorf("vkResetCommandPool failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if res := vk.ResetDescriptorPool(a.device.context.LogicalDevice, a.DescriptorPool, 0); res != vk.Success {
		err := fmt.Errorf("vkResetDescriptorPool failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (a *VulkanCommandAllocator) Destroy() {
	if a.DescriptorPool != nil {
		vk.DestroyDescriptorPool(a.device.context.LogicalDevice, a.DescriptorPool, a.device.context.Allocator)
		a.DescriptorPool = nil
	}
	if a.CommandPool != nil {
		vk.DestroyCommandPool(a.device.context.LogicalDevice, a.CommandPool, a.device.context.Allocator)
		a.CommandPool = nil
	}
}
