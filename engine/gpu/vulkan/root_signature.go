package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

type rootTableClass int

const (
	ROOT_TABLE_SHARED_MEMORY rootTableClass = iota
	ROOT_TABLE_TEXTURES
	ROOT_TABLE_SAMPLERS
)

// rootTable describes one descriptor-table root parameter: which set number
// it binds at, what it holds and how many slots it spans.
type rootTable struct {
	set   uint32
	class rootTableClass
	count uint32
	stage vk.ShaderStageFlags
}

// VulkanRootSignature maps the submission core's root-parameter model onto a
// pipeline layout. Set 0 holds the five constant buffers, set 1 the shared
// memory buffer and sets 2+ the optional texture/sampler tables in the fixed
// pixel-textures, pixel-samplers, vertex-textures, vertex-samplers order.
type VulkanRootSignature struct {
	device *VulkanDevice
	desc   gpu.RootSignatureDesc

	ConstantsLayout    vk.DescriptorSetLayout
	SharedMemoryLayout vk.DescriptorSetLayout
	tableLayouts       []vk.DescriptorSetLayout
	Layout             vk.PipelineLayout

	// tables is keyed by root parameter index.
	tables         map[uint32]rootTable
	parameterCount uint32
}

var _ gpu.RootSignature = (*VulkanRootSignature)(nil)

func NewVulkanRootSignature(device *VulkanDevice, desc gpu.RootSignatureDesc) (*VulkanRootSignature, error) {
	rs := &VulkanRootSignature{
		device: device,
		desc:   desc,
		tables: make(map[uint32]rootTable),
	}

	graphicsStages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)

	constantBindings := make([]vk.DescriptorSetLayoutBinding, 0, gpu.ROOT_PARAMETER_SHARED_MEMORY)
	for binding := uint32(0); binding < uint32(gpu.ROOT_PARAMETER_SHARED_MEMORY); binding++ {
		constantBindings = append(constantBindings, vk.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      graphicsStages,
		})
	}
	var err error
	rs.ConstantsLayout, err = rs.createSetLayout(constantBindings)
	if err != nil {
		return nil, err
	}

	rs.SharedMemoryLayout, err = rs.createSetLayout([]vk.DescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		DescriptorCount: 1,
		StageFlags:      graphicsStages,
	}})
	if err != nil {
		rs.Destroy()
		return nil, err
	}
	rs.tables[uint32(gpu.ROOT_PARAMETER_SHARED_MEMORY)] = rootTable{
		set:   1,
		class: ROOT_TABLE_SHARED_MEMORY,
		count: 1,
		stage: graphicsStages,
	}

	// The optional tables follow in the same order the submission core
	// assigns extra parameter indices, so parameter index and set number
	// line up deterministically for a given descriptor.
	type extraTable struct {
		class rootTableClass
		count uint32
		stage vk.ShaderStageFlags
	}
	extras := []extraTable{
		{ROOT_TABLE_TEXTURES, desc.TextureCountPixel, vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
		{ROOT_TABLE_SAMPLERS, desc.SamplerCountPixel, vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
		{ROOT_TABLE_TEXTURES, desc.TextureCountVertex, vk.ShaderStageFlags(vk.ShaderStageVertexBit)},
		{ROOT_TABLE_SAMPLERS, desc.SamplerCountVertex, vk.ShaderStageFlags(vk.ShaderStageVertexBit)},
	}
	parameter := uint32(gpu.ROOT_PARAMETER_COUNT_BASE)
	set := uint32(2)
	for _, extra := range extras {
		if extra.count == 0 {
			continue
		}
		descriptorType := vk.DescriptorTypeSampledImage
		if extra.class == ROOT_TABLE_SAMPLERS {
			descriptorType = vk.DescriptorTypeSampler
		}
		layout, err := rs.createSetLayout([]vk.DescriptorSetLayoutBinding{{
			Binding:         0,
			DescriptorType:  descriptorType,
			DescriptorCount: extra.count,
			StageFlags:      extra.stage,
		}})
		if err != nil {
			rs.Destroy()
			return nil, err
		}
		rs.tableLayouts = append(rs.tableLayouts, layout)
		rs.tables[parameter] = rootTable{
			set:   set,
			class: extra.class,
			count: extra.count,
			stage: extra.stage,
		}
		parameter++
		set++
	}
	rs.parameterCount = parameter

	setLayouts := append([]vk.DescriptorSetLayout{rs.ConstantsLayout, rs.SharedMemoryLayout}, rs.tableLayouts...)
	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if res := vk.CreatePipelineLayout(
		device.context.LogicalDevice,
		&layoutCreateInfo,
		device.context.Allocator,
		&rs.Layout); res != vk.Success {
		rs.Destroy()
		err := fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	return rs, nil
}

func (rs *VulkanRootSignature) createSetLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(
		rs.device.context.LogicalDevice,
		&createInfo,
		rs.device.context.Allocator,
		&layout); res != vk.Success {
		err := fmt.Errorf("vkCreateDescriptorSetLayout failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	return layout, nil
}

func (rs *VulkanRootSignature) ParameterCount() uint32 {
	return rs.parameterCount
}

// tableForParameter returns the layout and placement of a descriptor-table
// root parameter, or an error for constant-buffer parameters and parameters
// the layout does not have.
func (rs *VulkanRootSignature) tableForParameter(parameter uint32) (rootTable, vk.DescriptorSetLayout, error) {
	table, ok := rs.tables[parameter]
	if !ok {
		return rootTable{}, nil, fmt.Errorf("root parameter %d is not a descriptor table in this layout", parameter)
	}
	if table.set == 1 {
		return table, rs.SharedMemoryLayout, nil
	}
	return table, rs.tableLayouts[table.set-2], nil
}

func (rs *VulkanRootSignature) Destroy() {
	device := rs.device.context.LogicalDevice
	allocator := rs.device.context.Allocator
	if rs.Layout != nil {
		vk.DestroyPipelineLayout(device, rs.Layout, allocator)
		rs.Layout = nil
	}
	for _, layout := range rs.tableLayouts {
		vk.DestroyDescriptorSetLayout(device, layout, allocator)
	}
	rs.tableLayouts = nil
	if rs.SharedMemoryLayout != nil {
		vk.DestroyDescriptorSetLayout(device, rs.SharedMemoryLayout, allocator)
		rs.SharedMemoryLayout = nil
	}
	if rs.ConstantsLayout != nil {
		vk.DestroyDescriptorSetLayout(device, rs.ConstantsLayout, allocator)
		rs.ConstantsLayout = nil
	}
}
