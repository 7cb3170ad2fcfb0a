package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

// VulkanPipeline wraps a compiled pipeline state object.
type VulkanPipeline struct {
	device    *VulkanDevice
	name      string
	Handle    vk.Pipeline
	BindPoint vk.PipelineBindPoint
}

var _ gpu.Pipeline = (*VulkanPipeline)(nil)

type VulkanPipelineConfig struct {
	Name          string
	RootSignature *VulkanRootSignature
	RenderPass    vk.RenderPass
	Stages        []vk.PipelineShaderStageCreateInfo
	Topology      gpu.PrimitiveTopology
	Samples       gpu.MsaaSamples
	// ColorWriteMask carries one write-mask nibble per color target.
	ColorWriteMask uint32
	DepthTest      bool
	DepthWrite     bool
	StencilTest    bool
	Stride         uint32
	Attributes     []vk.VertexInputAttributeDescription
}

func primitiveTopologyToVulkan(t gpu.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case gpu.PRIMITIVE_TOPOLOGY_POINT_LIST:
		return vk.PrimitiveTopologyPointList
	case gpu.PRIMITIVE_TOPOLOGY_LINE_LIST:
		return vk.PrimitiveTopologyLineList
	case gpu.PRIMITIVE_TOPOLOGY_LINE_STRIP:
		return vk.PrimitiveTopologyLineStrip
	case gpu.PRIMITIVE_TOPOLOGY_TRIANGLE_STRIP:
		return vk.PrimitiveTopologyTriangleStrip
	case gpu.PRIMITIVE_TOPOLOGY_TRIANGLE_FAN:
		return vk.PrimitiveTopologyTriangleFan
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func msaaSamplesToVulkan(samples gpu.MsaaSamples) vk.SampleCountFlagBits {
	switch samples {
	case gpu.MSAA_SAMPLES_2X:
		return vk.SampleCount2Bit
	case gpu.MSAA_SAMPLES_4X:
		return vk.SampleCount4Bit
	default:
		return vk.SampleCount1Bit
	}
}

func colorWriteMaskToVulkan(nibble uint32) vk.ColorComponentFlags {
	var flags vk.ColorComponentFlags
	if nibble&0b0001 != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentRBit)
	}
	if nibble&0b0010 != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentGBit)
	}
	if nibble&0b0100 != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentBBit)
	}
	if nibble&0b1000 != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentABit)
	}
	return flags
}

// NewGraphicsPipeline compiles a graphics pipeline against a binding layout.
// Viewport, scissor, blend constants and stencil reference are dynamic; the
// recorder re-emits them per draw, so they never force a recompile.
func NewGraphicsPipeline(device *VulkanDevice, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	if config.RootSignature == nil {
		err := fmt.Errorf("pipeline %s has no binding layout", config.Name)
		core.LogError(err.Error())
		return nil, err
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	viewportState.Deref()

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         vk.False,
	}
	rasterizerCreateInfo.Deref()

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: msaaSamplesToVulkan(config.Samples),
		MinSampleShading:     1.0,
	}
	multisamplingCreateInfo.Deref()

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if config.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpGreaterOrEqual
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}
	if config.StencilTest {
		depthStencil.StencilTestEnable = vk.True
	}
	depthStencil.Deref()

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:    vk.False,
		ColorWriteMask: colorWriteMaskToVulkan(config.ColorWriteMask & 0b1111),
	}
	colorBlendAttachmentState.Deref()

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}
	colorBlendStateCreateInfo.Deref()

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateBlendConstants,
		vk.DynamicStateStencilReference,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}
	dynamicStateCreateInfo.Deref()

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if config.Stride > 0 {
		bindingDescription := vk.VertexInputBindingDescription{
			Binding:   0,
			Stride:    config.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
		bindingDescription.Deref()
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{bindingDescription}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(config.Attributes))
		vertexInputInfo.PVertexAttributeDescriptions = config.Attributes
	}
	vertexInputInfo.Deref()

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               primitiveTopologyToVulkan(config.Topology),
		PrimitiveRestartEnable: vk.False,
	}
	inputAssembly.Deref()

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              config.RootSignature.Layout,
		RenderPass:          config.RenderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelineCreateInfo.Deref()

	pipelines := []vk.Pipeline{vk.NullPipeline}
	result := vk.CreateGraphicsPipelines(
		device.context.LogicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
		device.context.Allocator,
		pipelines)
	if !VulkanResultIsSuccess(result) {
		err := fmt.Errorf("vkCreateGraphicsPipelines failed with %s", VulkanResultString(result))
		core.LogError(err.Error())
		return nil, err
	}

	core.LogDebug("Graphics pipeline %s created", config.Name)
	return &VulkanPipeline{
		device:    device,
		name:      config.Name,
		Handle:    pipelines[0],
		BindPoint: vk.PipelineBindPointGraphics,
	}, nil
}

// WrapPipeline adopts an externally created pipeline so the recorder can
// bind it like any other.
func WrapPipeline(device *VulkanDevice, name string, handle vk.Pipeline, bindPoint vk.PipelineBindPoint) *VulkanPipeline {
	return &VulkanPipeline{
		device:    device,
		name:      name,
		Handle:    handle,
		BindPoint: bindPoint,
	}
}

func (p *VulkanPipeline) Name() string {
	return p.name
}

func (p *VulkanPipeline) Destroy() {
	if p.Handle != vk.NullPipeline {
		vk.DestroyPipeline(p.device.context.LogicalDevice, p.Handle, p.device.context.Allocator)
		p.Handle = vk.NullPipeline
	}
}
