package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

type VulkanCommandRecorderState int

const (
	RECORDER_STATE_INITIAL VulkanCommandRecorderState = iota
	RECORDER_STATE_RECORDING
	RECORDER_STATE_ENDED
)

// VulkanCommandRecorder translates the submission core's command stream into
// a Vulkan command buffer. Root bindings are latched and materialized into
// transient descriptor sets right before each draw, allocated from the
// active allocator so their lifetime tracks the submission's.
type VulkanCommandRecorder struct {
	device    *VulkanDevice
	allocator *VulkanCommandAllocator
	handle    vk.CommandBuffer
	state     VulkanCommandRecorderState

	rootSignature *VulkanRootSignature
	viewHeap      *VulkanDescriptorHeap
	samplerHeap   *VulkanDescriptorHeap
	pipeline      *VulkanPipeline

	constantAddresses [uint32(gpu.ROOT_PARAMETER_SHARED_MEMORY)]uint64
	constantsDirty    bool
	tableHandles      map[uint32]gpu.GPUDescriptorHandle
	tablesDirty       map[uint32]bool

	topology        gpu.PrimitiveTopology
	samplePositions gpu.MsaaSamples
}

var _ gpu.CommandRecorder = (*VulkanCommandRecorder)(nil)

func NewVulkanCommandRecorder(device *VulkanDevice) *VulkanCommandRecorder {
	return &VulkanCommandRecorder{
		device:       device,
		state:        RECORDER_STATE_INITIAL,
		tableHandles: make(map[uint32]gpu.GPUDescriptorHandle),
		tablesDirty:  make(map[uint32]bool),
	}
}

func (r *VulkanCommandRecorder) Begin(allocator gpu.CommandAllocator) error {
	vAllocator, ok := allocator.(*VulkanCommandAllocator)
	if !ok {
		err := fmt.Errorf("allocator was not created by this device")
		core.LogError(err.Error())
		return err
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        vAllocator.CommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(r.device.context.LogicalDevice, &allocateInfo, commandBuffers); res != vk.Success {
		err := fmt.Errorf("vkAllocateCommandBuffers failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(commandBuffers[0], &beginInfo); res != vk.Success {
		err := fmt.Errorf("vkBeginCommandBuffer failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	r.allocator = vAllocator
	r.handle = commandBuffers[0]
	r.state = RECORDER_STATE_RECORDING
	r.resetLatchedState()
	return nil
}

func (r *VulkanCommandRecorder) resetLatchedState() {
	r.rootSignature = nil
	r.viewHeap = nil
	r.samplerHeap = nil
	r.pipeline = nil
	for i := range r.constantAddresses {
		r.constantAddresses[i] = 0
	}
	r.constantsDirty = false
	for parameter := range r.tableHandles {
		delete(r.tableHandles, parameter)
	}
	for parameter := range r.tablesDirty {
		delete(r.tablesDirty, parameter)
	}
}

func (r *VulkanCommandRecorder) End() error {
	if r.state != RECORDER_STATE_RECORDING {
		err := fmt.Errorf("recorder is not recording")
		core.LogError(err.Error())
		return err
	}
	if res := vk.EndCommandBuffer(r.handle); res != vk.Success {
		err := fmt.Errorf("vkEndCommandBuffer failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	r.state = RECORDER_STATE_ENDED
	return nil
}

func stateToAccess(state gpu.ResourceState) vk.AccessFlags {
	if state == gpu.RESOURCE_STATE_COMMON {
		return vk.AccessFlags(0)
	}
	var access vk.AccessFlags
	if state&gpu.RESOURCE_STATE_CONSTANT_BUFFER != 0 {
		access |= vk.AccessFlags(vk.AccessUniformReadBit)
	}
	if state&gpu.RESOURCE_STATE_INDEX_BUFFER != 0 {
		access |= vk.AccessFlags(vk.AccessIndexReadBit)
	}
	if state&gpu.RESOURCE_STATE_RENDER_TARGET != 0 {
		access |= vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	}
	if state&gpu.RESOURCE_STATE_UNORDERED_ACCESS != 0 {
		access |= vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)
	}
	if state&gpu.RESOURCE_STATE_DEPTH_WRITE != 0 {
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	}
	if state&gpu.RESOURCE_STATE_SHADER_RESOURCE != 0 {
		access |= vk.AccessFlags(vk.AccessShaderReadBit)
	}
	if state&gpu.RESOURCE_STATE_COPY_DEST != 0 {
		access |= vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	if state&gpu.RESOURCE_STATE_COPY_SOURCE != 0 {
		access |= vk.AccessFlags(vk.AccessTransferReadBit)
	}
	if state&gpu.RESOURCE_STATE_INDIRECT_ARGUMENT != 0 {
		access |= vk.AccessFlags(vk.AccessIndirectCommandReadBit)
	}
	return access
}

func stateToStages(state gpu.ResourceState) vk.PipelineStageFlags {
	if state == gpu.RESOURCE_STATE_COMMON {
		return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	var stages vk.PipelineStageFlags
	if state&(gpu.RESOURCE_STATE_CONSTANT_BUFFER|gpu.RESOURCE_STATE_SHADER_RESOURCE|gpu.RESOURCE_STATE_UNORDERED_ACCESS) != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit)
	}
	if state&gpu.RESOURCE_STATE_INDEX_BUFFER != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageVertexInputBit)
	}
	if state&gpu.RESOURCE_STATE_RENDER_TARGET != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	if state&gpu.RESOURCE_STATE_DEPTH_WRITE != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	}
	if state&(gpu.RESOURCE_STATE_COPY_DEST|gpu.RESOURCE_STATE_COPY_SOURCE) != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if state&gpu.RESOURCE_STATE_INDIRECT_ARGUMENT != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit)
	}
	return stages
}

func (r *VulkanCommandRecorder) ResourceBarriers(barriers []gpu.Barrier) {
	if len(barriers) == 0 {
		return
	}

	var srcStages, dstStages vk.PipelineStageFlags
	var bufferBarriers []vk.BufferMemoryBarrier
	var memoryBarriers []vk.MemoryBarrier

	for i := range barriers {
		barrier := &barriers[i]
		switch barrier.Type {
		case gpu.BARRIER_TYPE_TRANSITION:
			srcStages |= stateToStages(barrier.OldState)
			dstStages |= stateToStages(barrier.NewState)
			buffer, ok := barrier.Resource.(*VulkanBuffer)
			if !ok {
				// Non-buffer resources degrade to a global memory barrier.
				memoryBarriers = append(memoryBarriers, vk.MemoryBarrier{
					SType:         vk.StructureTypeMemoryBarrier,
					SrcAccessMask: stateToAccess(barrier.OldState),
					DstAccessMask: stateToAccess(barrier.NewState),
				})
				continue
			}
			bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       stateToAccess(barrier.OldState),
				DstAccessMask:       stateToAccess(barrier.NewState),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              buffer.Handle,
				Offset:              0,
				Size:                vk.DeviceSize(vk.WholeSize),
			})
		case gpu.BARRIER_TYPE_UAV:
			srcStages |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
			dstStages |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
			memoryBarriers = append(memoryBarriers, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			})
		case gpu.BARRIER_TYPE_ALIASING:
			srcStages |= vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
			dstStages |= vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
			memoryBarriers = append(memoryBarriers, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
			})
		}
	}

	if srcStages == 0 {
		srcStages = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if dstStages == 0 {
		dstStages = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}

	vk.CmdPipelineBarrier(r.handle, srcStages, dstStages, vk.DependencyFlags(0),
		uint32(len(memoryBarriers)), memoryBarriers,
		uint32(len(bufferBarriers)), bufferBarriers,
		0, nil)
}

func (r *VulkanCommandRecorder) SetDescriptorHeaps(view, sampler gpu.DescriptorHeap) {
	if view != nil {
		r.viewHeap, _ = view.(*VulkanDescriptorHeap)
	} else {
		r.viewHeap = nil
	}
	if sampler != nil {
		r.samplerHeap, _ = sampler.(*VulkanDescriptorHeap)
	} else {
		r.samplerHeap = nil
	}
}

func (r *VulkanCommandRecorder) SetGraphicsRootSignature(rs gpu.RootSignature) {
	signature, ok := rs.(*VulkanRootSignature)
	if !ok {
		core.LogError("root signature was not created by this device")
		return
	}
	r.rootSignature = signature
	r.constantsDirty = true
	for parameter := range r.tableHandles {
		r.tablesDirty[parameter] = true
	}
}

func (r *VulkanCommandRecorder) SetGraphicsRootConstantBuffer(parameter uint32, gpuAddress uint64) {
	if parameter >= uint32(len(r.constantAddresses)) {
		core.LogError("root parameter %d is not a constant buffer", parameter)
		return
	}
	if r.constantAddresses[parameter] == gpuAddress {
		return
	}
	r.constantAddresses[parameter] = gpuAddress
	r.constantsDirty = true
}

func (r *VulkanCommandRecorder) SetGraphicsRootDescriptorTable(parameter uint32, handle gpu.GPUDescriptorHandle) {
	r.tableHandles[parameter] = handle
	r.tablesDirty[parameter] = true
}

func (r *VulkanCommandRecorder) SetPipeline(p gpu.Pipeline) {
	pipeline, ok := p.(*VulkanPipeline)
	if !ok {
		core.LogError("pipeline %s was not created by this device", p.Name())
		return
	}
	r.pipeline = pipeline
	vk.CmdBindPipeline(r.handle, pipeline.BindPoint, pipeline.Handle)
}

func (r *VulkanCommandRecorder) SetViewport(v gpu.Viewport) {
	vk.CmdSetViewport(r.handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (r *VulkanCommandRecorder) SetScissor(rect gpu.Rect) {
	vk.CmdSetScissor(r.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: rect.Left, Y: rect.Top},
		Extent: vk.Extent2D{
			Width:  uint32(rect.Right - rect.Left),
			Height: uint32(rect.Bottom - rect.Top),
		},
	}})
}

func (r *VulkanCommandRecorder) SetBlendFactor(factor [4]float32) {
	vk.CmdSetBlendConstants(r.handle, factor)
}

func (r *VulkanCommandRecorder) SetStencilRef(ref uint32) {
	vk.CmdSetStencilReference(r.handle, vk.StencilFaceFlags(vk.StencilFrontAndBack), ref)
}

// SetPrimitiveTopology latches the topology. It is baked into the pipeline
// state object, so there is nothing to record; the value is kept for
// validation against the bound pipeline.
func (r *VulkanCommandRecorder) SetPrimitiveTopology(t gpu.PrimitiveTopology) {
	r.topology = t
}

// SetSamplePositions latches the programmable sample position mode. Plain
// Vulkan has no equivalent of it, so resolve-time shaders consume the value
// instead; it never reaches the command buffer.
func (r *VulkanCommandRecorder) SetSamplePositions(samples gpu.MsaaSamples) {
	r.samplePositions = samples
}

func (r *VulkanCommandRecorder) SetIndexBuffer(info gpu.IndexBufferInfo) {
	buffer, ok := info.Buffer.(*VulkanBuffer)
	if !ok {
		core.LogError("index buffer %s was not created by this device", info.Buffer.Name())
		return
	}
	indexType := vk.IndexTypeUint16
	if info.Format == gpu.INDEX_FORMAT_32 {
		indexType = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(r.handle, buffer.Handle, vk.DeviceSize(info.Offset), indexType)
}

func (r *VulkanCommandRecorder) Draw(vertexCount, startVertex uint32) {
	if err := r.flushBindings(); err != nil {
		core.LogError("draw dropped: %s", err.Error())
		return
	}
	vk.CmdDraw(r.handle, vertexCount, 1, startVertex, 0)
}

func (r *VulkanCommandRecorder) DrawIndexed(indexCount, startIndex uint32, baseVertex int32) {
	if err := r.flushBindings(); err != nil {
		core.LogError("indexed draw dropped: %s", err.Error())
		return
	}
	vk.CmdDrawIndexed(r.handle, indexCount, 1, startIndex, baseVertex, 0)
}

func (r *VulkanCommandRecorder) CopyBuffer(dst gpu.Buffer, dstOffset uint64, src gpu.Buffer, srcOffset, size uint64) {
	dstBuffer, dstOk := dst.(*VulkanBuffer)
	srcBuffer, srcOk := src.(*VulkanBuffer)
	if !dstOk || !srcOk {
		core.LogError("copy between foreign buffers %s -> %s", src.Name(), dst.Name())
		return
	}
	vk.CmdCopyBuffer(r.handle, srcBuffer.Handle, dstBuffer.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// flushBindings turns the latched root bindings into descriptor sets and
// binds whatever changed since the last draw.
func (r *VulkanCommandRecorder) flushBindings() error {
	if r.rootSignature == nil {
		return fmt.Errorf("no root signature bound")
	}

	if r.constantsDirty {
		if err := r.flushConstantBuffers(); err != nil {
			return err
		}
		r.constantsDirty = false
	}

	for parameter, dirty := range r.tablesDirty {
		if !dirty {
			continue
		}
		if err := r.flushDescriptorTable(parameter, r.tableHandles[parameter]); err != nil {
			return err
		}
		r.tablesDirty[parameter] = false
	}
	return nil
}

func (r *VulkanCommandRecorder) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     r.allocator.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(r.device.context.LogicalDevice, &allocInfo, &sets[0]); res != vk.Success {
		return nil, fmt.Errorf("vkAllocateDescriptorSets failed with %s", VulkanResultString(res))
	}
	return sets[0], nil
}

func (r *VulkanCommandRecorder) flushConstantBuffers() error {
	set, err := r.allocateSet(r.rootSignature.ConstantsLayout)
	if err != nil {
		return err
	}

	writes := make([]vk.WriteDescriptorSet, 0, len(r.constantAddresses))
	for binding, address := range r.constantAddresses {
		if address == 0 {
			return fmt.Errorf("constant buffer root parameter %d has no address bound", binding)
		}
		buffer, offset, err := r.device.resolveAddress(address)
		if err != nil {
			return err
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(binding),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: buffer.Handle,
				Offset: vk.DeviceSize(offset),
				Range:  vk.DeviceSize(buffer.Size() - offset),
			}},
		})
	}
	vk.UpdateDescriptorSets(r.device.context.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	vk.CmdBindDescriptorSets(r.handle, vk.PipelineBindPointGraphics, r.rootSignature.Layout,
		0, 1, []vk.DescriptorSet{set}, 0, nil)
	return nil
}

func (r *VulkanCommandRecorder) flushDescriptorTable(parameter uint32, handle gpu.GPUDescriptorHandle) error {
	table, layout, err := r.rootSignature.tableForParameter(parameter)
	if err != nil {
		return err
	}

	heap := r.viewHeap
	if table.class == ROOT_TABLE_SAMPLERS {
		heap = r.samplerHeap
	}
	if heap == nil {
		return fmt.Errorf("no descriptor heap bound for root parameter %d", parameter)
	}
	if uint64(handle) < heap.base {
		return fmt.Errorf("descriptor handle %#x is below the bound heap", uint64(handle))
	}
	records, err := heap.recordsAt(uint32(uint64(handle)-heap.base), table.count)
	if err != nil {
		return err
	}

	set, err := r.allocateSet(layout)
	if err != nil {
		return err
	}

	var write vk.WriteDescriptorSet
	switch table.class {
	case ROOT_TABLE_SHARED_MEMORY:
		record := &records[0]
		if record.kind != DESCRIPTOR_RECORD_BUFFER {
			return fmt.Errorf("shared memory slot holds no buffer descriptor")
		}
		write = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: record.buffer,
				Offset: record.offset,
				Range:  record.size,
			}},
		}
	case ROOT_TABLE_TEXTURES:
		imageInfos := make([]vk.DescriptorImageInfo, table.count)
		for i := range records {
			if records[i].kind != DESCRIPTOR_RECORD_IMAGE {
				return fmt.Errorf("texture table slot %d holds no image descriptor", i)
			}
			imageInfos[i] = vk.DescriptorImageInfo{
				ImageView:   records[i].imageView,
				ImageLayout: records[i].imageLayout,
			}
		}
		write = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DescriptorCount: table.count,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			PImageInfo:      imageInfos,
		}
	case ROOT_TABLE_SAMPLERS:
		imageInfos := make([]vk.DescriptorImageInfo, table.count)
		for i := range records {
			if records[i].kind != DESCRIPTOR_RECORD_SAMPLER {
				return fmt.Errorf("sampler table slot %d holds no sampler descriptor", i)
			}
			imageInfos[i] = vk.DescriptorImageInfo{
				Sampler: records[i].sampler,
			}
		}
		write = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DescriptorCount: table.count,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo:      imageInfos,
		}
	}

	vk.UpdateDescriptorSets(r.device.context.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	vk.CmdBindDescriptorSets(r.handle, vk.PipelineBindPointGraphics, r.rootSignature.Layout,
		table.set, 1, []vk.DescriptorSet{set}, 0, nil)
	return nil
}
