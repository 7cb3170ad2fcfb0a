package gpu

import (
	"encoding/binary"
	"math"

	"github.com/relic-emu/relic/engine/core"
)

// RootParameter indexes the always-present binding-layout parameters,
// ordered roughly by change frequency.
type RootParameter uint32

const (
	// Very frequently changed, especially for UI draws and for models drawn
	// in multiple parts - vertex and texture fetch constants.
	ROOT_PARAMETER_FETCH_CONSTANTS RootParameter = iota
	// Quite frequently changed - for one object drawn multiple times, for
	// instance, this may hold projection matrices.
	ROOT_PARAMETER_FLOAT_CONSTANTS_VERTEX
	// Less frequently changed, per-material.
	ROOT_PARAMETER_FLOAT_CONSTANTS_PIXEL
	// Rarely changed - viewport, alpha testing.
	ROOT_PARAMETER_SYSTEM_CONSTANTS
	// Pretty rarely used and rarely changed - flow control constants.
	ROOT_PARAMETER_BOOL_LOOP_CONSTANTS
	// Never changed except when starting a new descriptor heap - the shared
	// memory byte address buffer.
	ROOT_PARAMETER_SHARED_MEMORY

	ROOT_PARAMETER_COUNT_BASE

	// Up to four extra parameters follow: pixel textures, pixel samplers,
	// vertex textures, vertex samplers.
	ROOT_PARAMETER_COUNT_MAX = ROOT_PARAMETER_COUNT_BASE + 4
)

// rootParamSet tracks which root parameters are up to date on the command
// stream. Cleared whenever a new root signature or descriptor heap is bound.
type rootParamSet uint32

func (s *rootParamSet) add(p uint32)     { *s |= 1 << p }
func (s *rootParamSet) remove(p uint32)  { *s &^= 1 << p }
func (s rootParamSet) has(p uint32) bool { return s&(1<<p) != 0 }
func (s *rootParamSet) clear()           { *s = 0 }

// RootParameterUnavailable marks an optional texture/sampler parameter that
// does not exist in the current layout.
const RootParameterUnavailable = ^uint32(0)

// RootExtraParameterIndices locates the optional texture/sampler parameters
// of the active layout.
type RootExtraParameterIndices struct {
	TexturesPixel  uint32
	SamplersPixel  uint32
	TexturesVertex uint32
	SamplersVertex uint32
}

// GetRootExtraParameterIndices computes which optional parameters exist for
// a shader pair and at what index. Returns the total parameter count. It is
// a deterministic function of the shaders' binding footprints.
func GetRootExtraParameterIndices(vertexShader, pixelShader *TranslatedShader) (RootExtraParameterIndices, uint32) {
	indices := RootExtraParameterIndices{
		TexturesPixel:  RootParameterUnavailable,
		SamplersPixel:  RootParameterUnavailable,
		TexturesVertex: RootParameterUnavailable,
		SamplersVertex: RootParameterUnavailable,
	}
	count := uint32(ROOT_PARAMETER_COUNT_BASE)
	if pixelShader != nil && pixelShader.TextureBindingCount > 0 {
		indices.TexturesPixel = count
		count++
	}
	if pixelShader != nil && pixelShader.SamplerBindingCount > 0 {
		indices.SamplersPixel = count
		count++
	}
	if vertexShader != nil && vertexShader.TextureBindingCount > 0 {
		indices.TexturesVertex = count
		count++
	}
	if vertexShader != nil && vertexShader.SamplerBindingCount > 0 {
		indices.SamplersVertex = count
		count++
	}
	return indices, count
}

// GetRootSignature finds or creates the root signature for a shader pair.
// Signatures are cached by the packed texture/sampler counts, so shader
// pairs with equivalent binding shapes share one signature object.
func (cp *CommandProcessor) GetRootSignature(vertexShader, pixelShader *TranslatedShader, tessellated bool) (RootSignature, error) {
	desc := RootSignatureDesc{Tessellated: tessellated}
	if vertexShader != nil {
		desc.TextureCountVertex = vertexShader.TextureBindingCount
		desc.SamplerCountVertex = vertexShader.SamplerBindingCount
	}
	if pixelShader != nil {
		desc.TextureCountPixel = pixelShader.TextureBindingCount
		desc.SamplerCountPixel = pixelShader.SamplerBindingCount
	}

	key := uint64(desc.TextureCountPixel&0xFF) |
		uint64(desc.SamplerCountPixel&0xFF)<<8 |
		uint64(desc.TextureCountVertex&0xFF)<<16 |
		uint64(desc.SamplerCountVertex&0xFF)<<24
	if tessellated {
		key |= 1 << 32
	}

	if rs, ok := cp.rootSignatures[key]; ok {
		return rs, nil
	}
	rs, err := cp.device.CreateRootSignature(desc)
	if err != nil {
		core.LogError("failed to create a root signature: %s", err)
		return nil, err
	}
	cp.rootSignatures[key] = rs
	return rs, nil
}

type constantBufferSlot int

const (
	constantBufferSystem constantBufferSlot = iota
	constantBufferFloatVertex
	constantBufferFloatPixel
	constantBufferBoolLoop
	constantBufferFetch
	constantBufferCount
)

// constantBufferBinding is one lazily-uploaded constant buffer slot: the GPU
// address of the last upload and whether it still matches the guest data.
type constantBufferBinding struct {
	address  uint64
	upToDate bool
}

func (s constantBufferSlot) rootParameter() uint32 {
	switch s {
	case constantBufferSystem:
		return uint32(ROOT_PARAMETER_SYSTEM_CONSTANTS)
	case constantBufferFloatVertex:
		return uint32(ROOT_PARAMETER_FLOAT_CONSTANTS_VERTEX)
	case constantBufferFloatPixel:
		return uint32(ROOT_PARAMETER_FLOAT_CONSTANTS_PIXEL)
	case constantBufferBoolLoop:
		return uint32(ROOT_PARAMETER_BOOL_LOOP_CONSTANTS)
	default:
		return uint32(ROOT_PARAMETER_FETCH_CONSTANTS)
	}
}

// SystemConstants are the shader-visible values derived from fixed-function
// guest state. Rebuilt before a draw whenever the relevant state changed;
// a rebuild producing different values marks the system slot stale.
type SystemConstants struct {
	Flags             uint32
	VertexIndexEndian uint32
	VertexBaseIndex   int32
	NDCScale          [3]float32
	NDCOffset         [3]float32
	PointSize         [2]float32
	AlphaTest         int32
	AlphaTestRange    [2]float32
	ColorExpBias      [4]float32
	ColorOutputMap    [4]uint32
}

const systemConstantsSize = 88

func (sc *SystemConstants) writeTo(b []byte) {
	_ = b[systemConstantsSize-1]
	binary.LittleEndian.PutUint32(b[0:], sc.Flags)
	binary.LittleEndian.PutUint32(b[4:], sc.VertexIndexEndian)
	binary.LittleEndian.PutUint32(b[8:], uint32(sc.VertexBaseIndex))
	off := 12
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(sc.NDCScale[i]))
		off += 4
	}
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(sc.NDCOffset[i]))
		off += 4
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(sc.PointSize[i]))
		off += 4
	}
	binary.LittleEndian.PutUint32(b[off:], uint32(sc.AlphaTest))
	off += 4
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(sc.AlphaTestRange[i]))
		off += 4
	}
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(sc.ColorExpBias[i]))
		off += 4
	}
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(b[off:], sc.ColorOutputMap[i])
		off += 4
	}
}

// SetFloatConstants replaces the float constant data of a stage and marks
// the corresponding slot stale.
func (cp *CommandProcessor) SetFloatConstants(stage ShaderStage, data []float32) {
	if stage == SHADER_STAGE_VERTEX {
		cp.floatConstantsVertex = data
		cp.cbufferBindings[constantBufferFloatVertex].upToDate = false
	} else {
		cp.floatConstantsPixel = data
		cp.cbufferBindings[constantBufferFloatPixel].upToDate = false
	}
}

// SetBoolLoopConstants replaces the flow-control constant data and marks the
// bool/loop slot stale.
func (cp *CommandProcessor) SetBoolLoopConstants(data []uint32) {
	cp.boolLoopConstants = data
	cp.cbufferBindings[constantBufferBoolLoop].upToDate = false
}

// SetFetchConstants replaces the vertex/texture fetch constant data and
// marks the fetch slot stale.
func (cp *CommandProcessor) SetFetchConstants(data []uint32) {
	cp.fetchConstants = data
	cp.cbufferBindings[constantBufferFetch].upToDate = false
}

// ConstantSlotUpToDate reports whether a logical constant slot would be
// re-uploaded by the next UpdateBindings.
func (cp *CommandProcessor) constantSlotUpToDate(slot constantBufferSlot) bool {
	return cp.cbufferBindings[slot].upToDate
}

// invalidateConstantBindings marks every constant slot stale. Binding state
// is meaningless across a change of layout shape.
func (cp *CommandProcessor) invalidateConstantBindings() {
	for i := range cp.cbufferBindings {
		cp.cbufferBindings[i].upToDate = false
	}
}

// updateSystemConstantValues rebuilds the system constants from the current
// fixed-function state. A change marks the system slot stale.
func (cp *CommandProcessor) updateSystemConstantValues(colorMask uint32) {
	sc := SystemConstants{
		VertexIndexEndian: cp.vertexIndexEndian,
		VertexBaseIndex:   cp.vertexBaseIndex,
		NDCScale: [3]float32{
			cp.ff.viewport.Width * 0.5, cp.ff.viewport.Height * -0.5,
			cp.ff.viewport.MaxDepth - cp.ff.viewport.MinDepth,
		},
		NDCOffset: [3]float32{
			cp.ff.viewport.X + cp.ff.viewport.Width*0.5,
			cp.ff.viewport.Y + cp.ff.viewport.Height*0.5,
			cp.ff.viewport.MinDepth,
		},
		PointSize:      cp.pointSize,
		AlphaTest:      cp.alphaTest,
		AlphaTestRange: cp.alphaTestRange,
	}
	for i := uint32(0); i < 4; i++ {
		sc.ColorOutputMap[i] = (colorMask >> (i * 4)) & 0xF
	}
	if sc != cp.systemConstants {
		cp.systemConstants = sc
		cp.cbufferBindings[constantBufferSystem].upToDate = false
	}
}

func floatConstantBytes(data []float32, registerCount uint32) []byte {
	n := int(registerCount) * 16
	if n < 16 {
		n = 16
	}
	b := make([]byte, n)
	for i, f := range data {
		if (i+1)*4 > n {
			break
		}
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func uint32ConstantBytes(data []uint32) []byte {
	n := len(data) * 4
	if n < 16 {
		n = 16
	}
	b := make([]byte, n)
	for i, v := range data {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// uploadConstantSlot writes data through the constant pool and records the
// new GPU address for the slot, forcing a root re-bind of its parameter.
func (cp *CommandProcessor) uploadConstantSlot(slot constantBufferSlot, data []byte) error {
	mapping, address, err := cp.co.ConstantPool.Request(cp.submissionCurrent, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(mapping, data)
	cp.cbufferBindings[slot].address = address
	cp.cbufferBindings[slot].upToDate = true
	cp.currentGraphicsRootUpToDate.remove(slot.rootParameter())
	return nil
}

// UpdateBindings brings the root bindings in line with the current guest
// state for a draw: binds the layout if it changed, re-uploads stale
// constant slots, and rewrites texture/sampler descriptors only when their
// content hash changed or a new descriptor page forced a full update.
// Returns ErrNotReady when a required resource is not yet available; the
// draw must be skipped, the frame continues.
func (cp *CommandProcessor) UpdateBindings(vertexShader, pixelShader *TranslatedShader, rootSignature RootSignature) error {
	if rootSignature != cp.currentGraphicsRootSignature {
		cp.currentGraphicsRootSignature = rootSignature
		cp.currentGraphicsRootExtras, _ = GetRootExtraParameterIndices(vertexShader, pixelShader)
		cp.recorder.SetGraphicsRootSignature(rootSignature)
		// The shape changed: every binding recorded so far is meaningless.
		cp.invalidateConstantBindings()
		cp.currentGraphicsRootUpToDate.clear()
		cp.textureBindingsWrittenVertex = false
		cp.textureBindingsWrittenPixel = false
		cp.samplersWrittenVertex = false
		cp.samplersWrittenPixel = false
	}

	if err := cp.uploadStaleConstants(vertexShader, pixelShader); err != nil {
		return err
	}
	if err := cp.updateViewDescriptors(vertexShader, pixelShader); err != nil {
		return err
	}
	if err := cp.updateSamplerDescriptors(vertexShader, pixelShader); err != nil {
		return err
	}
	cp.bindRootParameters()
	return nil
}

func (cp *CommandProcessor) uploadStaleConstants(vertexShader, pixelShader *TranslatedShader) error {
	if !cp.cbufferBindings[constantBufferSystem].upToDate {
		b := make([]byte, systemConstantsSize)
		cp.systemConstants.writeTo(b)
		if err := cp.uploadConstantSlot(constantBufferSystem, b); err != nil {
			return err
		}
	}
	if !cp.cbufferBindings[constantBufferFloatVertex].upToDate {
		var registers uint32
		if vertexShader != nil {
			registers = vertexShader.FloatConstantCount
		}
		if err := cp.uploadConstantSlot(constantBufferFloatVertex, floatConstantBytes(cp.floatConstantsVertex, registers)); err != nil {
			return err
		}
	}
	if !cp.cbufferBindings[constantBufferFloatPixel].upToDate {
		var registers uint32
		if pixelShader != nil {
			registers = pixelShader.FloatConstantCount
		}
		if err := cp.uploadConstantSlot(constantBufferFloatPixel, floatConstantBytes(cp.floatConstantsPixel, registers)); err != nil {
			return err
		}
	}
	if !cp.cbufferBindings[constantBufferBoolLoop].upToDate {
		if err := cp.uploadConstantSlot(constantBufferBoolLoop, uint32ConstantBytes(cp.boolLoopConstants)); err != nil {
			return err
		}
	}
	if !cp.cbufferBindings[constantBufferFetch].upToDate {
		if err := cp.uploadConstantSlot(constantBufferFetch, uint32ConstantBytes(cp.fetchConstants)); err != nil {
			return err
		}
	}
	return nil
}

func (cp *CommandProcessor) updateViewDescriptors(vertexShader, pixelShader *TranslatedShader) error {
	var texCountVertex, texCountPixel uint32
	if vertexShader != nil {
		texCountVertex = vertexShader.TextureBindingCount
	}
	if pixelShader != nil {
		texCountPixel = pixelShader.TextureBindingCount
	}

	var sharedMemoryCount uint32
	if cp.co.SharedMemory != nil {
		sharedMemoryCount = cp.co.SharedMemory.DescriptorCount()
	}

	// Fetch the current bindings and hashes first; residency failures must
	// surface before any descriptors are allocated.
	var bindingsVertex, bindingsPixel []TextureBinding
	var hashVertex, hashPixel uint64
	var err error
	if texCountVertex > 0 {
		if cp.co.Textures == nil {
			return ErrNotReady
		}
		if bindingsVertex, err = cp.co.Textures.TextureBindings(SHADER_STAGE_VERTEX, texCountVertex); err != nil {
			return err
		}
		hashVertex = hashTextureBindings(bindingsVertex)
	}
	if texCountPixel > 0 {
		if cp.co.Textures == nil {
			return ErrNotReady
		}
		if bindingsPixel, err = cp.co.Textures.TextureBindings(SHADER_STAGE_PIXEL, texCountPixel); err != nil {
			return err
		}
		hashPixel = hashTextureBindings(bindingsPixel)
	}

	writeVertex := texCountVertex > 0 &&
		(!cp.textureBindingsWrittenVertex || cp.textureBindingsHashVertex != hashVertex)
	writePixel := texCountPixel > 0 &&
		(!cp.textureBindingsWrittenPixel || cp.textureBindingsHashPixel != hashPixel)
	writeSharedMemory := sharedMemoryCount > 0 && !cp.sharedMemoryWritten

	countForPartial := uint32(0)
	if writeVertex {
		countForPartial += texCountVertex
	}
	if writePixel {
		countForPartial += texCountPixel
	}
	if writeSharedMemory {
		countForPartial += sharedMemoryCount
	}
	if countForPartial == 0 {
		// Everything in the current page is still valid.
		return nil
	}
	countForFull := sharedMemoryCount + texCountVertex + texCountPixel

	previousPage := cp.drawViewPage
	page, cpuHandle, gpuHandle, err := cp.RequestViewDescriptors(previousPage, countForPartial, countForFull)
	if err != nil {
		return err
	}
	cp.drawViewPage = page
	if page != previousPage {
		// Full update: everything must be rewritten into the new range.
		writeSharedMemory = sharedMemoryCount > 0
		writeVertex = texCountVertex > 0
		writePixel = texCountPixel > 0
	}

	if writeSharedMemory {
		cp.co.SharedMemory.WriteDescriptors(cpuHandle)
		cp.gpuHandleSharedMemory = gpuHandle
		cp.sharedMemoryWritten = true
		cp.currentGraphicsRootUpToDate.remove(uint32(ROOT_PARAMETER_SHARED_MEMORY))
		cpuHandle += CPUDescriptorHandle(sharedMemoryCount)
		gpuHandle += GPUDescriptorHandle(sharedMemoryCount)
	}
	if writeVertex {
		if err := cp.co.Textures.WriteTextureDescriptors(SHADER_STAGE_VERTEX, bindingsVertex, cpuHandle); err != nil {
			return err
		}
		cp.gpuHandleTexturesVertex = gpuHandle
		cp.textureBindingsWrittenVertex = true
		cp.textureBindingsHashVertex = hashVertex
		if cp.currentGraphicsRootExtras.TexturesVertex != RootParameterUnavailable {
			cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.TexturesVertex)
		}
		cpuHandle += CPUDescriptorHandle(texCountVertex)
		gpuHandle += GPUDescriptorHandle(texCountVertex)
	}
	if writePixel {
		if err := cp.co.Textures.WriteTextureDescriptors(SHADER_STAGE_PIXEL, bindingsPixel, cpuHandle); err != nil {
			return err
		}
		cp.gpuHandleTexturesPixel = gpuHandle
		cp.textureBindingsWrittenPixel = true
		cp.textureBindingsHashPixel = hashPixel
		if cp.currentGraphicsRootExtras.TexturesPixel != RootParameterUnavailable {
			cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.TexturesPixel)
		}
	}
	return nil
}

func (cp *CommandProcessor) updateSamplerDescriptors(vertexShader, pixelShader *TranslatedShader) error {
	var countVertex, countPixel uint32
	if vertexShader != nil {
		countVertex = vertexShader.SamplerBindingCount
	}
	if pixelShader != nil {
		countPixel = pixelShader.SamplerBindingCount
	}
	if countVertex == 0 && countPixel == 0 {
		return nil
	}
	if cp.co.Samplers == nil {
		return ErrNotReady
	}

	var bindingsVertex, bindingsPixel []SamplerBinding
	var hashVertex, hashPixel uint64
	var err error
	if countVertex > 0 {
		if bindingsVertex, err = cp.co.Samplers.SamplerBindings(SHADER_STAGE_VERTEX, countVertex); err != nil {
			return err
		}
		hashVertex = hashSamplerBindings(bindingsVertex)
	}
	if countPixel > 0 {
		if bindingsPixel, err = cp.co.Samplers.SamplerBindings(SHADER_STAGE_PIXEL, countPixel); err != nil {
			return err
		}
		hashPixel = hashSamplerBindings(bindingsPixel)
	}

	writeVertex := countVertex > 0 &&
		(!cp.samplersWrittenVertex || cp.samplersHashVertex != hashVertex)
	writePixel := countPixel > 0 &&
		(!cp.samplersWrittenPixel || cp.samplersHashPixel != hashPixel)

	countForPartial := uint32(0)
	if writeVertex {
		countForPartial += countVertex
	}
	if writePixel {
		countForPartial += countPixel
	}
	if countForPartial == 0 {
		return nil
	}
	countForFull := countVertex + countPixel

	previousPage := cp.drawSamplerPage
	page, cpuHandle, gpuHandle, err := cp.RequestSamplerDescriptors(previousPage, countForPartial, countForFull)
	if err != nil {
		return err
	}
	cp.drawSamplerPage = page
	if page != previousPage {
		writeVertex = countVertex > 0
		writePixel = countPixel > 0
	}

	if writeVertex {
		if err := cp.co.Samplers.WriteSamplerDescriptors(SHADER_STAGE_VERTEX, bindingsVertex, cpuHandle); err != nil {
			return err
		}
		cp.gpuHandleSamplersVertex = gpuHandle
		cp.samplersWrittenVertex = true
		cp.samplersHashVertex = hashVertex
		if cp.currentGraphicsRootExtras.SamplersVertex != RootParameterUnavailable {
			cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.SamplersVertex)
		}
		cpuHandle += CPUDescriptorHandle(countVertex)
		gpuHandle += GPUDescriptorHandle(countVertex)
	}
	if writePixel {
		if err := cp.co.Samplers.WriteSamplerDescriptors(SHADER_STAGE_PIXEL, bindingsPixel, cpuHandle); err != nil {
			return err
		}
		cp.gpuHandleSamplersPixel = gpuHandle
		cp.samplersWrittenPixel = true
		cp.samplersHashPixel = hashPixel
		if cp.currentGraphicsRootExtras.SamplersPixel != RootParameterUnavailable {
			cp.currentGraphicsRootUpToDate.remove(cp.currentGraphicsRootExtras.SamplersPixel)
		}
	}
	return nil
}

// bindRootParameters emits the root bindings that are not up to date on the
// command stream.
func (cp *CommandProcessor) bindRootParameters() {
	for slot := constantBufferSlot(0); slot < constantBufferCount; slot++ {
		param := slot.rootParameter()
		if cp.currentGraphicsRootUpToDate.has(param) {
			continue
		}
		cp.recorder.SetGraphicsRootConstantBuffer(param, cp.cbufferBindings[slot].address)
		cp.currentGraphicsRootUpToDate.add(param)
	}

	if cp.sharedMemoryWritten && !cp.currentGraphicsRootUpToDate.has(uint32(ROOT_PARAMETER_SHARED_MEMORY)) {
		cp.recorder.SetGraphicsRootDescriptorTable(uint32(ROOT_PARAMETER_SHARED_MEMORY), cp.gpuHandleSharedMemory)
		cp.currentGraphicsRootUpToDate.add(uint32(ROOT_PARAMETER_SHARED_MEMORY))
	}

	extras := cp.currentGraphicsRootExtras
	if extras.TexturesVertex != RootParameterUnavailable && cp.textureBindingsWrittenVertex &&
		!cp.currentGraphicsRootUpToDate.has(extras.TexturesVertex) {
		cp.recorder.SetGraphicsRootDescriptorTable(extras.TexturesVertex, cp.gpuHandleTexturesVertex)
		cp.currentGraphicsRootUpToDate.add(extras.TexturesVertex)
	}
	if extras.TexturesPixel != RootParameterUnavailable && cp.textureBindingsWrittenPixel &&
		!cp.currentGraphicsRootUpToDate.has(extras.TexturesPixel) {
		cp.recorder.SetGraphicsRootDescriptorTable(extras.TexturesPixel, cp.gpuHandleTexturesPixel)
		cp.currentGraphicsRootUpToDate.add(extras.TexturesPixel)
	}
	if extras.SamplersVertex != RootParameterUnavailable && cp.samplersWrittenVertex &&
		!cp.currentGraphicsRootUpToDate.has(extras.SamplersVertex) {
		cp.recorder.SetGraphicsRootDescriptorTable(extras.SamplersVertex, cp.gpuHandleSamplersVertex)
		cp.currentGraphicsRootUpToDate.add(extras.SamplersVertex)
	}
	if extras.SamplersPixel != RootParameterUnavailable && cp.samplersWrittenPixel &&
		!cp.currentGraphicsRootUpToDate.has(extras.SamplersPixel) {
		cp.recorder.SetGraphicsRootDescriptorTable(extras.SamplersPixel, cp.gpuHandleSamplersPixel)
		cp.currentGraphicsRootUpToDate.add(extras.SamplersPixel)
	}
}
