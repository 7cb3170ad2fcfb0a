package gpu

type ShaderStage int

const (
	SHADER_STAGE_VERTEX ShaderStage = iota
	SHADER_STAGE_PIXEL
)

// TranslatedShader is the submission core's view of a guest shader after
// translation. The translator itself lives outside this package; the core
// only needs the binding footprint and the color write mask.
type TranslatedShader struct {
	Stage ShaderStage
	// Number of texture bindings the shader declares (t1+).
	TextureBindingCount uint32
	// Number of sampler bindings the shader declares (s0+).
	SamplerBindingCount uint32
	// Number of float4 constant registers the shader reads.
	FloatConstantCount uint32
	// Bit N set if the shader writes color target N. Pixel shaders only.
	ColorTargetsWritten uint32
}

// GetCurrentColorMask combines the register-configured color write mask with
// the pixel shader's own write mask. If a shader doesn't write to a render
// target, the target must not even be bound: some titles bind four targets
// with the same guest memory base while their shader writes only one, and
// binding the unwritten ones corrupts the stores of the written one. This is
// empirically-driven compatibility policy; do not extend it beyond write-mask
// gating.
func GetCurrentColorMask(pixelShader *TranslatedShader, configuredMask uint32) uint32 {
	if pixelShader == nil {
		return 0
	}
	mask := configuredMask & 0xFFFF
	for i := uint32(0); i < 4; i++ {
		if pixelShader.ColorTargetsWritten&(1<<i) == 0 {
			mask &^= 0xF << (i * 4)
		}
	}
	return mask
}
