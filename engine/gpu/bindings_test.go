package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShaderPair() (*TranslatedShader, *TranslatedShader) {
	vs := &TranslatedShader{
		Stage:               SHADER_STAGE_VERTEX,
		TextureBindingCount: 1,
		SamplerBindingCount: 1,
		FloatConstantCount:  8,
	}
	ps := &TranslatedShader{
		Stage:               SHADER_STAGE_PIXEL,
		TextureBindingCount: 2,
		SamplerBindingCount: 2,
		FloatConstantCount:  16,
		ColorTargetsWritten: 0x1,
	}
	return vs, ps
}

func issueTestDraw(t *testing.T, s *testSetup, vs, ps *TranslatedShader) {
	t.Helper()
	require.NoError(t, s.cp.IssueDraw(vs, ps, false, PRIMITIVE_TOPOLOGY_TRIANGLE_LIST, 3, nil))
}

func boundTableParameters(r *fakeRecorder) map[uint32]int {
	params := make(map[uint32]int)
	for _, table := range r.tables {
		params[table.parameter]++
	}
	return params
}

func TestGetRootSignatureCaching(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()

	first, err := s.cp.GetRootSignature(vs, ps, false)
	require.NoError(t, err)
	second, err := s.cp.GetRootSignature(vs, ps, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, s.device.rootSignatures, 1)

	// A different shader with the same binding footprint shares the
	// signature; a different footprint or tessellation does not.
	sameShape := &TranslatedShader{
		Stage:               SHADER_STAGE_PIXEL,
		TextureBindingCount: ps.TextureBindingCount,
		SamplerBindingCount: ps.SamplerBindingCount,
		FloatConstantCount:  4,
	}
	third, err := s.cp.GetRootSignature(vs, sameShape, false)
	require.NoError(t, err)
	assert.Same(t, first, third)

	_, err = s.cp.GetRootSignature(vs, ps, true)
	require.NoError(t, err)
	assert.Len(t, s.device.rootSignatures, 2)
	_, err = s.cp.GetRootSignature(vs, nil, false)
	require.NoError(t, err)
	assert.Len(t, s.device.rootSignatures, 3)
}

func TestIssueDrawBindsFullState(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()

	issueTestDraw(t, s, vs, ps)
	r := s.recorder()

	assert.Equal(t, 1, r.draws)
	assert.Len(t, r.pipelines, 1)
	assert.Len(t, r.rootSignatures, 1)

	// All five constant slots are uploaded and bound.
	require.Len(t, s.uploadPool.requests, 5)
	require.Len(t, r.constants, 5)
	seen := map[uint32]bool{}
	for _, c := range r.constants {
		seen[c.parameter] = true
		assert.NotZero(t, c.address)
	}
	for p := uint32(0); p < uint32(ROOT_PARAMETER_COUNT_BASE)-1; p++ {
		assert.True(t, seen[p], "constant parameter %d", p)
	}

	// Shared memory plus all four texture/sampler tables.
	params := boundTableParameters(r)
	for p := uint32(ROOT_PARAMETER_SHARED_MEMORY); p < uint32(ROOT_PARAMETER_COUNT_MAX); p++ {
		assert.Equal(t, 1, params[p], "table parameter %d", p)
	}
	assert.Len(t, s.shared.writes, 1)
	assert.Len(t, s.textures.writes, 2)
	assert.Len(t, s.samplers.writes, 2)

	// Both heaps were bound: once on the view page grant, once on the
	// sampler page grant.
	assert.Len(t, r.viewHeaps, 2)

	// Dynamic state is emitted exactly once.
	assert.Len(t, r.viewports, 1)
	assert.Len(t, r.scissors, 1)
	assert.Len(t, r.blendFactors, 1)
	assert.Len(t, r.stencilRefs, 1)
	assert.Equal(t, []PrimitiveTopology{PRIMITIVE_TOPOLOGY_TRIANGLE_LIST}, r.topologies)
	assert.Len(t, r.samplePositions, 1)
}

func TestRepeatDrawSkipsRedundantWork(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()

	issueTestDraw(t, s, vs, ps)
	issueTestDraw(t, s, vs, ps)
	r := s.recorder()

	assert.Equal(t, 2, r.draws)
	// Identical state: no re-upload, no descriptor rewrite, no re-bind.
	assert.Len(t, s.uploadPool.requests, 5)
	assert.Len(t, r.constants, 5)
	assert.Len(t, r.tables, 5)
	assert.Len(t, s.textures.writes, 2)
	assert.Len(t, s.samplers.writes, 2)
	assert.Len(t, s.shared.writes, 1)
	assert.Len(t, r.pipelines, 1)
	assert.Len(t, r.viewports, 1)
	assert.Equal(t, []PrimitiveTopology{PRIMITIVE_TOPOLOGY_TRIANGLE_LIST}, r.topologies)
}

func TestConstantChangeUploadsOnlyStaleSlot(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)

	s.cp.SetFloatConstants(SHADER_STAGE_VERTEX, []float32{1, 2, 3, 4})
	issueTestDraw(t, s, vs, ps)

	require.Len(t, s.uploadPool.requests, 6)
	// A vertex float buffer spans the shader's declared register count.
	assert.Equal(t, uint64(vs.FloatConstantCount)*16, s.uploadPool.requests[5].size)
	r := s.recorder()
	require.Len(t, r.constants, 6)
	assert.Equal(t, uint32(ROOT_PARAMETER_FLOAT_CONSTANTS_VERTEX), r.constants[5].parameter)

	s.cp.SetBoolLoopConstants([]uint32{1})
	s.cp.SetFetchConstants([]uint32{2, 3})
	issueTestDraw(t, s, vs, ps)
	assert.Len(t, s.uploadPool.requests, 8)
	assert.Len(t, r.constants, 8)
}

func TestViewportChangeRefreshesSystemConstants(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)

	s.cp.SetViewport(Viewport{Width: 1280, Height: 720, MaxDepth: 1})
	issueTestDraw(t, s, vs, ps)

	r := s.recorder()
	assert.Len(t, r.viewports, 2)
	// The NDC remap lives in the system constants, so the slot went stale.
	require.Len(t, s.uploadPool.requests, 6)
	assert.Equal(t, uint64(systemConstantsSize), s.uploadPool.requests[5].size)
	require.Len(t, r.constants, 6)
	assert.Equal(t, uint32(ROOT_PARAMETER_SYSTEM_CONSTANTS), r.constants[5].parameter)
}

func TestTextureChangeRewritesOnlyThatStage(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)

	s.textures.setBindings(SHADER_STAGE_PIXEL, []TextureBinding{
		{GuestBase: 0xA000, Format: 5, Dimension: 2},
		{GuestBase: 0xB000, Format: 5, Dimension: 2},
	})
	issueTestDraw(t, s, vs, ps)

	require.Len(t, s.textures.writes, 3)
	assert.Equal(t, SHADER_STAGE_PIXEL, s.textures.writes[2].stage)
	// Shared memory and the vertex stage kept their descriptors.
	assert.Len(t, s.shared.writes, 1)
	// Same page: a partial grant of just the rewritten range.
	assert.Equal(t, uint32(2), s.viewPool.requests[len(s.viewPool.requests)-1])
	// Only the pixel texture table was re-bound.
	r := s.recorder()
	require.Len(t, r.tables, 6)
	assert.Equal(t, uint32(ROOT_PARAMETER_COUNT_BASE), r.tables[5].parameter)
}

func TestSamplerChangeRewritesOnlyThatStage(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)

	s.samplers.setBindings(SHADER_STAGE_PIXEL, []SamplerBinding{
		{Filter: 3, AddressU: 1}, {Filter: 3, AddressV: 1},
	})
	issueTestDraw(t, s, vs, ps)

	require.Len(t, s.samplers.writes, 3)
	assert.Equal(t, SHADER_STAGE_PIXEL, s.samplers.writes[2].stage)
	r := s.recorder()
	require.Len(t, r.tables, 6)
	// Pixel samplers are the second extra parameter.
	assert.Equal(t, uint32(ROOT_PARAMETER_COUNT_BASE)+1, r.tables[5].parameter)
}

func TestDescriptorPageChangeForcesFullRewrite(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	// Squeeze the view page so the first draw fills it exactly.
	s.viewPool.capacity = 4
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)
	require.Equal(t, 1, s.viewPool.pages)

	s.textures.setBindings(SHADER_STAGE_PIXEL, []TextureBinding{
		{GuestBase: 0xA000}, {GuestBase: 0xB000},
	})
	issueTestDraw(t, s, vs, ps)

	// The partial update no longer fits: a new page is opened and every view
	// descriptor, shared memory included, is rewritten into it.
	assert.Equal(t, 2, s.viewPool.pages)
	assert.Len(t, s.shared.writes, 2)
	assert.Len(t, s.textures.writes, 4)
	// The new heap was bound and the view tables re-bound.
	r := s.recorder()
	assert.Len(t, r.viewHeaps, 3)
	params := boundTableParameters(r)
	assert.Equal(t, 2, params[uint32(ROOT_PARAMETER_SHARED_MEMORY)])
	assert.Equal(t, 2, params[uint32(ROOT_PARAMETER_COUNT_BASE)])   // pixel textures
	assert.Equal(t, 2, params[uint32(ROOT_PARAMETER_COUNT_BASE)+2]) // vertex textures
	// Samplers live in their own pool and were untouched.
	assert.Len(t, s.samplers.writes, 2)
}

func TestRootSignatureChangeInvalidatesEverything(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)
	before := len(s.uploadPool.requests)

	// A shader pair with a different binding footprint brings a different
	// layout; every constant slot is re-uploaded and re-bound.
	vs2 := &TranslatedShader{Stage: SHADER_STAGE_VERTEX, FloatConstantCount: 4}
	require.NoError(t, s.cp.IssueDraw(vs2, nil, false, PRIMITIVE_TOPOLOGY_TRIANGLE_LIST, 3, nil))

	r := s.recorder()
	assert.Len(t, r.rootSignatures, 2)
	assert.Equal(t, before+5, len(s.uploadPool.requests))
	assert.Len(t, r.constants, 10)
}

func TestDrawSkippedWhilePipelinePending(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, _ := testShaderPair()

	key := pipelineConfigKey{vertexShader: vs, topology: PRIMITIVE_TOPOLOGY_TRIANGLE_LIST}
	s.pipelines.handles[key] = 7
	s.pipelines.statuses[7] = PIPELINE_STATUS_PENDING

	err = s.cp.IssueDraw(vs, nil, false, PRIMITIVE_TOPOLOGY_TRIANGLE_LIST, 3, nil)
	require.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, s.recorder().draws)

	// Once compilation finishes the same draw goes through.
	s.pipelines.pipelines[7] = &fakePipeline{name: "guest_7"}
	s.pipelines.statuses[7] = PIPELINE_STATUS_READY
	require.NoError(t, s.cp.IssueDraw(vs, nil, false, PRIMITIVE_TOPOLOGY_TRIANGLE_LIST, 3, nil))
	assert.Equal(t, 1, s.recorder().draws)
}

func TestDrawSkippedWhileTextureNotResident(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()

	s.textures.fail = ErrNotReady
	err = s.cp.IssueDraw(vs, ps, false, PRIMITIVE_TOPOLOGY_TRIANGLE_LIST, 3, nil)
	require.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, s.recorder().draws)

	s.textures.fail = nil
	issueTestDraw(t, s, vs, ps)
	assert.Equal(t, 1, s.recorder().draws)
}

func TestIndexedDrawConvertsTopology(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	s.cp.SetVertexIndexParams(0, 5)

	buffer, err := s.device.CreateBuffer("indices", 4096, HEAP_KIND_DEFAULT, RESOURCE_STATE_INDEX_BUFFER)
	require.NoError(t, err)
	info := &IndexBufferInfo{Buffer: buffer, Format: INDEX_FORMAT_16, Count: 12}

	require.NoError(t, s.cp.IssueDraw(vs, ps, false, PRIMITIVE_TOPOLOGY_TRIANGLE_FAN, 0, info))

	r := s.recorder()
	assert.Equal(t, 1, s.primitives.calls)
	assert.Equal(t, []PrimitiveTopology{PRIMITIVE_TOPOLOGY_TRIANGLE_LIST}, r.topologies)
	require.Len(t, r.indexBuffers, 1)
	assert.Equal(t, uint32(12), r.indexBuffers[0].Count)
	assert.Equal(t, 1, r.drawsIndexed)
	assert.Zero(t, r.draws)
}

func TestSystemConstantsLayout(t *testing.T) {
	sc := SystemConstants{
		Flags:             0xDEAD,
		VertexIndexEndian: 2,
		VertexBaseIndex:   -3,
		NDCScale:          [3]float32{640, -360, 1},
		NDCOffset:         [3]float32{640, 360, 0},
		PointSize:         [2]float32{1, 1},
		AlphaTest:         -1,
		AlphaTestRange:    [2]float32{0.5, 1},
		ColorOutputMap:    [4]uint32{0xF, 0, 0xF, 0},
	}
	b := make([]byte, systemConstantsSize)
	sc.writeTo(b)

	assert.Equal(t, uint32(0xDEAD), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, int32(-3), int32(binary.LittleEndian.Uint32(b[8:])))
	assert.Equal(t, float32(640), math.Float32frombits(binary.LittleEndian.Uint32(b[12:])))
	assert.Equal(t, float32(-360), math.Float32frombits(binary.LittleEndian.Uint32(b[16:])))
	assert.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(b[44:])))
	assert.Equal(t, uint32(0xF), binary.LittleEndian.Uint32(b[72:]))
	assert.Equal(t, uint32(0xF), binary.LittleEndian.Uint32(b[80:]))
}

func TestConstantBytesSizing(t *testing.T) {
	// Float buffers span the declared register count, 16 bytes minimum.
	assert.Len(t, floatConstantBytes(nil, 0), 16)
	assert.Len(t, floatConstantBytes([]float32{1, 2}, 4), 64)
	b := floatConstantBytes([]float32{1}, 1)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(b[0:])))

	// Data beyond the declared registers is truncated, not written past the
	// buffer end.
	long := make([]float32, 16)
	for i := range long {
		long[i] = float32(i)
	}
	assert.Len(t, floatConstantBytes(long, 2), 32)

	assert.Len(t, uint32ConstantBytes(nil), 16)
	assert.Len(t, uint32ConstantBytes(make([]uint32, 8)), 32)
}
