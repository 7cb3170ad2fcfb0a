package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetExternalGraphicsPipeline(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)
	r := s.recorder()

	resolvePass := &fakePipeline{name: "resolve"}
	s.cp.SetExternalGraphicsPipeline(resolvePass, false, true, false, false)
	require.Len(t, r.pipelines, 2)
	assert.Same(t, Pipeline(resolvePass), r.pipelines[1])

	// Binding the same external pipeline again is a no-op.
	s.cp.SetExternalGraphicsPipeline(resolvePass, false, false, false, false)
	assert.Len(t, r.pipelines, 2)

	// The viewport and scissor were declared changing, so the next guest
	// draw re-emits them, re-binds the guest pipeline and re-binds all root
	// parameters.
	tablesBefore := len(r.tables)
	issueTestDraw(t, s, vs, ps)
	assert.Len(t, r.pipelines, 3)
	assert.Len(t, r.viewports, 2)
	assert.Len(t, r.scissors, 2)
	assert.Len(t, r.blendFactors, 1)
	assert.Len(t, r.stencilRefs, 1)
	assert.Len(t, r.constants, 10)
	assert.Len(t, r.tables, tablesBefore+5)
	// The constant data itself was still valid: no re-upload.
	assert.Len(t, s.uploadPool.requests, 5)
}

func TestSetExternalGraphicsPipelineRequiresOpenSubmission(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)

	s.cp.SetExternalGraphicsPipeline(&fakePipeline{name: "resolve"}, true, true, true, true)
	assert.Empty(t, s.recorder().pipelines)
}

func TestSetComputePipeline(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	require.NoError(t, s.cp.BeginSubmission(false))
	r := s.recorder()

	untile := &fakePipeline{name: "untile"}
	s.cp.SetComputePipeline(untile)
	s.cp.SetComputePipeline(untile)
	assert.Len(t, r.pipelines, 1)

	other := &fakePipeline{name: "other"}
	s.cp.SetComputePipeline(other)
	assert.Len(t, r.pipelines, 2)
}

func TestDynamicStateCachedAcrossDraws(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()

	s.cp.SetViewport(Viewport{Width: 1280, Height: 720, MaxDepth: 1})
	s.cp.SetScissor(Rect{Right: 1280, Bottom: 720})
	s.cp.SetBlendFactor([4]float32{1, 1, 1, 1})
	s.cp.SetStencilRef(0x80)
	issueTestDraw(t, s, vs, ps)
	r := s.recorder()
	assert.Len(t, r.viewports, 1)
	assert.Len(t, r.stencilRefs, 1)

	// Setting the same values again does not mark anything stale.
	s.cp.SetViewport(Viewport{Width: 1280, Height: 720, MaxDepth: 1})
	s.cp.SetScissor(Rect{Right: 1280, Bottom: 720})
	s.cp.SetBlendFactor([4]float32{1, 1, 1, 1})
	s.cp.SetStencilRef(0x80)
	issueTestDraw(t, s, vs, ps)
	assert.Len(t, r.viewports, 1)
	assert.Len(t, r.scissors, 1)
	assert.Len(t, r.blendFactors, 1)
	assert.Len(t, r.stencilRefs, 1)

	// A real change is re-emitted.
	s.cp.SetStencilRef(0x40)
	issueTestDraw(t, s, vs, ps)
	assert.Equal(t, []uint32{0x80, 0x40}, r.stencilRefs)
}

func TestSamplePositionsResent(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()

	s.cp.SetSamplePositions(MSAA_SAMPLES_4X)
	issueTestDraw(t, s, vs, ps)
	r := s.recorder()
	assert.Equal(t, []MsaaSamples{MSAA_SAMPLES_4X}, r.samplePositions)

	// Only a render-target change on an external pipeline invalidates them.
	s.cp.SetExternalGraphicsPipeline(&fakePipeline{name: "clear"}, true, false, false, false)
	issueTestDraw(t, s, vs, ps)
	assert.Equal(t, []MsaaSamples{MSAA_SAMPLES_4X, MSAA_SAMPLES_4X}, r.samplePositions)
}

func TestFlushAndUnbindRenderTargets(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)

	s.cp.FlushAndUnbindRenderTargets()
	assert.Equal(t, 1, s.targets.flushes)
}

func TestNewSubmissionResetsCommandStreamState(t *testing.T) {
	s, err := newTestSetup(defaultTestConfig())
	require.NoError(t, err)
	vs, ps := testShaderPair()
	issueTestDraw(t, s, vs, ps)
	require.NoError(t, s.cp.EndSubmission(true))

	// A new command list starts with nothing bound: the pipeline, heaps,
	// layout, dynamic state and root bindings are all re-emitted, and the
	// constants re-uploaded.
	issueTestDraw(t, s, vs, ps)
	r := s.recorder()
	assert.Len(t, r.pipelines, 2)
	assert.Len(t, r.rootSignatures, 2)
	assert.Len(t, r.viewports, 2)
	assert.Equal(t, 2, r.draws)
	assert.Len(t, s.uploadPool.requests, 10)
}
