package pulse

import (
	"testing"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gputypes"
	"github.com/oliverbestmann/appcompute/compute"
	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/kernels"
	"github.com/oliverbestmann/appcompute/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferUsage(t *testing.T) {
	assert.Equal(t,
		wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst,
		bufferUsage(gpu.BufferUsageMapRead|gpu.BufferUsageCopyDst),
	)

	assert.Equal(t,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst,
		bufferUsage(gpu.BufferUsageStorage|gpu.BufferUsageCopySrc|gpu.BufferUsageCopyDst),
	)

	assert.Equal(t, wgpu.BufferUsageUniform, bufferUsage(gpu.BufferUsageUniform))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, gpu.MapStatusSuccess, mapStatus(wgpu.BufferMapAsyncStatusSuccess))
	assert.Equal(t, gpu.MapStatusValidationError, mapStatus(wgpu.BufferMapAsyncStatusValidationError))
	assert.Equal(t, gpu.MapStatusUnmappedBeforeCallback, mapStatus(wgpu.BufferMapAsyncStatusUnmappedBeforeCallback))
	assert.Equal(t, gpu.MapStatusUnknown, mapStatus(wgpu.BufferMapAsyncStatusUnknown))
}

func TestBindGroupLayoutEntries(t *testing.T) {
	entries, err := bindGroupLayoutEntries([]gputypes.BindGroupLayoutEntry{
		{Binding: 0, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		{Binding: 1, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		{Binding: 2, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
	})

	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, wgpu.BufferBindingTypeUniform, entries[0].Buffer.Type)
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, entries[1].Buffer.Type)
	assert.Equal(t, wgpu.BufferBindingTypeStorage, entries[2].Buffer.Type)

	for idx, entry := range entries {
		assert.EqualValues(t, idx, entry.Binding)
		assert.Equal(t, wgpu.ShaderStageCompute, entry.Visibility)
	}

	_, err = bindGroupLayoutEntries([]gputypes.BindGroupLayoutEntry{{Binding: 0}})
	assert.ErrorContains(t, err, "only buffer bindings")
}

// newContext creates a device on the fallback adapter. Tests using it are
// skipped if no adapter is available.
func newContext(t *testing.T) *Context {
	t.Helper()

	if testing.Short() {
		t.Skip("requires a webgpu adapter")
	}

	ctx, err := New(Options{ForceFallbackAdapter: true})
	if err != nil {
		t.Skipf("no webgpu adapter available: %s", err)
	}

	t.Cleanup(ctx.Release)

	return ctx
}

func TestBufferMapRoundTrip(t *testing.T) {
	dev := newContext(t).GPU()

	src, err := dev.CreateBufferInit("src", gpu.BufferUsageStorage|gpu.BufferUsageCopySrc, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	defer src.Release()

	dst, err := dev.CreateBuffer(gpu.BufferDescriptor{
		Label: "dst",
		Size:  8,
		Usage: gpu.BufferUsageMapRead | gpu.BufferUsageCopyDst,
	})
	require.NoError(t, err)
	defer dst.Release()

	encoder, err := dev.CreateCommandEncoder("copy")
	require.NoError(t, err)

	require.NoError(t, encoder.CopyBufferToBuffer(src, 0, dst, 0, 8))

	cmd, err := encoder.Finish()
	require.NoError(t, err)
	defer cmd.Release()

	idx, err := dev.Queue().Submit(cmd)
	require.NoError(t, err)

	status := make(chan gpu.MapStatus, 1)
	require.NoError(t, dst.MapAsync(gpu.MapModeRead, 0, 8, func(s gpu.MapStatus) { status <- s }))
	assert.Equal(t, gpu.MapStatePending, dst.MapState())

	done, err := dev.Poll(true, idx)
	require.NoError(t, err)
	require.True(t, done)

	require.Equal(t, gpu.MapStatusSuccess, <-status)
	assert.Equal(t, gpu.MapStateMapped, dst.MapState())

	view, err := dst.MappedRange(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, view)

	require.NoError(t, dst.Unmap())
	assert.ErrorIs(t, dst.Unmap(), gpu.ErrBufferNotMapped)
}

func TestMultipassOnDevice(t *testing.T) {
	dev := newContext(t).GPU()

	ctx := &compute.BuildContext{
		Device: dev,
		Cache:  pipeline.NewCache(dev),
		Loader: pipeline.NewLoader(kernels.Shaders),
	}

	t.Cleanup(ctx.Cache.Release)

	four := [3]uint32{4, 1, 1}

	w, err := compute.NewBuilder(ctx, "multipass").
		AddUniform("value", float32(3)).
		AddStorage("input", []float32{1, 2, 3, 4}).
		AddStaging("output", []float32{0, 0, 0, 0}).
		AddPass(compute.ShaderFromFile(kernels.Add), four, "value", "input", "output").
		AddPass(compute.ShaderFromFile(kernels.Square), four, "output").
		Build()

	require.NoError(t, err)
	t.Cleanup(w.Release)

	require.Eventually(t, func() bool {
		ctx.Cache.Drain(ctx.Loader.Events())
		ctx.Cache.Process()
		return ctx.Cache.Pending() == 0
	}, 10*time.Second, time.Millisecond)

	w.RefreshPipelines()

	require.NoError(t, w.Tick())
	require.True(t, w.Ready())

	assert.Equal(t, []float32{16, 25, 36, 49}, compute.MustReadVec[float32](w, "output"))
}
