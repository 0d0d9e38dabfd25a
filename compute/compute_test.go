package compute

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/gpu/soft"
	"github.com/oliverbestmann/appcompute/kernels"
	"github.com/oliverbestmann/appcompute/orion"
	"github.com/oliverbestmann/appcompute/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var four = [3]uint32{4, 1, 1}

func newContext(t *testing.T, opts ...soft.Option) (*BuildContext, *soft.Device) {
	t.Helper()

	dev := soft.New(append([]soft.Option{soft.WithKernels(kernels.Soft())}, opts...)...)
	t.Cleanup(dev.Close)

	ctx := &BuildContext{
		Device: dev,
		Cache:  pipeline.NewCache(dev),
		Loader: pipeline.NewLoader(kernels.Shaders),
	}

	return ctx, dev
}

// settle waits until all queued pipelines were processed and hands them
// to the worker.
func settle(t *testing.T, ctx *BuildContext, w *Worker) {
	t.Helper()

	require.Eventually(t, func() bool {
		ctx.Cache.Drain(ctx.Loader.Events())
		ctx.Cache.Process()
		return ctx.Cache.Pending() == 0
	}, time.Second, time.Millisecond)

	w.RefreshPipelines()
}

func tick(t *testing.T, w *Worker) {
	t.Helper()
	require.NoError(t, w.Tick())
}

func TestMultipass(t *testing.T) {
	ctx, _ := newContext(t)

	w, err := NewBuilder(ctx, "multipass").
		AddUniform("value", float32(3)).
		AddStorage("input", []float32{1, 2, 3, 4}).
		AddStaging("output", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Add), four, "value", "input", "output").
		AddPass(ShaderFromFile(kernels.Square), four, "output").
		Build()

	require.NoError(t, err)
	t.Cleanup(w.Release)

	assert.Equal(t, StateCreated, w.State())

	settle(t, ctx, w)
	tick(t, w)

	require.True(t, w.Ready())
	assert.Equal(t, []float32{16, 25, 36, 49}, MustReadVec[float32](w, "output"))

	// the input never changes, so every run yields the same result
	tick(t, w)
	assert.Equal(t, []float32{16, 25, 36, 49}, MustReadVec[float32](w, "output"))
}

func TestWriteSliceRoundTrip(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "simple").
		AddUniform("uni", float32(3)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	require.NoError(t, WriteSlice(w, "values", []float32{1, 2, 3, 4}))
	tick(t, w)

	values, err := ReadVec[float32](w, "values")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6, 7}, values)

	// the write buffer is mapped again after the run and accepts the next write
	require.NoError(t, WriteSlice(w, "values", []float32{10, 20, 30, 40}))
	tick(t, w)

	assert.Equal(t, []float32{13, 23, 33, 43}, MustReadVec[float32](w, "values"))

	// without a write, the shader keeps working on its previous output
	tick(t, w)
	assert.Equal(t, []float32{16, 26, 36, 46}, MustReadVec[float32](w, "values"))
}

func TestWriteUniformAppliesOnNextRun(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "simple").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	tick(t, w)
	assert.Equal(t, []float32{1, 1, 1, 1}, MustReadVec[float32](w, "values"))

	require.NoError(t, Write(w, "uni", float32(10)))
	tick(t, w)

	assert.Equal(t, []float32{11, 11, 11, 11}, MustReadVec[float32](w, "values"))
}

func TestWriteSizeMismatch(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "simple").
		AddStaging("values", []float32{0, 0, 0, 0}).
		MustBuild()

	t.Cleanup(w.Release)

	err := WriteSlice(w, "values", []float32{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSwapOrder(t *testing.T) {
	ctx, _ := newContext(t)

	simple := ShaderFromFile(kernels.Simple)

	w := NewBuilder(ctx, "swap").
		AddUniform("one", float32(1)).
		AddStaging("x", []float32{1, 1, 1, 1}).
		AddStaging("y", []float32{10, 10, 10, 10}).
		AddPass(simple, four, "one", "x").
		AddSwap("x", "y").
		AddPass(simple, four, "one", "x").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	tick(t, w)

	// the second pass must see the allocation that was named y before the swap
	assert.Equal(t, []float32{11, 11, 11, 11}, MustReadVec[float32](w, "x"))
	assert.Equal(t, []float32{2, 2, 2, 2}, MustReadVec[float32](w, "y"))

	// the swap persists into the next run and is applied once more
	tick(t, w)

	assert.Equal(t, []float32{3, 3, 3, 3}, MustReadVec[float32](w, "x"))
	assert.Equal(t, []float32{12, 12, 12, 12}, MustReadVec[float32](w, "y"))
}

func TestReadIsIdempotent(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "simple").
		AddUniform("uni", float32(2)).
		AddStaging("values", []float32{1, 2, 3, 4}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)
	tick(t, w)

	first, err := w.ReadRaw("values")
	require.NoError(t, err)

	second, err := w.ReadRaw("values")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// a copy is returned, modifying it does not change the next read
	first[0] = 0xff
	assert.Equal(t, second, readRaw(t, w, "values"))

	assert.Equal(t, MustReadVec[float32](w, "values"), MustReadVec[float32](w, "values"))
	assert.Equal(t, float32(3), MustRead[float32](w, "values"))
}

func readRaw(t *testing.T, w *Worker, name string) []byte {
	t.Helper()

	data, err := w.ReadRaw(name)
	require.NoError(t, err)
	return data
}

func TestOneShot(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "oneshot").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), [3]uint32{2, 1, 1}, "uni", "values").
		OneShot().
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	for range 3 {
		tick(t, w)
		assert.Equal(t, StateAvailable, w.State())
	}

	_, err := ReadVec[float32](w, "values")
	require.ErrorIs(t, err, ErrNotReady)

	// executing twice is the same as executing once
	w.Execute()
	w.Execute()
	tick(t, w)

	require.Equal(t, StateFinishedWorking, w.State())
	assert.Equal(t, []float32{1, 1}, MustReadVec[float32](w, "values"))

	for range 3 {
		tick(t, w)
		assert.Equal(t, StateAvailable, w.State())
	}

	w.Execute()
	tick(t, w)

	require.True(t, w.Ready())
	assert.Equal(t, []float32{2, 2}, MustReadVec[float32](w, "values"))
}

func TestOneShotIgnoresExecuteWhileWorking(t *testing.T) {
	ctx, dev := newContext(t)

	w := NewBuilder(ctx, "oneshot").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), [3]uint32{2, 1, 1}, "uni", "values").
		OneShot().
		AsynchronousUnbounded().
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	dev.Pause()

	w.Execute()
	tick(t, w)
	require.Equal(t, StateWorking, w.State())

	w.Execute()

	dev.Resume()

	require.Eventually(t, func() bool {
		tick(t, w)
		return w.Ready()
	}, time.Second, time.Millisecond)

	assert.Equal(t, []float32{1, 1}, MustReadVec[float32](w, "values"))

	// the second Execute was dropped, nothing runs anymore
	for range 3 {
		tick(t, w)
		assert.Equal(t, StateAvailable, w.State())
	}
}

func TestExecuteAfterUnmapPhase(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "oneshot").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), [3]uint32{2, 1, 1}, "uni", "values").
		OneShot().
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	w.Execute()
	tick(t, w)
	require.True(t, w.Ready())

	// the unmap phase does nothing while the worker is not armed
	require.NoError(t, w.UnmapAll())

	w.Execute()
	require.NoError(t, w.Run())

	require.True(t, w.Ready())
	assert.Equal(t, []float32{2, 2}, MustReadVec[float32](w, "values"))
}

const weightsShader = `@group(0) @binding(0) var<uniform> weights: array<vec4<f32>, 2>;
@group(0) @binding(1) var<storage, read_write> output: array<f32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    output[id.x] = weights[id.x].x;
}`

func TestWriteSliceIntoUniformArray(t *testing.T) {
	ctx, _ := newContext(t, soft.WithKernel("weights", soft.Kernel{
		Run: func(inv *soft.Invocation) {
			// elements of a uniform array are 16 bytes apart
			idx := inv.Index()
			inv.Floats(1)[idx] = inv.Floats(0)[idx*4]
		},
	}))

	w := NewBuilder(ctx, "weights").
		AddUniform("weights", [2]float32{1, 2}).
		AddStaging("output", []float32{0, 0}).
		AddPass(Shader{Name: "weights", Code: weightsShader}, [3]uint32{2, 1, 1}, "weights", "output").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	tick(t, w)
	assert.Equal(t, []float32{1, 2}, MustReadVec[float32](w, "output"))

	require.NoError(t, WriteSlice(w, "weights", []float32{3, 4}))
	tick(t, w)

	assert.Equal(t, []float32{3, 4}, MustReadVec[float32](w, "output"))

	// the uniform holds two 16 byte elements
	assert.ErrorIs(t, WriteSlice(w, "weights", []float32{1, 2, 3}), ErrSizeMismatch)
}

// rejectingDevice fails to create bind groups while reject is set.
type rejectingDevice struct {
	*soft.Device
	reject bool
}

func (d *rejectingDevice) CreateBindGroup(pipeline gpu.Pipeline, group uint32, entries []gpu.BindEntry) (gpu.BindGroup, error) {
	if d.reject {
		return nil, errors.New("bind group rejected")
	}

	return d.Device.CreateBindGroup(pipeline, group, entries)
}

func TestWriteAfterFailedRunWins(t *testing.T) {
	ctx, dev := newContext(t)

	device := &rejectingDevice{Device: dev}
	ctx.Device = device

	w := NewBuilder(ctx, "simple").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	require.NoError(t, WriteSlice(w, "values", []float32{1, 2, 3, 4}))

	device.reject = true
	require.ErrorContains(t, w.Run(), "bind group rejected")
	device.reject = false

	// the older staged bytes must not overwrite this write
	require.NoError(t, WriteSlice(w, "values", []float32{10, 20, 30, 40}))
	tick(t, w)

	require.True(t, w.Ready())
	assert.Equal(t, []float32{11, 21, 31, 41}, MustReadVec[float32](w, "values"))

	// the write buffer is mapped again and stages the next write
	require.NoError(t, WriteSlice(w, "values", []float32{5, 5, 5, 5}))
	tick(t, w)

	assert.Equal(t, []float32{6, 6, 6, 6}, MustReadVec[float32](w, "values"))
}

func TestPipelineNeverReady(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "never").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile("shaders/missing.wgsl"), four, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)

	for range 10 {
		ctx.Cache.Drain(ctx.Loader.Events())
		ctx.Cache.Process()

		tick(t, w)
		assert.NotEqual(t, StateWorking, w.State())
		assert.NotEqual(t, StateFinishedWorking, w.State())
	}

	err := w.Run()
	require.ErrorIs(t, err, ErrPipelineNotReady)
	assert.True(t, IsRecoverable(err))

	_, err = ReadVec[float32](w, "values")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestPipelineReadyLater(t *testing.T) {
	ctx, dev := newContext(t)

	shader := Shader{
		Name: "late",
		Code: "@compute @workgroup_size(1) fn main() {}",
	}

	w := NewBuilder(ctx, "late").
		AddUniform("uni", float32(5)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(shader, four, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)

	// no kernel is registered yet, compiling fails
	ctx.Cache.Process()
	tick(t, w)
	assert.Equal(t, StateAvailable, w.State())

	dev.RegisterKernel("late", kernels.Soft()[kernels.Simple])

	// a changed shader retries the failed pipeline
	ctx.Cache.SetShader("late", shader.Code+"\n")
	ctx.Cache.Process()

	// the first tick only picks up the new pipeline
	tick(t, w)
	assert.Equal(t, StateAvailable, w.State())

	tick(t, w)
	require.True(t, w.Ready())
	assert.Equal(t, []float32{5, 5, 5, 5}, MustReadVec[float32](w, "values"))
}

func TestLookupErrors(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "lookup").
		AddUniform("uni", float32(1)).
		AddStorage("input", []float32{1, 2}).
		AddStaging("values", []float32{0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), [3]uint32{2, 1, 1}, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)

	_, err := ReadVec[float32](w, "nonexistent")
	assert.ErrorIs(t, err, ErrBufferNotFound)

	_, err = ReadVec[float32](w, "input")
	assert.ErrorIs(t, err, ErrStagingBufferNotFound)

	_, err = w.ReadRaw("nonexistent")
	assert.ErrorIs(t, err, ErrBufferNotFound)

	err = WriteSlice(w, "nonexistent", []float32{1})
	assert.ErrorIs(t, err, ErrBufferNotFound)

	settle(t, ctx, w)
	tick(t, w)

	type tooLarge struct {
		Values [8]float32
	}

	_, err = Read[tooLarge](w, "values")
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestUnknownNamesSurfaceAtRun(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder) *Builder
	}{
		{
			name: "pass",
			build: func(b *Builder) *Builder {
				return b.AddPass(ShaderFromFile(kernels.Simple), four, "uni", "missing")
			},
		},
		{
			name: "swap",
			build: func(b *Builder) *Builder {
				return b.AddSwap("values", "missing")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := newContext(t)

			b := NewBuilder(ctx, tt.name).
				AddUniform("uni", float32(1)).
				AddStaging("values", []float32{0, 0, 0, 0})

			w, err := tt.build(b).Build()
			require.NoError(t, err)
			t.Cleanup(w.Release)

			settle(t, ctx, w)

			err = w.Tick()
			require.ErrorIs(t, err, ErrBufferNotFound)
			assert.False(t, IsRecoverable(err))
			assert.Equal(t, StateAvailable, w.State())

			assert.Panics(t, w.MustRun)
		})
	}
}

func TestBuildReportsEncodingErrors(t *testing.T) {
	ctx, _ := newContext(t)

	_, err := NewBuilder(ctx, "broken").
		AddStorage("strings", []string{"a"}).
		AddPass(nil, four).
		Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), `"strings"`)
	assert.Contains(t, err.Error(), "shader must not be nil")
}

func TestReAddReplacesBuffer(t *testing.T) {
	ctx, _ := newContext(t)

	w := NewBuilder(ctx, "replace").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddStaging("values", []float32{5, 5}).
		AddPass(ShaderFromFile(kernels.Simple), [3]uint32{2, 1, 1}, "uni", "values").
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)
	tick(t, w)

	assert.Equal(t, []float32{6, 6}, MustReadVec[float32](w, "values"))
}

func TestAsynchronousUnbounded(t *testing.T) {
	ctx, dev := newContext(t)

	w := NewBuilder(ctx, "async").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		AsynchronousUnbounded().
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	dev.Pause()

	for range 3 {
		tick(t, w)
		require.Equal(t, StateWorking, w.State())

		_, err := ReadVec[float32](w, "values")
		require.ErrorIs(t, err, ErrNotReady)
	}

	dev.Resume()

	require.Eventually(t, func() bool {
		tick(t, w)
		return w.Ready()
	}, time.Second, time.Millisecond)

	// exactly one submission was executed while the device was paused
	assert.Equal(t, []float32{1, 1, 1, 1}, MustReadVec[float32](w, "values"))
}

func TestAsynchronousFallsBackToBlocking(t *testing.T) {
	ctx, _ := newContext(t, soft.WithLatency(50*time.Millisecond))

	w := NewBuilder(ctx, "bounded").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		Asynchronous(5 * time.Millisecond).
		MustBuild()

	t.Cleanup(w.Release)
	settle(t, ctx, w)

	tick(t, w)
	require.Equal(t, StateWorking, w.State())

	time.Sleep(10 * time.Millisecond)

	// the maximum async time is exceeded, this tick blocks until done
	tick(t, w)
	require.True(t, w.Ready())
}

func TestMetrics(t *testing.T) {
	ctx, _ := newContext(t)

	metrics := MustNewMetrics(prometheus.NewRegistry())

	w := NewBuilder(ctx, "metrics").
		AddUniform("uni", float32(1)).
		AddStaging("values", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Simple), four, "uni", "values").
		WithMetrics(metrics).
		MustBuild()

	t.Cleanup(w.Release)

	// pipeline not processed yet
	tick(t, w)

	settle(t, ctx, w)
	tick(t, w)
	tick(t, w)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notReady.WithLabelValues("metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("metrics", "not_ready")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.runs.WithLabelValues("metrics", "submitted")))
	assert.Equal(t, float64(StateFinishedWorking), testutil.ToFloat64(metrics.state.WithLabelValues("metrics")))
}

func TestNilMetrics(t *testing.T) {
	var metrics *Metrics

	assert.NotPanics(t, func() {
		metrics.observeRun("w", "submitted")
		metrics.observeState("w", StateWorking)
		metrics.observePoll("w", true, time.Millisecond)
	})
}

const multipassConfig = `
name: multipass
buffers:
  - {name: value, kind: uniform, f32: [3]}
  - {name: input, kind: storage, f32: [1, 2, 3, 4]}
  - {name: output, kind: staging, size: 16}
steps:
  - {shader: shaders/add.wgsl, workgroups: [4], vars: [value, input, output]}
  - {shader: shaders/square.wgsl, workgroups: [4, 1, 1], vars: [output]}
`

func TestWorkerConfig(t *testing.T) {
	config, err := LoadWorkerConfig(strings.NewReader(multipassConfig))
	require.NoError(t, err)

	assert.Equal(t, "multipass", config.Name)
	assert.Equal(t, []string{kernels.Add, kernels.Square}, config.Shaders())

	ctx, _ := newContext(t)

	w, err := config.Apply(NewBuilder(ctx, config.Name)).Build()
	require.NoError(t, err)
	t.Cleanup(w.Release)

	assert.Equal(t, Continuous, w.RunMode())

	settle(t, ctx, w)
	tick(t, w)

	assert.Equal(t, []float32{16, 25, 36, 49}, MustReadVec[float32](w, "output"))
}

func TestWorkerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config string
		errMsg string
	}{
		{name: "missing name", config: `buffers: []`, errMsg: "name is required"},
		{name: "unknown kind", config: "name: w\nbuffers: [{name: a, kind: texture, size: 4}]", errMsg: `unknown kind "texture"`},
		{name: "no size", config: "name: w\nbuffers: [{name: a, kind: storage}]", errMsg: "either values or size"},
		{name: "bad swap", config: "name: w\nsteps: [{swap: [a]}]", errMsg: "exactly two"},
		{name: "bad mode", config: "name: w\nmode: sometimes", errMsg: `unknown mode "sometimes"`},
		{name: "unknown field", config: "name: w\nfoo: bar", errMsg: "foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWorkerConfig(strings.NewReader(tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

type multipassWorker struct{}

func (multipassWorker) Build(ctx *BuildContext) (*Worker, error) {
	return NewBuilder(ctx, "multipass").
		AddUniform("value", float32(3)).
		AddStorage("input", []float32{1, 2, 3, 4}).
		AddStaging("output", []float32{0, 0, 0, 0}).
		AddPass(ShaderFromFile(kernels.Add), four, "value", "input", "output").
		AddPass(ShaderFromFile(kernels.Square), four, "output").
		Build()
}

func TestPlugins(t *testing.T) {
	dev := soft.New(soft.WithKernels(kernels.Soft()))
	t.Cleanup(dev.Close)

	app := orion.NewApp()
	t.Cleanup(app.Close)

	err := app.AddPlugin(WorkerPlugin[multipassWorker]{})
	require.Error(t, err, "compute plugin must be added first")

	app.MustAddPlugin(Plugin{Device: dev, Loader: pipeline.NewLoader(kernels.Shaders)})
	app.MustAddPlugin(WorkerPlugin[multipassWorker]{})

	w := WorkerOf[multipassWorker](app)

	named, ok := WorkerNamed(app, "multipass")
	require.True(t, ok)
	assert.Same(t, w, named)

	// a different worker type may not reuse the name
	err = app.AddPlugin(WorkerPlugin[WorkerFunc]{Worker: multipassWorker{}.Build})
	assert.ErrorContains(t, err, `worker "multipass" already added`)

	_, ok = WorkerNamed(app, "unknown")
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		require.NoError(t, app.Update())
		return w.Ready()
	}, time.Second, time.Millisecond)

	assert.Equal(t, []float32{16, 25, 36, 49}, MustReadVec[float32](w, "output"))
}
