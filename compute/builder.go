package compute

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/layout"
	"github.com/oliverbestmann/appcompute/orion"
	"github.com/oliverbestmann/appcompute/pipeline"
)

// BuildContext carries everything a worker needs to allocate its resources.
type BuildContext struct {
	Device gpu.Device
	Cache  *pipeline.Cache

	// Loader is optional. If set, shaders referenced by path are
	// loaded through it.
	Loader *pipeline.Loader

	Logger  *slog.Logger
	Metrics *Metrics
}

// ComputeWorker builds a worker from a BuildContext.
type ComputeWorker interface {
	Build(ctx *BuildContext) (*Worker, error)
}

// WorkerFunc adapts a function to the ComputeWorker interface.
type WorkerFunc func(ctx *BuildContext) (*Worker, error)

func (f WorkerFunc) Build(ctx *BuildContext) (*Worker, error) {
	return f(ctx)
}

// Builder declares the buffers and steps of a worker. Errors are collected
// and reported by Build.
type Builder struct {
	ctx     *BuildContext
	name    string
	logger  *slog.Logger
	metrics *Metrics

	extraUsage   gpu.BufferUsage
	buffers      map[string]slot
	staging      map[string]*stagingPair
	stagingOrder []string
	steps        []Step
	pipelines    map[string]*pipelineSlot

	runMode RunMode
	polling polling

	errs []error
}

func NewBuilder(ctx *BuildContext, name string) *Builder {
	logger := ctx.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		ctx:       ctx,
		name:      name,
		logger:    logger,
		metrics:   ctx.Metrics,
		buffers:   map[string]slot{},
		staging:   map[string]*stagingPair{},
		pipelines: map[string]*pipelineSlot{},
		runMode:   Continuous,
		polling:   polling{maxAsync: 0},
	}
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// AddUniform adds a uniform buffer initialized with value.
func (b *Builder) AddUniform(name string, value any) *Builder {
	return b.addBuffer(name, Uniform, value)
}

// AddEmptyUniform adds a zero initialized uniform buffer of the given size.
func (b *Builder) AddEmptyUniform(name string, size uint64) *Builder {
	return b.addEmptyBuffer(name, Uniform, size)
}

// AddStorage adds a read only storage buffer initialized with value.
func (b *Builder) AddStorage(name string, value any) *Builder {
	return b.addBuffer(name, Storage, value)
}

func (b *Builder) AddEmptyStorage(name string, size uint64) *Builder {
	return b.addEmptyBuffer(name, Storage, size)
}

// AddRWStorage adds a read write storage buffer initialized with value.
func (b *Builder) AddRWStorage(name string, value any) *Builder {
	return b.addBuffer(name, RWStorage, value)
}

func (b *Builder) AddEmptyRWStorage(name string, size uint64) *Builder {
	return b.addEmptyBuffer(name, RWStorage, size)
}

// AddStaging adds a read write storage buffer whose contents can be read
// after each run and written between runs.
func (b *Builder) AddStaging(name string, value any) *Builder {
	b.addBuffer(name, RWStorage, value)
	return b.addStagingPair(name)
}

func (b *Builder) AddEmptyStaging(name string, size uint64) *Builder {
	b.addEmptyBuffer(name, RWStorage, size)
	return b.addStagingPair(name)
}

func (b *Builder) addBuffer(name string, kind BufferKind, value any) *Builder {
	data, err := layout.Encode(kind.addressSpace(), value)
	if err != nil {
		return b.fail(fmt.Errorf("add %s buffer %q: %w", kind, name, err))
	}

	return b.addBytes(name, kind, data)
}

// addBytes adds a buffer holding data as is. Uniform buffers are padded
// to a multiple of 16 bytes.
func (b *Builder) addBytes(name string, kind BufferKind, data []byte) *Builder {
	if kind == Uniform && len(data)%16 != 0 {
		data = append(data, make([]byte, 16-len(data)%16)...)
	}

	buffer, err := b.ctx.Device.CreateBufferInit(name, kind.usage()|b.extraUsage, padTo4(data))
	if err != nil {
		return b.fail(fmt.Errorf("add %s buffer %q: %w", kind, name, err))
	}

	b.setSlot(name, slot{kind: kind, buffer: buffer})

	return b
}

func (b *Builder) addEmptyBuffer(name string, kind BufferKind, size uint64) *Builder {
	if kind == Uniform {
		size = max(16, size)
	}

	buffer, err := b.ctx.Device.CreateBuffer(gpu.BufferDescriptor{
		Label: name,
		Size:  (size + 3) &^ 3,
		Usage: kind.usage() | b.extraUsage,
	})

	if err != nil {
		return b.fail(fmt.Errorf("add empty %s buffer %q: %w", kind, name, err))
	}

	b.setSlot(name, slot{kind: kind, buffer: buffer})

	return b
}

// setSlot registers the buffer under name. A previous buffer with the same
// name is released and replaced.
func (b *Builder) setSlot(name string, target slot) {
	if previous, ok := b.buffers[name]; ok {
		b.logger.Warn("Replacing existing buffer",
			slog.String("worker", b.name),
			slog.String("buffer", name),
		)

		previous.buffer.Release()
	}

	if pair, ok := b.staging[name]; ok {
		pair.release()
		delete(b.staging, name)
		b.stagingOrder = slices.DeleteFunc(b.stagingOrder, func(n string) bool { return n == name })
	}

	b.buffers[name] = target
}

func (b *Builder) addStagingPair(name string) *Builder {
	source, ok := b.buffers[name]
	if !ok {
		// creating the source buffer failed, the error was recorded already
		return b
	}

	read, err := b.ctx.Device.CreateBuffer(gpu.BufferDescriptor{
		Label:            name + " (staging)",
		Size:             source.buffer.Size(),
		Usage:            gpu.BufferUsageMapRead | gpu.BufferUsageCopyDst,
		MappedAtCreation: true,
	})

	if err != nil {
		return b.fail(fmt.Errorf("add staging buffer %q: %w", name, err))
	}

	b.staging[name] = &stagingPair{name: name, read: read, readMapped: true}
	b.stagingOrder = append(b.stagingOrder, name)

	return b
}

// AddPass appends a dispatch of the shader. The pipeline is requested from
// the cache right away, it does not need to be ready before the worker runs.
func (b *Builder) AddPass(shader ComputeShader, workgroups [3]uint32, vars ...string) *Builder {
	if shader == nil {
		return b.fail(errors.New("add pass: shader must not be nil"))
	}

	identity := shader.Identity()
	if identity == "" {
		return b.fail(errors.New("add pass: shader has no identity"))
	}

	if _, ok := b.pipelines[identity]; !ok {
		desc := descriptorOf(shader)

		source := shader.Source()
		switch {
		case source.Code != "":
			b.ctx.Cache.SetShader(desc.Shader, source.Code)

		case source.Path != "" && b.ctx.Loader != nil:
			b.ctx.Loader.Load(source.Path)
		}

		b.pipelines[identity] = &pipelineSlot{id: b.ctx.Cache.Queue(desc)}
	}

	b.steps = append(b.steps, Dispatch{
		Shader:     identity,
		Workgroups: workgroups,
		Vars:       slices.Clone(vars),
	})

	return b
}

// AddSwap appends a step exchanging the device buffers of a and b.
func (b *Builder) AddSwap(a, other string) *Builder {
	b.steps = append(b.steps, Swap{A: a, B: other})
	return b
}

// SetExtraBufferUsages adds usages to all buffers added afterwards.
func (b *Builder) SetExtraBufferUsages(usage gpu.BufferUsage) *Builder {
	b.extraUsage = usage
	return b
}

// Continuous runs the worker every tick. This is the default.
func (b *Builder) Continuous() *Builder {
	b.runMode = Continuous
	return b
}

// OneShot only runs the worker after Worker.Execute was called.
func (b *Builder) OneShot() *Builder {
	b.runMode = OneShot
	return b
}

// Synchronous waits for each submission to finish within the same tick.
// This is the default.
func (b *Builder) Synchronous() *Builder {
	b.polling = polling{maxAsync: 0}
	return b
}

// Asynchronous polls without blocking until maxAsync has passed since the
// submission, then it blocks.
func (b *Builder) Asynchronous(maxAsync time.Duration) *Builder {
	b.polling = polling{maxAsync: maxAsync}
	return b
}

// AsynchronousUnbounded never blocks on the device.
func (b *Builder) AsynchronousUnbounded() *Builder {
	b.polling = polling{unbounded: true}
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetrics(metrics *Metrics) *Builder {
	b.metrics = metrics
	return b
}

// Build creates the worker. Names referenced by passes and swaps are not
// validated here, they are reported when the worker runs.
func (b *Builder) Build() (*Worker, error) {
	if err := errors.Join(b.errs...); err != nil {
		b.release()
		return nil, fmt.Errorf("build worker %q: %w", b.name, err)
	}

	encoder, err := b.ctx.Device.CreateCommandEncoder(b.name)
	if err != nil {
		b.release()
		return nil, fmt.Errorf("build worker %q: create command encoder: %w", b.name, err)
	}

	worker := &Worker{
		name:         b.name,
		device:       b.ctx.Device,
		queue:        b.ctx.Device.Queue(),
		cache:        b.ctx.Cache,
		logger:       b.logger,
		metrics:      b.metrics,
		buffers:      b.buffers,
		staging:      b.staging,
		stagingOrder: b.stagingOrder,
		steps:        b.steps,
		pipelines:    b.pipelines,
		encoder:      encoder,
		state:        StateCreated,
		runMode:      b.runMode,
		polling:      b.polling,
	}

	worker.RefreshPipelines()
	worker.metrics.observeState(worker.name, worker.state)

	b.logger.Info("Worker created",
		slog.String("worker", b.name),
		slog.Int("buffers", len(b.buffers)),
		slog.Int("staging", len(b.staging)),
		slog.Int("steps", len(b.steps)),
		slog.String("mode", b.runMode.String()),
	)

	// the builder must not be used afterwards
	b.buffers, b.staging, b.pipelines, b.steps = nil, nil, nil, nil

	return worker, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Worker {
	worker, err := b.Build()
	orion.Handle(err, "build worker %q", b.name)

	return worker
}

func (b *Builder) release() {
	for _, pair := range b.staging {
		pair.release()
	}

	for _, target := range b.buffers {
		target.buffer.Release()
	}
}
