// Package soft implements the gpu capability interfaces on the CPU.
//
// Shaders are resolved to Go kernels registered by shader identity. Submissions
// are executed in order by a background goroutine, the workgroups of a single
// dispatch run in parallel. Map callbacks are only ever invoked from within
// Device.Poll, never from the executor.
package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/oliverbestmann/appcompute/gpu"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownKernel = errors.New("soft: no kernel registered for shader")
	ErrClosed        = errors.New("soft: device closed")
)

type Option func(d *Device)

func WithKernel(shader string, kernel Kernel) Option {
	return func(d *Device) {
		d.kernels[shader] = kernel
	}
}

func WithKernels(kernels map[string]Kernel) Option {
	return func(d *Device) {
		for shader, kernel := range kernels {
			d.kernels[shader] = kernel
		}
	}
}

// WithLatency delays the completion of each submission by at least the given duration.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.latency = latency
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

type submission struct {
	index     gpu.SubmissionIndex
	ops       []op
	submitted time.Time
}

type Device struct {
	kernels map[string]Kernel
	latency time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	pending     []submission
	submitted   gpu.SubmissionIndex
	completed   gpu.SubmissionIndex
	mapRequests []*mapRequest
	paused      bool
	closed      bool
	lost        error

	queue Queue
}

var _ gpu.Device = (*Device)(nil)

func New(opts ...Option) *Device {
	dev := &Device{
		kernels: map[string]Kernel{},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(dev)
	}

	dev.cond = sync.NewCond(&dev.mu)
	dev.queue = Queue{dev: dev}

	go dev.executor()

	return dev
}

// RegisterKernel adds or replaces the kernel for the given shader identity.
func (d *Device) RegisterKernel(shader string, kernel Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.kernels[shader] = kernel
}

// Pause stops the executor from picking up new submissions until Resume is called.
func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.paused = true
}

func (d *Device) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.paused = false
	d.cond.Broadcast()
}

// Close stops the executor. Submissions still queued are dropped.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.cond.Broadcast()
}

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	if err := gpu.ValidateUsage(desc.Usage); err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}

	if desc.MappedAtCreation && desc.Size%4 != 0 {
		return nil, fmt.Errorf("create buffer %q: size %d of buffer mapped at creation: %w",
			desc.Label, desc.Size, gpu.ErrCopyAlignment)
	}

	buf := &Buffer{
		dev:   d,
		label: desc.Label,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}

	if desc.MappedAtCreation {
		buf.state = gpu.MapStateMapped
		buf.mode = gpu.MapModeWrite
		buf.mapSize = desc.Size
	}

	return buf, nil
}

func (d *Device) CreateBufferInit(label string, usage gpu.BufferUsage, contents []byte) (gpu.Buffer, error) {
	if err := gpu.ValidateUsage(usage); err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}

	// the size of a buffer initialized with contents is padded to four bytes
	size := (len(contents) + 3) &^ 3

	buf := &Buffer{
		dev:   d,
		label: label,
		usage: usage,
		data:  make([]byte, size),
	}

	copy(buf.data, contents)

	return buf, nil
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDescriptor) (gpu.Pipeline, error) {
	d.mu.Lock()
	kernel, ok := d.kernels[desc.Shader]
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("create pipeline %q: %w: %q", desc.Label, ErrUnknownKernel, desc.Shader)
	}

	if kernel.Run == nil {
		return nil, fmt.Errorf("create pipeline %q: kernel for %q has no body", desc.Label, desc.Shader)
	}

	d.logger.Debug("Create compute pipeline",
		slog.String("label", desc.Label),
		slog.String("shader", desc.Shader),
		slog.String("entryPoint", desc.EntryPoint),
	)

	return &Pipeline{label: desc.Label, shader: desc.Shader, kernel: kernel}, nil
}

func (d *Device) CreateBindGroup(pipeline gpu.Pipeline, group uint32, entries []gpu.BindEntry) (gpu.BindGroup, error) {
	pl, ok := pipeline.(*Pipeline)
	if !ok {
		return nil, fmt.Errorf("create bind group: pipeline %q is not a soft pipeline", pipeline.Label())
	}

	if group != 0 {
		return nil, fmt.Errorf("create bind group for %q: only group 0 is supported, got %d", pl.label, group)
	}

	var buffers []*Buffer
	for _, entry := range entries {
		buf, ok := entry.Buffer.(*Buffer)
		if !ok {
			return nil, fmt.Errorf("create bind group for %q: binding %d is not a soft buffer", pl.label, entry.Binding)
		}

		if !buf.usage.Contains(gpu.BufferUsageStorage) && !buf.usage.Contains(gpu.BufferUsageUniform) {
			return nil, fmt.Errorf("create bind group for %q: binding %d (%q): %w",
				pl.label, entry.Binding, buf.label, gpu.ErrMissingUsage)
		}

		for uint32(len(buffers)) <= entry.Binding {
			buffers = append(buffers, nil)
		}

		buffers[entry.Binding] = buf
	}

	return &BindGroup{pipeline: pl, buffers: buffers}, nil
}

func (d *Device) CreateCommandEncoder(label string) (gpu.CommandEncoder, error) {
	return &CommandEncoder{label: label}, nil
}

func (d *Device) Queue() gpu.Queue {
	return &d.queue
}

func (d *Device) Poll(wait bool, index gpu.SubmissionIndex) (bool, error) {
	d.mu.Lock()

	if wait {
		for d.completed < index && d.lost == nil && !d.closed {
			d.cond.Wait()
		}
	}

	done := d.completed >= index
	resolved := d.resolveMapRequests()

	err := d.lost
	if err == nil && d.closed && !done {
		err = ErrClosed
	}

	d.mu.Unlock()

	// invoke callbacks without holding the lock
	for _, request := range resolved {
		if request.callback != nil {
			request.callback(gpu.MapStatusSuccess)
		}
	}

	return done, err
}

// resolveMapRequests must be called with the lock held.
func (d *Device) resolveMapRequests() []*mapRequest {
	var resolved []*mapRequest

	remaining := d.mapRequests[:0]
	for _, request := range d.mapRequests {
		if request.after > d.completed {
			remaining = append(remaining, request)
			continue
		}

		buf := request.buffer
		buf.state = gpu.MapStateMapped
		buf.mode = request.mode
		buf.mapOffset = request.offset
		buf.mapSize = request.size
		buf.request = nil

		resolved = append(resolved, request)
	}

	d.mapRequests = remaining

	return resolved
}

// enqueue must be called with the lock held.
func (d *Device) enqueue(ops []op) (gpu.SubmissionIndex, error) {
	if d.lost != nil {
		return 0, d.lost
	}

	if d.closed {
		return 0, ErrClosed
	}

	for _, op := range ops {
		for _, buf := range op.buffers() {
			if err := buf.usable(); err != nil {
				return 0, fmt.Errorf("submit: %w", err)
			}
		}
	}

	d.submitted++

	d.pending = append(d.pending, submission{
		index:     d.submitted,
		ops:       ops,
		submitted: time.Now(),
	})

	d.cond.Broadcast()

	return d.submitted, nil
}

func (d *Device) executor() {
	for {
		d.mu.Lock()
		for !d.closed && (d.paused || len(d.pending) == 0) {
			d.cond.Wait()
		}

		if d.closed {
			d.mu.Unlock()
			return
		}

		sub := d.pending[0]
		d.pending = d.pending[1:]
		lost := d.lost
		d.mu.Unlock()

		var err error
		if lost == nil {
			err = d.execute(sub)
		}

		if d.latency > 0 {
			time.Sleep(time.Until(sub.submitted.Add(d.latency)))
		}

		d.mu.Lock()
		if err != nil && d.lost == nil {
			d.logger.Warn("Submission failed, device is lost",
				slog.Uint64("submission", uint64(sub.index)),
				slog.Any("err", err),
			)

			d.lost = fmt.Errorf("%w: %w", gpu.ErrDeviceLost, err)
		}

		d.completed = sub.index
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *Device) execute(sub submission) error {
	for _, op := range sub.ops {
		if err := op.execute(d); err != nil {
			return fmt.Errorf("execute submission %d: %w", sub.index, err)
		}
	}

	return nil
}

func (d *Device) dispatch(op dispatchOp) error {
	kernel := op.pipeline.kernel
	size := kernel.workgroupSize()

	bindings := make([][]byte, len(op.group.buffers))
	for idx, buf := range op.group.buffers {
		if buf != nil {
			bindings[idx] = buf.data
		}
	}

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))

	n := op.workgroups
	for z := range n[2] {
		for y := range n[1] {
			for x := range n[0] {
				workgroup := [3]uint32{x, y, z}
				eg.Go(func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("kernel %q panicked in workgroup %v: %v", op.pipeline.shader, workgroup, r)
						}
					}()

					inv := Invocation{
						WorkgroupID:   workgroup,
						NumWorkgroups: n,
						Bindings:      bindings,
					}

					for lz := range size[2] {
						for ly := range size[1] {
							for lx := range size[0] {
								inv.LocalID = [3]uint32{lx, ly, lz}
								inv.GlobalID = [3]uint32{
									workgroup[0]*size[0] + lx,
									workgroup[1]*size[1] + ly,
									workgroup[2]*size[2] + lz,
								}

								kernel.Run(&inv)
							}
						}
					}

					return nil
				})
			}
		}
	}

	return eg.Wait()
}

type Queue struct {
	dev *Device
}

func (q *Queue) Submit(commands ...gpu.CommandBuffer) (gpu.SubmissionIndex, error) {
	var ops []op
	for _, cmd := range commands {
		buf, ok := cmd.(*CommandBuffer)
		if !ok {
			return 0, fmt.Errorf("submit: command buffer of type %T is not supported", cmd)
		}

		ops = append(ops, buf.ops...)
	}

	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	return q.dev.enqueue(ops)
}

// WriteBuffer schedules the data to be written into the buffer. The write is
// ordered before any submission made after this call returns.
func (q *Queue) WriteBuffer(buffer gpu.Buffer, offset uint64, data []byte) error {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return fmt.Errorf("write buffer: %q is not a soft buffer", buffer.Label())
	}

	switch {
	case !buf.usage.Contains(gpu.BufferUsageCopyDst):
		return fmt.Errorf("write buffer %q: %w", buf.label, gpu.ErrMissingUsage)

	case offset%4 != 0 || len(data)%4 != 0:
		return fmt.Errorf("write buffer %q: %w", buf.label, gpu.ErrCopyAlignment)

	case offset+uint64(len(data)) > buf.Size():
		return fmt.Errorf("write buffer %q: %d bytes at offset %d exceed size %d",
			buf.label, len(data), offset, buf.Size())
	}

	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	_, err := q.dev.enqueue([]op{writeOp{
		dst:    buf,
		offset: offset,
		data:   append([]byte(nil), data...),
	}})

	return err
}
