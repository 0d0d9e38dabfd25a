package compute

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/orion"
	"github.com/oliverbestmann/appcompute/pipeline"
)

// polling describes how long a submission may run before the worker blocks
// on the device.
type polling struct {
	maxAsync  time.Duration
	unbounded bool
}

func (p polling) wait(elapsed time.Duration) bool {
	return !p.unbounded && elapsed >= p.maxAsync
}

type pipelineSlot struct {
	id       pipeline.ID
	pipeline gpu.Pipeline
}

// Worker owns a set of named buffers and executes a fixed sequence of
// compute passes and buffer swaps on them, once per tick.
//
// A worker must only be used from a single goroutine.
type Worker struct {
	name    string
	device  gpu.Device
	queue   gpu.Queue
	cache   *pipeline.Cache
	logger  *slog.Logger
	metrics *Metrics

	buffers      map[string]slot
	staging      map[string]*stagingPair
	stagingOrder []string
	steps        []Step
	pipelines    map[string]*pipelineSlot
	encoder      gpu.CommandEncoder

	state   WorkerState
	runMode RunMode
	armed   bool
	polling polling

	submission   gpu.SubmissionIndex
	submittedAt  time.Time
	deviceDone   bool
	mapStatus    chan gpu.MapStatus
	expectedMaps int
	receivedMaps int
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) State() WorkerState {
	return w.state
}

// Ready reports whether the results of the last run can be read.
func (w *Worker) Ready() bool {
	return w.state == StateFinishedWorking
}

func (w *Worker) RunMode() RunMode {
	return w.runMode
}

// Execute arms a OneShot worker so it runs once during the next tick.
// Calls while a submission is in flight are ignored.
func (w *Worker) Execute() {
	if w.runMode != OneShot || w.state == StateWorking {
		return
	}

	w.armed = true
}

func (w *Worker) disarmed() bool {
	return w.runMode == OneShot && !w.armed
}

func (w *Worker) readyToExecute() bool {
	return w.state != StateWorking && !w.disarmed()
}

func (w *Worker) setState(state WorkerState) {
	if w.state == state {
		return
	}

	w.logger.Debug("Worker state changed",
		slog.String("worker", w.name),
		slog.String("from", w.state.String()),
		slog.String("to", state.String()),
	)

	w.state = state
	w.metrics.observeState(w.name, state)
}

// Tick runs the unmap phase, the run cycle and refreshes the pipelines,
// in the same order the WorkerPlugin uses. A pipeline that is not ready
// yet is not reported as an error.
func (w *Worker) Tick() error {
	if err := w.UnmapAll(); err != nil {
		return err
	}

	if err := w.Run(); err != nil && !IsRecoverable(err) {
		return err
	}

	w.RefreshPipelines()

	return nil
}

// UnmapAll unmaps the staging read buffers mapped by the previous run. It does
// nothing while a submission is in flight or a OneShot worker is not armed.
func (w *Worker) UnmapAll() error {
	if !w.readyToExecute() {
		return nil
	}

	return w.unmapReadBuffers()
}

func (w *Worker) unmapReadBuffers() error {
	for _, name := range w.stagingOrder {
		pair := w.staging[name]

		if pair.readMapped {
			if err := pair.read.Unmap(); err != nil {
				return fmt.Errorf("%w: %q: %w", ErrStagingBufferMapped, name, err)
			}

			pair.readMapped = false
		}
	}

	return nil
}

// Run executes one cycle of the worker. ErrPipelineNotReady aborts the cycle
// without changing the state, it is retried during the next call.
func (w *Worker) Run() error {
	switch w.state {
	case StateCreated, StateFinishedWorking:
		w.setState(StateAvailable)
	}

	if w.readyToExecute() {
		if err := w.execute(); err != nil {
			if errors.Is(err, ErrPipelineNotReady) {
				w.metrics.observeRun(w.name, "not_ready")
				w.metrics.observeNotReady(w.name)
			} else {
				w.metrics.observeRun(w.name, "failed")
			}

			return err
		}

		w.metrics.observeRun(w.name, "submitted")
	}

	if w.disarmed() {
		return nil
	}

	return w.poll()
}

// MustRun is like Run but panics on unrecoverable errors.
func (w *Worker) MustRun() {
	err := w.Run()
	if IsRecoverable(err) {
		return
	}

	orion.Handle(err, "run worker %q", w.name)
}

// RefreshPipelines pulls newly compiled pipelines from the cache. A pipeline
// that was recompiled after a shader change replaces the previous one.
func (w *Worker) RefreshPipelines() {
	for shader, entry := range w.pipelines {
		compiled, ok := w.cache.Get(entry.id)
		if !ok || compiled == entry.pipeline {
			continue
		}

		w.logger.Debug("Pipeline available",
			slog.String("worker", w.name),
			slog.String("shader", shader),
		)

		entry.pipeline = compiled
	}
}

func (w *Worker) pipelineOf(shader string) (gpu.Pipeline, error) {
	entry, ok := w.pipelines[shader]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPipelinesEmpty, shader)
	}

	if entry.pipeline == nil {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotReady, shader)
	}

	return entry.pipeline, nil
}

// execute records the write copies, all steps and the staging copies into
// one command buffer, submits it and requests the staging buffers to be mapped.
func (w *Worker) execute() error {
	if w.encoder == nil {
		return ErrEncoderIsNone
	}

	// fail before recording anything, so a missing pipeline never causes
	// a step to be applied twice
	for _, step := range w.steps {
		if dispatch, ok := step.(Dispatch); ok {
			if _, err := w.pipelineOf(dispatch.Shader); err != nil {
				return err
			}
		}
	}

	// a OneShot worker armed after the unmap phase still holds the
	// results of its previous run
	if err := w.unmapReadBuffers(); err != nil {
		return err
	}

	slots, bindGroups, err := w.record()

	defer func() {
		for _, group := range bindGroups {
			group.Release()
		}
	}()

	if err != nil {
		w.resetEncoder()
		return err
	}

	cmd, err := w.encoder.Finish()
	w.encoder = nil

	if err != nil {
		w.resetEncoder()
		return fmt.Errorf("finish command encoder: %w", err)
	}

	defer cmd.Release()

	submission, err := w.queue.Submit(cmd)
	if err != nil {
		w.resetEncoder()
		return fmt.Errorf("submit: %w", err)
	}

	// commit swaps now that the commands are on their way
	w.buffers = slots

	w.submission = submission
	w.submittedAt = time.Now()
	w.deviceDone = false
	w.receivedMaps = 0
	w.expectedMaps = 0

	if err := w.mapStaging(); err != nil {
		return err
	}

	w.setState(StateWorking)

	return nil
}

func (w *Worker) record() (map[string]slot, []gpu.BindGroup, error) {
	encoder := w.encoder

	for _, name := range w.stagingOrder {
		pair := w.staging[name]
		if !pair.writePending {
			continue
		}

		target, ok := w.buffers[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrBufferNotFound, name)
		}

		// the write buffer stays mapped until its contents are needed, so
		// writes between ticks can always be staged
		if pair.writeMapped {
			if err := pair.write.Unmap(); err != nil {
				return nil, nil, fmt.Errorf("unmap staging write buffer %q: %w", name, err)
			}

			pair.writeMapped = false
		}

		size := min(pair.writeLen, target.buffer.Size())
		if err := encoder.CopyBufferToBuffer(pair.write, 0, target.buffer, 0, size); err != nil {
			return nil, nil, fmt.Errorf("copy staged write into %q: %w", name, err)
		}
	}

	// swaps are applied to a copy of the registry, it replaces the
	// registry only after the submission succeeded
	slots := maps.Clone(w.buffers)

	var bindGroups []gpu.BindGroup

	for idx := 0; idx < len(w.steps); idx++ {
		switch step := w.steps[idx].(type) {
		case Dispatch:
			group, err := w.recordDispatch(encoder, slots, step)
			if err != nil {
				return nil, bindGroups, fmt.Errorf("step %d: %w", idx, err)
			}

			bindGroups = append(bindGroups, group)

		case Swap:
			if err := swapSlots(slots, step); err != nil {
				return nil, bindGroups, fmt.Errorf("step %d: %w", idx, err)
			}

		default:
			return nil, bindGroups, fmt.Errorf("step %d: %w: %T", idx, ErrInvalidStep, step)
		}
	}

	for _, name := range w.stagingOrder {
		pair := w.staging[name]

		source, ok := slots[name]
		if !ok {
			return nil, bindGroups, fmt.Errorf("%w: %q", ErrBufferNotFound, name)
		}

		size := min(source.buffer.Size(), pair.read.Size())
		if err := encoder.CopyBufferToBuffer(source.buffer, 0, pair.read, 0, size); err != nil {
			return nil, bindGroups, fmt.Errorf("copy %q into staging buffer: %w", name, err)
		}
	}

	return slots, bindGroups, nil
}

func (w *Worker) recordDispatch(encoder gpu.CommandEncoder, slots map[string]slot, step Dispatch) (gpu.BindGroup, error) {
	compiled, err := w.pipelineOf(step.Shader)
	if err != nil {
		return nil, err
	}

	entries := make([]gpu.BindEntry, 0, len(step.Vars))
	for binding, name := range step.Vars {
		target, ok := slots[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBufferNotFound, name)
		}

		entries = append(entries, gpu.BindEntry{Binding: uint32(binding), Buffer: target.buffer})
	}

	group, err := w.device.CreateBindGroup(compiled, 0, entries)
	if err != nil {
		return nil, fmt.Errorf("create bind group for %q: %w", step.Shader, err)
	}

	pass := encoder.BeginComputePass(step.Shader)
	pass.SetPipeline(compiled)
	pass.SetBindGroup(0, group)
	pass.DispatchWorkgroups(step.Workgroups[0], step.Workgroups[1], step.Workgroups[2])

	if err := pass.End(); err != nil {
		group.Release()
		return nil, fmt.Errorf("dispatch %q: %w", step.Shader, err)
	}

	return group, nil
}

func swapSlots(slots map[string]slot, swap Swap) error {
	a, ok := slots[swap.A]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBufferNotFound, swap.A)
	}

	b, ok := slots[swap.B]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBufferNotFound, swap.B)
	}

	// only the allocations move, each name keeps its kind
	a.buffer, b.buffer = b.buffer, a.buffer
	slots[swap.A], slots[swap.B] = a, b

	return nil
}

func (w *Worker) mapStaging() error {
	var count int
	for _, pair := range w.staging {
		count++
		if pair.writeUnmapped() {
			count++
		}
	}

	// the callbacks only report their status, buffers are touched
	// exclusively from within poll
	statuses := make(chan gpu.MapStatus, count)
	w.mapStatus = statuses

	onMapped := func(status gpu.MapStatus) {
		statuses <- status
	}

	for _, name := range w.stagingOrder {
		pair := w.staging[name]

		if err := pair.read.MapAsync(gpu.MapModeRead, 0, pair.read.Size(), onMapped); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrMapFailed, name, err)
		}

		w.expectedMaps++

		if pair.writeUnmapped() {
			if err := pair.write.MapAsync(gpu.MapModeWrite, 0, pair.write.Size(), onMapped); err != nil {
				return fmt.Errorf("%w: %q: %w", ErrMapFailed, name, err)
			}

			w.expectedMaps++

			pair.clearStaged()
			pair.writeInFlight = true
		}
	}

	return nil
}

func (w *Worker) poll() error {
	if w.state != StateWorking {
		return nil
	}

	wait := w.polling.wait(time.Since(w.submittedAt))

	start := time.Now()
	done, err := w.device.Poll(wait && !w.deviceDone, w.submission)
	w.metrics.observePoll(w.name, wait, time.Since(start))

	if err != nil {
		return fmt.Errorf("poll device: %w", err)
	}

	w.deviceDone = w.deviceDone || done

	if err := w.collectMapStatus(); err != nil {
		return err
	}

	if !w.deviceDone || w.receivedMaps < w.expectedMaps {
		return nil
	}

	for _, pair := range w.staging {
		pair.readMapped = true

		if pair.writeInFlight {
			pair.writeInFlight = false
			pair.writeMapped = true
		}
	}

	w.metrics.observeSubmission(w.name, time.Since(w.submittedAt))

	w.setState(StateFinishedWorking)

	if err := w.resetEncoder(); err != nil {
		return err
	}

	if w.runMode == OneShot {
		w.armed = false
	}

	return nil
}

func (w *Worker) collectMapStatus() error {
	for {
		select {
		case status := <-w.mapStatus:
			if err := status.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrMapFailed, err)
			}

			w.receivedMaps++

		default:
			return nil
		}
	}
}

func (w *Worker) resetEncoder() error {
	if w.encoder != nil {
		w.encoder.Release()
	}

	encoder, err := w.device.CreateCommandEncoder(w.name)
	if err != nil {
		w.encoder = nil
		return fmt.Errorf("create command encoder: %w", err)
	}

	w.encoder = encoder
	return nil
}

// Release frees all device resources of the worker.
func (w *Worker) Release() {
	for _, pair := range w.staging {
		pair.release()
	}

	for _, target := range w.buffers {
		target.buffer.Release()
	}

	if w.encoder != nil {
		w.encoder.Release()
		w.encoder = nil
	}

	w.buffers = nil
	w.staging = nil
}
