// Package gpu describes the subset of a WebGPU device the compute layer needs.
// Two implementations exist: the software device in gpu/soft and the
// wgpu backed device in pulse.
package gpu

import (
	"github.com/gogpu/gputypes"
)

type BufferUsage = gputypes.BufferUsage

type MapMode = gputypes.MapMode

const (
	BufferUsageMapRead  = gputypes.BufferUsageMapRead
	BufferUsageMapWrite = gputypes.BufferUsageMapWrite
	BufferUsageCopySrc  = gputypes.BufferUsageCopySrc
	BufferUsageCopyDst  = gputypes.BufferUsageCopyDst
	BufferUsageUniform  = gputypes.BufferUsageUniform
	BufferUsageStorage  = gputypes.BufferUsageStorage

	MapModeRead  = gputypes.MapModeRead
	MapModeWrite = gputypes.MapModeWrite
)

// SubmissionIndex identifies a batch of command buffers submitted to a queue.
type SubmissionIndex uint64

type BufferDescriptor struct {
	Label            string
	Size             uint64
	Usage            BufferUsage
	MappedAtCreation bool
}

type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage
	MapState() MapState

	// MapAsync requests the given range to be mapped. The callback is invoked
	// from within Device.Poll or Queue.Submit once the mapping resolved.
	MapAsync(mode MapMode, offset, size uint64, callback func(MapStatus)) error

	// MappedRange returns a view into the mapped memory. The slice is only valid
	// until the buffer is unmapped.
	MappedRange(offset, size uint64) ([]byte, error)

	Unmap() error
	Release()
}

type Pipeline interface {
	Label() string
	Release()
}

type BindGroup interface {
	Release()
}

type BindEntry struct {
	Binding uint32
	Buffer  Buffer
}

type ComputePipelineDescriptor struct {
	Label string

	// Shader identifies the shader program, e.g. the path it was loaded from.
	Shader string

	// Code is the final WGSL source after preprocessing.
	Code string

	EntryPoint string

	// Layout of bind group zero. If empty, the layout is derived from the shader.
	Layout []gputypes.BindGroupLayoutEntry
}

type CommandBuffer interface {
	Release()
}

type ComputePass interface {
	SetPipeline(pipeline Pipeline)
	SetBindGroup(index uint32, group BindGroup)
	DispatchWorkgroups(x, y, z uint32)
	End() error
}

type CommandEncoder interface {
	BeginComputePass(label string) ComputePass
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) error
	Finish() (CommandBuffer, error)
	Release()
}

type Queue interface {
	Submit(commands ...CommandBuffer) (SubmissionIndex, error)
	WriteBuffer(buffer Buffer, offset uint64, data []byte) error
}

type Device interface {
	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	CreateBufferInit(label string, usage BufferUsage, contents []byte) (Buffer, error)
	CreateComputePipeline(desc ComputePipelineDescriptor) (Pipeline, error)
	CreateBindGroup(pipeline Pipeline, group uint32, entries []BindEntry) (BindGroup, error)
	CreateCommandEncoder(label string) (CommandEncoder, error)
	Queue() Queue

	// Poll processes finished work and invokes pending map callbacks.
	// It reports whether the given submission has completed. If wait is true,
	// Poll blocks until it did.
	Poll(wait bool, index SubmissionIndex) (bool, error)
}

// ValidateUsage checks the combination rules WebGPU imposes on mappable buffers.
func ValidateUsage(usage BufferUsage) error {
	if usage == 0 {
		return ErrInvalidUsage
	}

	if usage.Contains(BufferUsageMapRead) && usage&^(BufferUsageMapRead|BufferUsageCopyDst) != 0 {
		return ErrInvalidUsage
	}

	if usage.Contains(BufferUsageMapWrite) && usage&^(BufferUsageMapWrite|BufferUsageCopySrc) != 0 {
		return ErrInvalidUsage
	}

	return nil
}
