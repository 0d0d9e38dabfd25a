package pulse

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/appcompute/gpu"
)

type CommandEncoder struct {
	label   string
	encoder *wgpu.CommandEncoder
}

var _ gpu.CommandEncoder = (*CommandEncoder)(nil)

func (c *CommandEncoder) BeginComputePass(label string) gpu.ComputePass {
	pass := c.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	return &ComputePass{pass: pass}
}

func (c *CommandEncoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) error {
	if srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0 {
		return gpu.ErrCopyAlignment
	}

	source, err := unwrapBuffer(src)
	if err != nil {
		return err
	}

	destination, err := unwrapBuffer(dst)
	if err != nil {
		return err
	}

	if err := c.encoder.CopyBufferToBuffer(source, srcOffset, destination, dstOffset, size); err != nil {
		return fmt.Errorf("copy %q to %q: %w", src.Label(), dst.Label(), err)
	}

	return nil
}

func (c *CommandEncoder) Finish() (gpu.CommandBuffer, error) {
	// an encoder cannot be used after finish
	defer c.Release()

	buffer, err := c.encoder.Finish(&wgpu.CommandBufferDescriptor{Label: c.label})
	if err != nil {
		return nil, fmt.Errorf("finish %q: %w", c.label, err)
	}

	return &CommandBuffer{buffer: buffer}, nil
}

func (c *CommandEncoder) Release() {
	if c.encoder != nil {
		c.encoder.Release()
		c.encoder = nil
	}
}

type ComputePass struct {
	pass *wgpu.ComputePassEncoder
}

var _ gpu.ComputePass = (*ComputePass)(nil)

func (p *ComputePass) SetPipeline(pipeline gpu.Pipeline) {
	p.pass.SetPipeline(pipeline.(*Pipeline).pipeline)
}

func (p *ComputePass) SetBindGroup(index uint32, group gpu.BindGroup) {
	p.pass.SetBindGroup(index, group.(*BindGroup).group, nil)
}

func (p *ComputePass) DispatchWorkgroups(x, y, z uint32) {
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *ComputePass) End() error {
	defer p.pass.Release()

	if err := p.pass.End(); err != nil {
		return fmt.Errorf("end compute pass: %w", err)
	}

	return nil
}

type CommandBuffer struct {
	buffer *wgpu.CommandBuffer
}

func (c *CommandBuffer) Release() {
	if c.buffer != nil {
		c.buffer.Release()
		c.buffer = nil
	}
}

// Queue implements gpu.Queue.
type Queue struct {
	ctx *Context
}

var _ gpu.Queue = (*Queue)(nil)

func (q *Queue) Submit(commands ...gpu.CommandBuffer) (gpu.SubmissionIndex, error) {
	if q.ctx.Queue == nil {
		return 0, gpu.ErrDeviceLost
	}

	buffers := make([]*wgpu.CommandBuffer, 0, len(commands))
	for _, command := range commands {
		cb, ok := command.(*CommandBuffer)
		if !ok || cb.buffer == nil {
			return 0, errors.New("command buffer was not created by a pulse device")
		}

		buffers = append(buffers, cb.buffer)
	}

	index := q.ctx.Queue.Submit(buffers...)

	return gpu.SubmissionIndex(index), nil
}

func (q *Queue) WriteBuffer(buffer gpu.Buffer, offset uint64, data []byte) error {
	if offset%4 != 0 || len(data)%4 != 0 {
		return gpu.ErrCopyAlignment
	}

	target, err := unwrapBuffer(buffer)
	if err != nil {
		return err
	}

	if err := q.ctx.Queue.WriteBuffer(target, offset, data); err != nil {
		return fmt.Errorf("write %q: %w", buffer.Label(), err)
	}

	return nil
}
