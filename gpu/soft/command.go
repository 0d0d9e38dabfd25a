package soft

import (
	"errors"
	"fmt"

	"github.com/oliverbestmann/appcompute/gpu"
)

var ErrEncoderFinished = errors.New("soft: command encoder already finished")

type Pipeline struct {
	label  string
	shader string
	kernel Kernel
}

func (p *Pipeline) Label() string {
	return p.label
}

func (p *Pipeline) Release() {}

type BindGroup struct {
	pipeline *Pipeline
	buffers  []*Buffer
}

func (g *BindGroup) Release() {}

type op interface {
	buffers() []*Buffer
	execute(dev *Device) error
}

type copyOp struct {
	src, dst             *Buffer
	srcOffset, dstOffset uint64
	size                 uint64
}

func (c copyOp) buffers() []*Buffer {
	return []*Buffer{c.src, c.dst}
}

func (c copyOp) execute(*Device) error {
	copy(
		c.dst.data[c.dstOffset:c.dstOffset+c.size],
		c.src.data[c.srcOffset:c.srcOffset+c.size],
	)

	return nil
}

type writeOp struct {
	dst    *Buffer
	offset uint64
	data   []byte
}

func (w writeOp) buffers() []*Buffer {
	return []*Buffer{w.dst}
}

func (w writeOp) execute(*Device) error {
	copy(w.dst.data[w.offset:], w.data)
	return nil
}

type dispatchOp struct {
	pipeline   *Pipeline
	group      *BindGroup
	workgroups [3]uint32
}

func (d dispatchOp) buffers() []*Buffer {
	var result []*Buffer
	for _, buf := range d.group.buffers {
		if buf != nil {
			result = append(result, buf)
		}
	}

	return result
}

func (d dispatchOp) execute(dev *Device) error {
	return dev.dispatch(d)
}

type CommandBuffer struct {
	ops []op
}

func (c *CommandBuffer) Release() {}

type CommandEncoder struct {
	label    string
	ops      []op
	finished bool
	err      error
}

var _ gpu.CommandEncoder = (*CommandEncoder)(nil)

func (e *CommandEncoder) BeginComputePass(label string) gpu.ComputePass {
	return &ComputePass{encoder: e, label: label}
}

func (e *CommandEncoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) error {
	if e.finished {
		return ErrEncoderFinished
	}

	srcBuf, ok := src.(*Buffer)
	if !ok {
		return fmt.Errorf("copy: source %q is not a soft buffer", src.Label())
	}

	dstBuf, ok := dst.(*Buffer)
	if !ok {
		return fmt.Errorf("copy: destination %q is not a soft buffer", dst.Label())
	}

	switch {
	case srcBuf == dstBuf:
		return fmt.Errorf("copy %q onto itself: %w", srcBuf.label, gpu.ErrInvalidUsage)

	case !srcBuf.usage.Contains(gpu.BufferUsageCopySrc):
		return fmt.Errorf("copy from %q: %w", srcBuf.label, gpu.ErrMissingUsage)

	case !dstBuf.usage.Contains(gpu.BufferUsageCopyDst):
		return fmt.Errorf("copy to %q: %w", dstBuf.label, gpu.ErrMissingUsage)

	case srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0:
		return fmt.Errorf("copy %q to %q: %w", srcBuf.label, dstBuf.label, gpu.ErrCopyAlignment)

	case srcOffset+size > srcBuf.Size() || dstOffset+size > dstBuf.Size():
		return fmt.Errorf("copy %q to %q: %d bytes out of bounds", srcBuf.label, dstBuf.label, size)
	}

	e.ops = append(e.ops, copyOp{
		src:       srcBuf,
		dst:       dstBuf,
		srcOffset: srcOffset,
		dstOffset: dstOffset,
		size:      size,
	})

	return nil
}

func (e *CommandEncoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, ErrEncoderFinished
	}

	e.finished = true

	if e.err != nil {
		return nil, fmt.Errorf("finish %q: %w", e.label, e.err)
	}

	return &CommandBuffer{ops: e.ops}, nil
}

func (e *CommandEncoder) Release() {
	e.finished = true
	e.ops = nil
}

type ComputePass struct {
	encoder  *CommandEncoder
	label    string
	pipeline *Pipeline
	group    *BindGroup
	ended    bool
}

func (p *ComputePass) SetPipeline(pipeline gpu.Pipeline) {
	pl, ok := pipeline.(*Pipeline)
	if !ok {
		p.fail(fmt.Errorf("pass %q: pipeline %q is not a soft pipeline", p.label, pipeline.Label()))
		return
	}

	p.pipeline = pl
}

func (p *ComputePass) SetBindGroup(index uint32, group gpu.BindGroup) {
	if index != 0 {
		p.fail(fmt.Errorf("pass %q: only bind group 0 is supported, got %d", p.label, index))
		return
	}

	bg, ok := group.(*BindGroup)
	if !ok {
		p.fail(fmt.Errorf("pass %q: bind group is not a soft bind group", p.label))
		return
	}

	p.group = bg
}

func (p *ComputePass) DispatchWorkgroups(x, y, z uint32) {
	if p.pipeline == nil {
		p.fail(fmt.Errorf("pass %q: dispatch without pipeline", p.label))
		return
	}

	group := p.group
	if group == nil {
		group = &BindGroup{pipeline: p.pipeline}
	}

	p.encoder.ops = append(p.encoder.ops, dispatchOp{
		pipeline:   p.pipeline,
		group:      group,
		workgroups: [3]uint32{x, y, z},
	})
}

func (p *ComputePass) End() error {
	if p.ended {
		return fmt.Errorf("pass %q already ended", p.label)
	}

	p.ended = true
	return p.encoder.err
}

func (p *ComputePass) fail(err error) {
	if p.encoder.err == nil {
		p.encoder.err = err
	}
}
