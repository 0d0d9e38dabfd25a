package pulse

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gputypes"
	"github.com/hashicorp/golang-lru/v2"
	"github.com/oliverbestmann/appcompute/gpu"
)

// Pipeline is a compute pipeline together with the bind group layouts
// requested from it so far.
type Pipeline struct {
	label      string
	pipeline   *wgpu.ComputePipeline
	bindGroups *lru.Cache[uint32, *wgpu.BindGroupLayout]
}

var _ gpu.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Label() string {
	return p.label
}

func (p *Pipeline) GetBindGroupLayout(idx uint32) *wgpu.BindGroupLayout {
	bindGroup, ok := p.bindGroups.Get(idx)
	if ok {
		return bindGroup
	}

	bindGroup = p.pipeline.GetBindGroupLayout(idx)
	p.bindGroups.Add(idx, bindGroup)

	return bindGroup
}

func (p *Pipeline) Release() {
	if p.pipeline == nil {
		return
	}

	p.bindGroups.Purge()
	p.pipeline.Release()
	p.pipeline = nil
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDescriptor) (gpu.Pipeline, error) {
	module, err := d.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Code,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("compile shader %q: %w", desc.Shader, err)
	}

	// the pipeline keeps its own reference to the module
	defer module.Release()

	var pipelineLayout *wgpu.PipelineLayout
	if len(desc.Layout) > 0 {
		pipelineLayout, err = d.createPipelineLayout(desc.Label, desc.Layout)
		if err != nil {
			return nil, err
		}

		defer pipelineLayout.Release()
	}

	pipeline, err := d.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("create pipeline %q: %w", desc.Label, err)
	}

	bindGroups, _ := lru.NewWithEvict[uint32, *wgpu.BindGroupLayout](4, releaseBindGroupLayoutOnEviction)

	return &Pipeline{
		label:      desc.Label,
		pipeline:   pipeline,
		bindGroups: bindGroups,
	}, nil
}

func (d *Device) createPipelineLayout(label string, entries []gputypes.BindGroupLayoutEntry) (*wgpu.PipelineLayout, error) {
	layoutEntries, err := bindGroupLayoutEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("layout of %q: %w", label, err)
	}

	bindGroupLayout, err := d.ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: layoutEntries,
	})

	if err != nil {
		return nil, fmt.Errorf("create bind group layout %q: %w", label, err)
	}

	defer bindGroupLayout.Release()

	pipelineLayout, err := d.ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindGroupLayout},
	})

	if err != nil {
		return nil, fmt.Errorf("create pipeline layout %q: %w", label, err)
	}

	return pipelineLayout, nil
}

func bindGroupLayoutEntries(entries []gputypes.BindGroupLayoutEntry) ([]wgpu.BindGroupLayoutEntry, error) {
	result := make([]wgpu.BindGroupLayoutEntry, 0, len(entries))

	for _, entry := range entries {
		if entry.Buffer == nil {
			return nil, fmt.Errorf("binding %d: only buffer bindings are supported", entry.Binding)
		}

		typ, err := bufferBindingType(entry.Buffer.Type)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", entry.Binding, err)
		}

		result = append(result, wgpu.BindGroupLayoutEntry{
			Binding:    entry.Binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: wgpu.BufferBindingLayout{
				Type:             typ,
				HasDynamicOffset: entry.Buffer.HasDynamicOffset,
				MinBindingSize:   entry.Buffer.MinBindingSize,
			},
		})
	}

	return result, nil
}

func bufferBindingType(typ gputypes.BufferBindingType) (wgpu.BufferBindingType, error) {
	switch typ {
	case gputypes.BufferBindingTypeUniform:
		return wgpu.BufferBindingTypeUniform, nil
	case gputypes.BufferBindingTypeStorage:
		return wgpu.BufferBindingTypeStorage, nil
	case gputypes.BufferBindingTypeReadOnlyStorage:
		return wgpu.BufferBindingTypeReadOnlyStorage, nil
	default:
		return 0, fmt.Errorf("unsupported buffer binding type %v", typ)
	}
}

func releaseBindGroupLayoutOnEviction(_ uint32, ev *wgpu.BindGroupLayout) {
	ev.Release()
}

type BindGroup struct {
	group *wgpu.BindGroup
}

func (b *BindGroup) Release() {
	if b.group != nil {
		b.group.Release()
		b.group = nil
	}
}

func (d *Device) CreateBindGroup(pipeline gpu.Pipeline, group uint32, entries []gpu.BindEntry) (gpu.BindGroup, error) {
	p, ok := pipeline.(*Pipeline)
	if !ok || p.pipeline == nil {
		return nil, fmt.Errorf("pipeline %q was not created by a pulse device", pipeline.Label())
	}

	bindEntries := make([]wgpu.BindGroupEntry, 0, len(entries))
	for _, entry := range entries {
		buffer, err := unwrapBuffer(entry.Buffer)
		if err != nil {
			return nil, err
		}

		bindEntries = append(bindEntries, wgpu.BindGroupEntry{
			Binding: entry.Binding,
			Buffer:  buffer,
			Size:    wgpu.WholeSize,
		})
	}

	bindGroup, err := d.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   p.label,
		Layout:  p.GetBindGroupLayout(group),
		Entries: bindEntries,
	})

	if err != nil {
		return nil, fmt.Errorf("create bind group for %q: %w", p.label, err)
	}

	return &BindGroup{group: bindGroup}, nil
}
