package compute

import (
	"github.com/gogpu/gputypes"
	"github.com/oliverbestmann/appcompute/pipeline"
)

// ShaderSource points to the WGSL source of a shader. If Code is set, it is
// used directly, otherwise the source is loaded from Path.
type ShaderSource struct {
	Path string
	Code string
}

// key is the name the source is registered under in the pipeline cache.
func (s ShaderSource) key(identity string) string {
	if s.Code == "" && s.Path != "" {
		return s.Path
	}

	return identity
}

// ComputeShader describes a compute shader used by a pass. Implementations
// may additionally implement EntryPointer, ShaderDefiner and LayoutProvider.
type ComputeShader interface {
	// Identity is a stable key for the shader program. Passes using the same
	// identity share a pipeline.
	Identity() string
	Source() ShaderSource
}

type EntryPointer interface {
	EntryPoint() string
}

type ShaderDefiner interface {
	ShaderDefs() []pipeline.ShaderDef
}

type LayoutProvider interface {
	Layout() []gputypes.BindGroupLayoutEntry
}

// Shader is a ComputeShader described by plain values.
type Shader struct {
	// Name defaults to Path.
	Name string

	Path string
	Code string

	// Entry defaults to "main".
	Entry string

	Defs     []pipeline.ShaderDef
	Bindings []gputypes.BindGroupLayoutEntry
}

// ShaderFromFile returns a shader loaded from the given path.
func ShaderFromFile(path string) Shader {
	return Shader{Path: path}
}

func (s Shader) Identity() string {
	if s.Name != "" {
		return s.Name
	}

	return s.Path
}

func (s Shader) Source() ShaderSource {
	return ShaderSource{Path: s.Path, Code: s.Code}
}

func (s Shader) EntryPoint() string {
	if s.Entry != "" {
		return s.Entry
	}

	return "main"
}

func (s Shader) ShaderDefs() []pipeline.ShaderDef {
	return s.Defs
}

func (s Shader) Layout() []gputypes.BindGroupLayoutEntry {
	return s.Bindings
}

func descriptorOf(shader ComputeShader) pipeline.Descriptor {
	desc := pipeline.Descriptor{
		Label:      shader.Identity(),
		Shader:     shader.Source().key(shader.Identity()),
		EntryPoint: "main",
	}

	if ep, ok := shader.(EntryPointer); ok {
		desc.EntryPoint = ep.EntryPoint()
	}

	if sd, ok := shader.(ShaderDefiner); ok {
		desc.ShaderDefs = sd.ShaderDefs()
	}

	if lp, ok := shader.(LayoutProvider); ok {
		desc.Layout = lp.Layout()
	}

	return desc
}
