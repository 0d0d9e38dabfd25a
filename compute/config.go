package compute

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/oliverbestmann/appcompute/layout"
	"github.com/oliverbestmann/appcompute/pipeline"
	"gopkg.in/yaml.v3"
)

// WorkerConfig describes a worker in YAML:
//
//	name: multipass
//	mode: continuous
//	polling: sync
//	buffers:
//	  - {name: value, kind: uniform, f32: [3]}
//	  - {name: input, kind: storage, f32: [1, 2, 3, 4]}
//	  - {name: output, kind: staging, size: 16}
//	steps:
//	  - {shader: shaders/add.wgsl, workgroups: [4, 1, 1], vars: [value, input, output]}
//	  - {shader: shaders/square.wgsl, workgroups: [4, 1, 1], vars: [output]}
type WorkerConfig struct {
	Name    string        `yaml:"name"`
	Mode    string        `yaml:"mode"`
	Polling string        `yaml:"polling"`
	MaxWait time.Duration `yaml:"max_async"`

	Buffers []BufferConfig `yaml:"buffers"`
	Steps   []StepConfig   `yaml:"steps"`
}

type BufferConfig struct {
	Name string `yaml:"name"`

	// Kind is one of uniform, storage, rw_storage or staging.
	Kind string `yaml:"kind"`

	// At most one of the value lists may be set. Without values, a zero
	// filled buffer of Size bytes is created.
	F32  []float32 `yaml:"f32,omitempty"`
	U32  []uint32  `yaml:"u32,omitempty"`
	I32  []int32   `yaml:"i32,omitempty"`
	Size uint64    `yaml:"size,omitempty"`
}

// StepConfig is either a pass, if Shader is set, or a swap.
type StepConfig struct {
	Shader     string            `yaml:"shader,omitempty"`
	Entry      string            `yaml:"entry,omitempty"`
	Workgroups []uint32          `yaml:"workgroups,omitempty"`
	Vars       []string          `yaml:"vars,omitempty"`
	Defs       map[string]string `yaml:"defs,omitempty"`

	Swap []string `yaml:"swap,omitempty"`
}

// LoadWorkerConfig parses and validates a YAML worker description.
func LoadWorkerConfig(r io.Reader) (WorkerConfig, error) {
	var config WorkerConfig

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&config); err != nil {
		return WorkerConfig{}, fmt.Errorf("decode worker config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return WorkerConfig{}, err
	}

	return config, nil
}

func (c WorkerConfig) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	switch c.Mode {
	case "", "continuous", "oneshot":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.Polling {
	case "", "sync", "async", "unbounded":
	default:
		errs = append(errs, fmt.Errorf("unknown polling %q", c.Polling))
	}

	for idx, buffer := range c.Buffers {
		if buffer.Name == "" {
			errs = append(errs, fmt.Errorf("buffer %d: name is required", idx))
		}

		if _, _, err := buffer.kind(); err != nil {
			errs = append(errs, fmt.Errorf("buffer %q: %w", buffer.Name, err))
		}

		var lists int
		for _, present := range []bool{buffer.F32 != nil, buffer.U32 != nil, buffer.I32 != nil} {
			if present {
				lists++
			}
		}

		if lists > 1 {
			errs = append(errs, fmt.Errorf("buffer %q: only one of f32, u32 and i32 may be set", buffer.Name))
		}

		if lists == 0 && buffer.Size == 0 {
			errs = append(errs, fmt.Errorf("buffer %q: either values or size is required", buffer.Name))
		}
	}

	for idx, step := range c.Steps {
		switch {
		case step.Shader != "" && step.Swap != nil:
			errs = append(errs, fmt.Errorf("step %d: shader and swap are exclusive", idx))

		case step.Shader != "":
			if len(step.Workgroups) == 0 || len(step.Workgroups) > 3 {
				errs = append(errs, fmt.Errorf("step %d: expected one to three workgroup counts", idx))
			}

		case len(step.Swap) != 2:
			errs = append(errs, fmt.Errorf("step %d: swap requires exactly two buffer names", idx))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}

	return nil
}

func (b BufferConfig) kind() (BufferKind, bool, error) {
	switch strings.ToLower(b.Kind) {
	case "uniform":
		return Uniform, false, nil
	case "storage":
		return Storage, false, nil
	case "rw_storage":
		return RWStorage, false, nil
	case "staging":
		return RWStorage, true, nil
	default:
		return 0, false, fmt.Errorf("unknown kind %q", b.Kind)
	}
}

func (b BufferConfig) bytes() []byte {
	switch {
	case b.F32 != nil:
		return layout.SliceAsBytes(b.F32)
	case b.U32 != nil:
		return layout.SliceAsBytes(b.U32)
	case b.I32 != nil:
		return layout.SliceAsBytes(b.I32)
	default:
		return nil
	}
}

// Shaders returns the shader paths referenced by the steps in order of
// first use.
func (c WorkerConfig) Shaders() []string {
	var paths []string
	for _, step := range c.Steps {
		if step.Shader != "" && !slices.Contains(paths, step.Shader) {
			paths = append(paths, step.Shader)
		}
	}

	return paths
}

// Apply declares the configured buffers and steps on the builder. Scalar
// values are packed tightly, they match a shader struct or array of 32 bit
// scalars.
func (c WorkerConfig) Apply(b *Builder) *Builder {
	switch c.Mode {
	case "oneshot":
		b.OneShot()
	default:
		b.Continuous()
	}

	switch c.Polling {
	case "async":
		b.Asynchronous(c.MaxWait)
	case "unbounded":
		b.AsynchronousUnbounded()
	default:
		b.Synchronous()
	}

	for _, buffer := range c.Buffers {
		kind, staging, err := buffer.kind()
		if err != nil {
			b.fail(fmt.Errorf("buffer %q: %w", buffer.Name, err))
			continue
		}

		data := buffer.bytes()
		if data == nil {
			b.addEmptyBuffer(buffer.Name, kind, buffer.Size)
		} else {
			b.addBytes(buffer.Name, kind, data)
		}

		if staging {
			b.addStagingPair(buffer.Name)
		}
	}

	for _, step := range c.Steps {
		if step.Shader == "" {
			if len(step.Swap) == 2 {
				b.AddSwap(step.Swap[0], step.Swap[1])
			}

			continue
		}

		var workgroups [3]uint32
		for idx := range workgroups {
			workgroups[idx] = 1
		}

		copy(workgroups[:], step.Workgroups)

		b.AddPass(step.shader(), workgroups, step.Vars...)
	}

	return b
}

// ShaderDefs returns the defs of a pass sorted by name.
func (s StepConfig) ShaderDefs() []pipeline.ShaderDef {
	names := make([]string, 0, len(s.Defs))
	for name := range s.Defs {
		names = append(names, name)
	}

	slices.Sort(names)

	var defs []pipeline.ShaderDef
	for _, name := range names {
		defs = append(defs, pipeline.ShaderDef{Name: name, Value: s.Defs[name]})
	}

	return defs
}

func (s StepConfig) shader() Shader {
	defs := s.ShaderDefs()

	name := s.Shader
	if len(defs) > 0 || s.Entry != "" {
		// passes with different defs need their own pipeline
		var suffix strings.Builder
		for _, def := range defs {
			fmt.Fprintf(&suffix, ",%s=%s", def.Name, def.Value)
		}

		name = fmt.Sprintf("%s#%s%s", s.Shader, s.Entry, suffix.String())
	}

	return Shader{
		Name:  name,
		Path:  s.Shader,
		Entry: s.Entry,
		Defs:  defs,
	}
}
