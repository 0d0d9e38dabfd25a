// Package pipeline compiles compute pipelines once their shader source becomes
// available. Pipelines are queued from any goroutine and processed once per tick.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oliverbestmann/appcompute/gpu"
)

var (
	ErrShaderNotLoaded = errors.New("shader not loaded")
	ErrUnknownPipeline = errors.New("unknown pipeline")
	ErrInvalidShader   = errors.New("invalid shader")
)

// ID is the ticket returned when queueing a pipeline.
type ID int

type State int

const (
	StateQueued State = iota
	StateOk
	StateErr
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateOk:
		return "Ok"
	case StateErr:
		return "Err"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Descriptor struct {
	Label string

	// Shader is the key the shader source is registered under, usually its path.
	Shader     string
	EntryPoint string
	ShaderDefs []ShaderDef

	// Layout of bind group zero, derived from the shader if empty.
	Layout []gputypes.BindGroupLayoutEntry
}

func (d Descriptor) key() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s|%s|%s|", d.Label, d.Shader, d.EntryPoint)

	for _, def := range d.ShaderDefs {
		fmt.Fprintf(&sb, "%s=%s;", def.Name, def.Value)
	}

	sb.WriteByte('|')

	for _, entry := range d.Layout {
		fmt.Fprintf(&sb, "%d:%d", entry.Binding, entry.Visibility)
		if entry.Buffer != nil {
			fmt.Fprintf(&sb, ":%d:%d", entry.Buffer.Type, entry.Buffer.MinBindingSize)
		}

		sb.WriteByte(';')
	}

	return sb.String()
}

type cachedPipeline struct {
	desc     Descriptor
	state    State
	pipeline gpu.Pipeline
	err      error
}

type processedKey struct {
	shader string
	defs   string
}

type Option func(c *Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithValidation validates the preprocessed WGSL source using naga
// before creating the pipeline.
func WithValidation() Option {
	return func(c *Cache) {
		c.validate = true
	}
}

// WithProcessedCacheSize sets the number of preprocessed shader sources to keep.
func WithProcessedCacheSize(size int) Option {
	return func(c *Cache) {
		c.processedSize = size
	}
}

type Cache struct {
	device        gpu.Device
	logger        *slog.Logger
	validate      bool
	processedSize int

	mu        sync.Mutex
	shaders   map[string]string
	pipelines []*cachedPipeline
	ids       map[string]ID
	queued    map[ID]struct{}
	retired   []gpu.Pipeline
	processed *lru.Cache[processedKey, string]
}

func NewCache(device gpu.Device, opts ...Option) *Cache {
	c := &Cache{
		device:        device,
		logger:        slog.Default(),
		processedSize: 64,
		shaders:       map[string]string{},
		ids:           map[string]ID{},
		queued:        map[ID]struct{}{},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.processed, _ = lru.New[processedKey, string](max(c.processedSize, 1))

	return c
}

// Queue requests a pipeline for the given descriptor. Queueing an identical
// descriptor twice returns the same ID.
func (c *Cache) Queue(desc Descriptor) ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := desc.key()
	if id, ok := c.ids[key]; ok {
		return id
	}

	id := ID(len(c.pipelines))
	c.pipelines = append(c.pipelines, &cachedPipeline{desc: desc, state: StateQueued})
	c.ids[key] = id
	c.queued[id] = struct{}{}

	c.logger.Debug("Queued pipeline",
		slog.Int("id", int(id)),
		slog.String("label", desc.Label),
		slog.String("shader", desc.Shader),
	)

	return id
}

// Get returns the compiled pipeline, if it is ready.
func (c *Cache) Get(id ID) (gpu.Pipeline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(id) < 0 || int(id) >= len(c.pipelines) {
		return nil, false
	}

	cached := c.pipelines[id]
	if cached.state != StateOk {
		return nil, false
	}

	return cached.pipeline, true
}

func (c *Cache) State(id ID) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(id) < 0 || int(id) >= len(c.pipelines) {
		return StateErr
	}

	return c.pipelines[id].state
}

// Err returns the reason why a pipeline is not available yet.
func (c *Cache) Err(id ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(id) < 0 || int(id) >= len(c.pipelines) {
		return fmt.Errorf("%w: %d", ErrUnknownPipeline, id)
	}

	return c.pipelines[id].err
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pipelines)
}

// Pending returns the number of pipelines waiting to be processed.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queued)
}

// SetShader registers or replaces shader source. All pipelines using the
// shader are queued again.
func (c *Cache) SetShader(key, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if previous, ok := c.shaders[key]; ok && previous == source {
		return
	}

	c.shaders[key] = source
	c.invalidate(key)

	c.logger.Debug("Shader updated", slog.String("shader", key))
}

// RemoveShader removes shader source. Pipelines using the shader are queued
// again and wait for the shader to be set.
func (c *Cache) RemoveShader(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.shaders[key]; !ok {
		return
	}

	delete(c.shaders, key)
	c.invalidate(key)

	c.logger.Debug("Shader removed", slog.String("shader", key))
}

// invalidate must be called with the lock held.
func (c *Cache) invalidate(key string) {
	for _, processed := range c.processed.Keys() {
		if processed.shader == key {
			c.processed.Remove(processed)
		}
	}

	for idx, cached := range c.pipelines {
		if cached.desc.Shader == key {
			cached.state = StateQueued
			cached.err = nil
			c.queued[ID(idx)] = struct{}{}
		}
	}
}

// Process compiles all queued pipelines whose shader source is available.
// Pipelines replaced during a previous call are released.
func (c *Cache) Process() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pipeline := range c.retired {
		pipeline.Release()
	}

	c.retired = nil

	ids := make([]ID, 0, len(c.queued))
	for id := range c.queued {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		cached := c.pipelines[id]

		pipeline, err := c.compile(cached.desc)
		switch {
		case errors.Is(err, ErrShaderNotLoaded):
			// stays queued, try again next time
			cached.err = err
			continue

		case err != nil:
			c.logger.Warn("Failed to process pipeline",
				slog.Int("id", int(id)),
				slog.String("label", cached.desc.Label),
				slog.Any("err", err),
			)

			cached.state = StateErr
			cached.err = err

		default:
			if cached.pipeline != nil {
				c.retired = append(c.retired, cached.pipeline)
			}

			c.logger.Info("Pipeline ready",
				slog.Int("id", int(id)),
				slog.String("label", cached.desc.Label),
			)

			cached.state = StateOk
			cached.err = nil
			cached.pipeline = pipeline
		}

		delete(c.queued, id)
	}
}

func (c *Cache) compile(desc Descriptor) (gpu.Pipeline, error) {
	source, ok := c.shaders[desc.Shader]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrShaderNotLoaded, desc.Shader)
	}

	code, err := c.preprocess(desc, source)
	if err != nil {
		return nil, err
	}

	if c.validate {
		if err := validate(code); err != nil {
			return nil, fmt.Errorf("shader %q: %w", desc.Shader, err)
		}
	}

	pipeline, err := c.device.CreateComputePipeline(gpu.ComputePipelineDescriptor{
		Label:      desc.Label,
		Shader:     desc.Shader,
		Code:       code,
		EntryPoint: desc.EntryPoint,
		Layout:     desc.Layout,
	})

	if err != nil {
		return nil, fmt.Errorf("create pipeline %q: %w", desc.Label, err)
	}

	return pipeline, nil
}

// Validate preprocesses source with the given defs and checks that the
// result compiles.
func Validate(source string, defs []ShaderDef) error {
	code, err := Preprocess(source, defs)
	if err != nil {
		return err
	}

	return validate(code)
}

func validate(code string) error {
	if _, err := naga.Compile(code); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidShader, err)
	}

	return nil
}

func (c *Cache) preprocess(desc Descriptor, source string) (string, error) {
	var defs strings.Builder
	for _, def := range desc.ShaderDefs {
		fmt.Fprintf(&defs, "%s=%s;", def.Name, def.Value)
	}

	key := processedKey{shader: desc.Shader, defs: defs.String()}
	if code, ok := c.processed.Get(key); ok {
		return code, nil
	}

	code, err := Preprocess(source, desc.ShaderDefs)
	if err != nil {
		return "", fmt.Errorf("shader %q: %w", desc.Shader, err)
	}

	c.processed.Add(key, code)

	return code, nil
}

// Release frees all compiled pipelines. The cache must not be used afterwards.
func (c *Cache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pipeline := range c.retired {
		pipeline.Release()
	}

	for _, cached := range c.pipelines {
		if cached.pipeline != nil {
			cached.pipeline.Release()
			cached.pipeline = nil
		}
	}

	c.retired = nil
	c.pipelines = nil
	c.ids = map[string]ID{}
	c.queued = map[ID]struct{}{}
}
