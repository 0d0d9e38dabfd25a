package orion

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// Stage selects when a system runs within a tick.
type Stage int

const (
	PreUpdate Stage = iota
	Update
	PostUpdate

	stageCount
)

func (s Stage) String() string {
	switch s {
	case PreUpdate:
		return "PreUpdate"
	case Update:
		return "Update"
	case PostUpdate:
		return "PostUpdate"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// System is called once per tick in the stage it was added to.
type System func(app *App) error

// Plugin adds systems and resources to an app.
type Plugin interface {
	Build(app *App) error
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(app *App) error

func (f PluginFunc) Build(app *App) error {
	return f(app)
}

type namedSystem struct {
	name   string
	system System
}

// App is a headless host that ticks its systems in a fixed stage order.
// An App must only be used from a single goroutine.
type App struct {
	logger *slog.Logger

	systems   [stageCount][]namedSystem
	resources map[reflect.Type]any
	plugins   map[reflect.Type]struct{}
	shutdown  []func()

	Frame FrameTimes
	Stats Stats
}

func NewApp() *App {
	return &App{
		logger:    slog.Default(),
		resources: map[reflect.Type]any{},
		plugins:   map[reflect.Type]struct{}{},
	}
}

func (a *App) WithLogger(logger *slog.Logger) *App {
	a.logger = logger
	return a
}

func (a *App) Logger() *slog.Logger {
	return a.logger
}

// AddPlugin builds the plugin. Adding a plugin of the same type twice
// is an error.
func (a *App) AddPlugin(plugin Plugin) error {
	typ := reflect.TypeOf(plugin)
	if _, ok := a.plugins[typ]; ok {
		return fmt.Errorf("plugin %s already added", typ)
	}

	a.logger.Debug("Add plugin", slog.String("type", typ.String()))

	if err := plugin.Build(a); err != nil {
		return fmt.Errorf("build plugin %s: %w", typ, err)
	}

	a.plugins[typ] = struct{}{}

	return nil
}

// MustAddPlugin is like AddPlugin but panics on error.
func (a *App) MustAddPlugin(plugin Plugin) *App {
	Handle(a.AddPlugin(plugin), "add plugin")
	return a
}

// AddSystem appends a system to the stage. Systems in a stage run in the
// order they were added.
func (a *App) AddSystem(stage Stage, name string, system System) *App {
	if stage < 0 || stage >= stageCount {
		panic(fmt.Sprintf("invalid stage %d", stage))
	}

	a.systems[stage] = append(a.systems[stage], namedSystem{name: name, system: system})
	return a
}

// OnShutdown registers fn to be called by Close. Functions are called in
// reverse registration order.
func (a *App) OnShutdown(fn func()) {
	a.shutdown = append(a.shutdown, fn)
}

// Update runs a single tick.
func (a *App) Update() error {
	return loopOnce(a)
}

// Close calls all shutdown functions.
func (a *App) Close() {
	for idx := len(a.shutdown) - 1; idx >= 0; idx-- {
		a.shutdown[idx]()
	}

	a.shutdown = nil
}

func (a *App) runStage(stage Stage) error {
	var errs []error

	for _, entry := range a.systems[stage] {
		if err := entry.system(a); err != nil {
			errs = append(errs, fmt.Errorf("%s system %q: %w", stage, entry.name, err))
		}
	}

	return errors.Join(errs...)
}
