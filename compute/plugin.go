package compute

import (
	"errors"
	"fmt"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/orion"
	"github.com/oliverbestmann/appcompute/pipeline"
)

// Plugin installs the shared pipeline cache. It must be added before any
// WorkerPlugin.
type Plugin struct {
	Device gpu.Device

	// Loader is optional. Its events are applied to the cache at the
	// start of each tick.
	Loader *pipeline.Loader

	CacheOptions []pipeline.Option
	Metrics      *Metrics
}

func (p Plugin) Build(app *orion.App) error {
	if p.Device == nil {
		return errors.New("compute plugin requires a device")
	}

	opts := append([]pipeline.Option{pipeline.WithLogger(app.Logger())}, p.CacheOptions...)
	cache := pipeline.NewCache(p.Device, opts...)

	orion.InsertResource(app, cache)
	orion.InsertResource(app, &BuildContext{
		Device:  p.Device,
		Cache:   cache,
		Loader:  p.Loader,
		Logger:  app.Logger(),
		Metrics: p.Metrics,
	})

	if p.Loader != nil {
		loader := p.Loader
		app.AddSystem(orion.PreUpdate, "drain shader events", func(app *orion.App) error {
			cache.Drain(loader.Events())
			return nil
		})
	}

	app.AddSystem(orion.Update, "process pipelines", func(app *orion.App) error {
		cache.Process()
		return nil
	})

	app.OnShutdown(cache.Release)

	return nil
}

// WorkerResource holds the worker built by a WorkerPlugin of type W.
type WorkerResource[W ComputeWorker] struct {
	*Worker
}

// WorkerOf returns the worker built for the ComputeWorker type W.
func WorkerOf[W ComputeWorker](app *orion.App) *Worker {
	return orion.Resource[WorkerResource[W]](app).Worker
}

// Workers holds every worker added to an app by its name.
type Workers map[string]*Worker

// WorkerNamed looks up a worker by the name it was built with.
func WorkerNamed(app *orion.App, name string) (*Worker, bool) {
	workers, ok := orion.LookupResource[Workers](app)
	if !ok {
		return nil, false
	}

	worker, ok := workers[name]
	return worker, ok
}

// WorkerPlugin builds a worker and runs it during PostUpdate of every
// tick: the unmap phase, then the run cycle, then the pipeline refresh.
type WorkerPlugin[W ComputeWorker] struct {
	Worker W
}

func (p WorkerPlugin[W]) Build(app *orion.App) error {
	ctx, ok := orion.LookupResource[*BuildContext](app)
	if !ok {
		return errors.New("compute plugin must be added before any worker plugin")
	}

	worker, err := p.Worker.Build(ctx)
	if err != nil {
		return err
	}

	name := worker.Name()

	workers := orion.InitResource(app, Workers{})
	if _, exists := workers[name]; exists {
		worker.Release()
		return fmt.Errorf("worker %q already added", name)
	}

	workers[name] = worker

	orion.InsertResource(app, WorkerResource[W]{Worker: worker})

	app.AddSystem(orion.PostUpdate, "unmap "+name, func(app *orion.App) error {
		return worker.UnmapAll()
	})

	app.AddSystem(orion.PostUpdate, "run "+name, func(app *orion.App) error {
		err := worker.Run()
		if err != nil && !IsRecoverable(err) {
			return fmt.Errorf("run worker %q: %w", name, err)
		}

		return nil
	})

	app.AddSystem(orion.PostUpdate, "refresh pipelines "+name, func(app *orion.App) error {
		worker.RefreshPipelines()
		return nil
	})

	app.OnShutdown(worker.Release)

	return nil
}
