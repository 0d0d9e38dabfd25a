package orion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagesRunInOrder(t *testing.T) {
	app := NewApp()

	var calls []string
	record := func(name string) System {
		return func(app *App) error {
			calls = append(calls, name)
			return nil
		}
	}

	// added out of order on purpose
	app.AddSystem(PostUpdate, "post", record("post"))
	app.AddSystem(Update, "update-a", record("update-a"))
	app.AddSystem(PreUpdate, "pre", record("pre"))
	app.AddSystem(Update, "update-b", record("update-b"))

	require.NoError(t, app.Update())

	assert.Equal(t, []string{"pre", "update-a", "update-b", "post"}, calls)
	assert.Equal(t, 1, app.Stats.Frames())
}

func TestSystemErrorAbortsTick(t *testing.T) {
	app := NewApp()

	errFailed := errors.New("failed")

	var postCalled bool
	app.AddSystem(Update, "failing", func(app *App) error { return errFailed })
	app.AddSystem(PostUpdate, "post", func(app *App) error {
		postCalled = true
		return nil
	})

	err := app.Update()
	require.ErrorIs(t, err, errFailed)
	assert.Contains(t, err.Error(), `Update system "failing"`)
	assert.False(t, postCalled)
}

type counterPlugin struct{}

type counter struct{ value int }

func (counterPlugin) Build(app *App) error {
	InitResource(app, &counter{})

	app.AddSystem(Update, "count", func(app *App) error {
		Resource[*counter](app).value++
		return nil
	})

	return nil
}

func TestPluginAndResources(t *testing.T) {
	app := NewApp()

	require.NoError(t, app.AddPlugin(counterPlugin{}))
	require.Error(t, app.AddPlugin(counterPlugin{}), "plugin must only be added once")

	for range 3 {
		require.NoError(t, app.Update())
	}

	assert.Equal(t, 3, Resource[*counter](app).value)

	RemoveResource[*counter](app)

	_, ok := LookupResource[*counter](app)
	assert.False(t, ok)

	assert.Panics(t, func() { Resource[*counter](app) })
}

func TestInitResourceKeepsExisting(t *testing.T) {
	app := NewApp()

	InsertResource(app, "first")
	assert.Equal(t, "first", InitResource(app, "second"))

	InsertResource(app, "third")
	assert.Equal(t, "third", Resource[string](app))
}

func TestRunStopsAfterTicks(t *testing.T) {
	app := NewApp()

	var ticks int
	app.AddSystem(Update, "tick", func(app *App) error {
		ticks++
		return nil
	})

	require.NoError(t, app.Run(context.Background(), RunOptions{Ticks: 5}))

	assert.Equal(t, 5, ticks)
	assert.EqualValues(t, 5, app.Frame.FrameCount)
}

func TestRunStopsOnCancel(t *testing.T) {
	app := NewApp()

	ctx, cancel := context.WithCancel(context.Background())

	var ticks int
	app.AddSystem(Update, "tick", func(app *App) error {
		ticks++
		if ticks == 3 {
			cancel()
		}

		return nil
	})

	require.NoError(t, app.Run(ctx, RunOptions{Interval: time.Millisecond}))
	assert.Equal(t, 3, ticks)
}

func TestShutdownReverseOrder(t *testing.T) {
	app := NewApp()

	var calls []int
	app.OnShutdown(func() { calls = append(calls, 1) })
	app.OnShutdown(func() { calls = append(calls, 2) })

	app.Close()
	app.Close()

	assert.Equal(t, []int{2, 1}, calls)
}

func TestHandle(t *testing.T) {
	assert.NotPanics(t, func() { Handle(nil, "nothing") })

	errBroken := errors.New("broken")

	defer func() {
		recovered := recover()
		require.NotNil(t, recovered)

		err, ok := recovered.(error)
		require.True(t, ok)

		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, `load "x": broken`, err.Error())
	}()

	Handle(errBroken, "load %q", "x")
}

func TestFrameTimes(t *testing.T) {
	var times FrameTimes

	start := time.Unix(0, 0)

	assert.Zero(t, times.tickAt(start))
	assert.Equal(t, 10*time.Millisecond, times.tickAt(start.Add(10*time.Millisecond)))
	assert.Equal(t, 30*time.Millisecond, times.tickAt(start.Add(40*time.Millisecond)))

	assert.EqualValues(t, 3, times.FrameCount)
	assert.Equal(t, 30*time.Millisecond, times.MaxDuration)
	assert.InDelta(t, 1/0.03, times.TPS(), 0.001)
}
