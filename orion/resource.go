package orion

import (
	"fmt"
	"reflect"
)

func typeKey[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// InsertResource stores value as the resource of type T, replacing a
// previous value.
func InsertResource[T any](app *App, value T) {
	app.resources[typeKey[T]()] = value
}

// InitResource stores value only if no resource of type T exists yet and
// returns the stored value.
func InitResource[T any](app *App, value T) T {
	if existing, ok := LookupResource[T](app); ok {
		return existing
	}

	InsertResource(app, value)
	return value
}

func LookupResource[T any](app *App) (T, bool) {
	value, ok := app.resources[typeKey[T]()]
	if !ok {
		var tZero T
		return tZero, false
	}

	return value.(T), true
}

// Resource returns the resource of type T. It panics if the resource
// was never inserted.
func Resource[T any](app *App) T {
	value, ok := LookupResource[T](app)
	if !ok {
		panic(fmt.Sprintf("resource %s not available", typeKey[T]()))
	}

	return value
}

func RemoveResource[T any](app *App) {
	delete(app.resources, typeKey[T]())
}
