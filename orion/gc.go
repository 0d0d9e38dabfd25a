package orion

import (
	"log/slog"
	"reflect"
	"runtime"
)

type releaser interface{ Release() }

type labeled interface{ Label() string }

// RegisterWithGC calls Release on value once it is garbage collected.
// Release must be safe to call from the finalizer goroutine.
func RegisterWithGC[T releaser](value T) T {
	if runtime.GOOS == "js" {
		// js values are garbage collected anyways
		return value
	}

	runtime.SetFinalizer(value, releaseNow[T])

	return value
}

// UnregisterFromGC removes the finalizer, e.g. after an explicit Release.
func UnregisterFromGC[T releaser](value T) {
	if runtime.GOOS == "js" {
		return
	}

	runtime.SetFinalizer(value, nil)
}

func releaseNow[T releaser](value T) {
	attrs := []any{slog.String("type", reflect.TypeOf(value).String())}
	if l, ok := any(value).(labeled); ok {
		attrs = append(attrs, slog.String("label", l.Label()))
	}

	slog.Debug("Releasing garbage collected instance", attrs...)

	value.Release()
}
