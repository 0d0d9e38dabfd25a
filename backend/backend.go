// Package backend opens one of the gpu.Device implementations by name.
package backend

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/gpu/soft"
	"github.com/oliverbestmann/appcompute/kernels"
	"github.com/oliverbestmann/appcompute/pulse"
)

const (
	Soft = "soft"
	WGPU = "wgpu"
)

type Options struct {
	// Name is either Soft or WGPU.
	Name string

	Logger *slog.Logger

	// Latency delays every submission on the soft device.
	Latency time.Duration

	ForceFallbackAdapter bool
	HighPerformance      bool
}

// Open creates the device. The returned function releases it.
func Open(opts Options) (gpu.Device, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Name {
	case Soft, "":
		dev := soft.New(
			soft.WithKernels(kernels.Soft()),
			soft.WithLatency(opts.Latency),
			soft.WithLogger(logger),
		)

		return dev, dev.Close, nil

	case WGPU:
		ctx, err := pulse.New(pulse.Options{
			ForceFallbackAdapter: opts.ForceFallbackAdapter,
			HighPerformance:      opts.HighPerformance,
			Logger:               logger,
		})

		if err != nil {
			return nil, nil, fmt.Errorf("open wgpu device: %w", err)
		}

		return ctx.GPU(), ctx.Release, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q, expected %q or %q", opts.Name, Soft, WGPU)
	}
}
