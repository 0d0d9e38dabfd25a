package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/oliverbestmann/appcompute/backend"
	"github.com/oliverbestmann/appcompute/compute"
	"github.com/oliverbestmann/appcompute/kernels"
	"github.com/oliverbestmann/appcompute/orion"
	"github.com/oliverbestmann/appcompute/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <worker.yaml>",
		Short: "Run a worker for a number of ticks and print its staging buffers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadWorkerConfig(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return runWorker(ctx, opts, config, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("backend", backend.Soft, "Device backend, soft or wgpu")
	flags.Uint64("ticks", 10, "Number of ticks to run")
	flags.Duration("interval", 0, "Minimum time between two ticks")
	flags.Duration("latency", 0, "Latency of every submission on the soft backend")
	flags.Bool("fallback-adapter", false, "Use the fallback adapter of the wgpu backend")
	flags.String("shaders", "", "Load shaders from this directory instead of the bundled ones")
	flags.Bool("watch", false, "Reload shaders from the shader directory when they change")
	flags.Bool("validate", false, "Validate shaders before creating their pipelines")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")

	return cmd
}

func loadWorkerConfig(path string) (compute.WorkerConfig, error) {
	fp, err := os.Open(path)
	if err != nil {
		return compute.WorkerConfig{}, err
	}

	defer fp.Close()

	return compute.LoadWorkerConfig(fp)
}

// newLoader reads shaders from dir, or the bundled shaders if dir is empty.
func newLoader(dir string) *pipeline.Loader {
	if dir == "" {
		return pipeline.NewLoader(kernels.Shaders)
	}

	return pipeline.NewDirLoader(dir)
}

func runWorker(ctx context.Context, opts *globalOptions, config compute.WorkerConfig, out io.Writer) error {
	v := opts.v
	logger := opts.logger

	dev, release, err := backend.Open(backend.Options{
		Name:                 v.GetString("backend"),
		Logger:               logger,
		Latency:              v.GetDuration("latency"),
		ForceFallbackAdapter: v.GetBool("fallback-adapter"),
	})

	if err != nil {
		return err
	}

	defer release()

	loader := newLoader(v.GetString("shaders")).WithLogger(logger)

	if v.GetBool("watch") {
		if err := loader.Watch(); err != nil {
			return err
		}

		defer loader.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := compute.MustNewMetrics(registry)

	g, ctx := errgroup.WithContext(ctx)

	var server *http.Server
	if addr := v.GetString("metrics-addr"); addr != "" {
		server = serveMetrics(g, addr, registry, logger)
	}

	plugin := compute.Plugin{Device: dev, Loader: loader, Metrics: metrics}
	if v.GetBool("validate") {
		plugin.CacheOptions = append(plugin.CacheOptions, pipeline.WithValidation())
	}

	runErr := runApp(ctx, opts, config, plugin, out)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return runErr
}

func runApp(ctx context.Context, opts *globalOptions, config compute.WorkerConfig, plugin compute.Plugin, out io.Writer) error {
	v := opts.v

	app := orion.NewApp().WithLogger(opts.logger)
	defer app.Close()

	if err := app.AddPlugin(plugin); err != nil {
		return err
	}

	err := app.AddPlugin(compute.WorkerPlugin[compute.WorkerFunc]{
		Worker: func(ctx *compute.BuildContext) (*compute.Worker, error) {
			return config.Apply(compute.NewBuilder(ctx, config.Name)).Build()
		},
	})

	if err != nil {
		return err
	}

	worker := compute.WorkerOf[compute.WorkerFunc](app)
	if worker.RunMode() == compute.OneShot {
		worker.Execute()
	}

	ticks := v.GetUint64("ticks")

	err = app.Run(ctx, orion.RunOptions{
		Ticks:    ticks,
		Interval: v.GetDuration("interval"),
	})

	if err != nil {
		return err
	}

	if !worker.Ready() {
		return fmt.Errorf("worker %q did not finish within %d ticks", config.Name, ticks)
	}

	results, err := readResults(worker, config)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	defer enc.Close()

	return enc.Encode(results)
}

func serveMetrics(g *errgroup.Group, addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Serving metrics", slog.String("addr", addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}

		return nil
	})

	return server
}

// readResults reads every staging buffer using the scalar type it was
// declared with.
func readResults(worker *compute.Worker, config compute.WorkerConfig) (map[string]any, error) {
	results := map[string]any{}

	for _, buffer := range config.Buffers {
		if !strings.EqualFold(buffer.Kind, "staging") {
			continue
		}

		var value any
		var err error

		switch {
		case buffer.U32 != nil:
			value, err = compute.ReadVec[uint32](worker, buffer.Name)
		case buffer.I32 != nil:
			value, err = compute.ReadVec[int32](worker, buffer.Name)
		default:
			value, err = compute.ReadVec[float32](worker, buffer.Name)
		}

		if err != nil {
			return nil, err
		}

		results[buffer.Name] = value
	}

	return results, nil
}
