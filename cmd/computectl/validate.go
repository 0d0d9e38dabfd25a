package main

import (
	"fmt"

	"github.com/oliverbestmann/appcompute/compute"
	"github.com/oliverbestmann/appcompute/pipeline"
	"github.com/spf13/cobra"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <worker.yaml>...",
		Short: "Check worker descriptions and their shaders without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			loader := newLoader(opts.v.GetString("shaders"))

			for _, path := range args {
				config, err := loadWorkerConfig(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				fmt.Fprintf(out, "%s: worker %q with %d buffers and %d steps\n",
					path, config.Name, len(config.Buffers), len(config.Steps))

				for _, shader := range config.Shaders() {
					fmt.Fprintf(out, "  uses %s\n", shader)
				}

				if err := validateShaders(loader, config); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				opts.logger.Debug("Worker config is valid", "path", path)
			}

			return nil
		},
	}

	cmd.Flags().String("shaders", "", "Load shaders from this directory instead of the bundled ones")

	return cmd
}

// validateShaders compiles the shader of every pass with the defs of
// that pass.
func validateShaders(loader *pipeline.Loader, config compute.WorkerConfig) error {
	for idx, step := range config.Steps {
		if step.Shader == "" {
			continue
		}

		source, err := loader.Read(step.Shader)
		if err != nil {
			return fmt.Errorf("step %d: %w", idx, err)
		}

		if err := pipeline.Validate(source, step.ShaderDefs()); err != nil {
			return fmt.Errorf("step %d: shader %q: %w", idx, step.Shader, err)
		}
	}

	return nil
}
