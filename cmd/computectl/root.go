package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// options shared by all commands. Every flag can also be set in the config
// file or with an APPCOMPUTE_ prefixed environment variable.
type globalOptions struct {
	v *viper.Viper

	logger  *slog.Logger
	profile interface{ Stop() }
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:          "computectl",
		Short:        "Run compute workers described in YAML",
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},

		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.profile != nil {
				opts.profile.Stop()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file, defaults to computectl.yaml in the working directory")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("profile", "", "Write a cpu or mem profile into the working directory")

	_ = opts.v.BindPFlags(flags)

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))

	return rootCmd
}

func (o *globalOptions) init(cmd *cobra.Command) error {
	o.v.SetEnvPrefix("APPCOMPUTE")
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	// flags of the sub command
	if err := o.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := o.v.GetString("config"); path != "" {
		o.v.SetConfigFile(path)
	} else {
		o.v.SetConfigName("computectl")
		o.v.SetConfigType("yaml")
		o.v.AddConfigPath(".")
	}

	if err := o.v.ReadInConfig(); err != nil {
		// the default config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level, err := parseLevel(o.v.GetString("log-level"))
	if err != nil {
		return err
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	o.logger = slog.New(handler)
	slog.SetDefault(o.logger)

	switch o.v.GetString("profile") {
	case "":
	case "cpu":
		o.profile = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
	case "mem":
		o.profile = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet)
	default:
		return fmt.Errorf("unknown profile %q, expected cpu or mem", o.v.GetString("profile"))
	}

	return nil
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}
