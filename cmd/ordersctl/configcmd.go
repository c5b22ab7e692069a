package main

import (
	"github.com/spf13/cobra"

	"github.com/kevingbb/processorders/config"
)

// loadServiceConfig loads the service configuration from files, falling
// back to the built-in defaults plus environment overrides.
func loadServiceConfig(files []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, f := range files {
		loader.AddLayer(f)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect service configuration",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Long: `Load the files given with --config on top of the defaults, apply
PROCESSORDERS_* environment overrides, validate and print the result.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServiceConfig(rootOpts.Config)
			if err != nil {
				return err
			}
			format := rootOpts.Format
			if format == "text" {
				format = "yaml"
			}
			return writeOutput(cmd.OutOrStdout(), format, cfg.Redacted())
		},
	}
}
