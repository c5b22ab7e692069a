package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Format  string // "yaml" | "json" | "text"
	Timeout time.Duration
	Config  []string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"yaml", "json", "text"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ordersctl",
		Short: "Operate the order processing service",
		Long: `Inspect and repair orders handled by the order processing service.

Server commands (status, retry, sweep) talk to the admin API of a running
service. parse works offline. upload writes straight to the order file
object store and can announce the file to the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	server := os.Getenv("ORDERSCTL_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", server, "service base URL (env: ORDERSCTL_SERVER)")
	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "o", "yaml", "output format (yaml|json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")
	cmd.PersistentFlags().StringSliceVarP(&opts.Config, "config", "c", nil, "service config files, used by upload and config")

	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewUploadCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}
