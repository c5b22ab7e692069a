package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kevingbb/processorders/message"
)

// ParseResult is the output of the parse command.
type ParseResult struct {
	URL       string                 `json:"url" yaml:"url"`
	Matched   bool                   `json:"matched" yaml:"matched"`
	Known     bool                   `json:"known" yaml:"known"`
	Reference *message.FileReference `json:"reference,omitempty" yaml:"reference,omitempty"`
}

// Text implements textFormatter.
func (r ParseResult) Text() string {
	switch {
	case !r.Matched:
		return fmt.Sprintf("%s: not an order file", r.URL)
	case !r.Known:
		return fmt.Sprintf("%s: batch %s, unknown file type %s", r.URL, r.Reference.BatchPrefix, r.Reference.FileType)
	default:
		return fmt.Sprintf("%s: batch %s, %s", r.URL, r.Reference.BatchPrefix, r.Reference.FileType)
	}
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "parse <url>...",
		Short: "Show how blob URLs map onto orders",
		Long: `Parse one or more blob URLs the way the notification endpoint does and
print the batch prefix and file type of each.`,
		Example: `  ordersctl parse https://acct.blob.core.windows.net/orders/20240101-OrderHeaderDetails.csv
  ordersctl parse --strict -o text $(cat urls.txt)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]ParseResult, 0, len(args))
			var rejected []string
			for _, u := range args {
				ref, ok := message.ParseFileReference(u)
				r := ParseResult{URL: u, Matched: ok}
				if ok {
					r.Known = ref.FileType.Known()
					r.Reference = &ref
				}
				if !r.Known {
					rejected = append(rejected, u)
				}
				results = append(results, r)
			}

			if err := writeResults(cmd, rootOpts.Format, results); err != nil {
				return err
			}
			if strict && len(rejected) > 0 {
				return NewExitError(ExitFailure, "not order files: "+strings.Join(rejected, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any URL is not a known order file")
	return cmd
}

// writeResults writes a single result unwrapped.
func writeResults(cmd *cobra.Command, format string, results []ParseResult) error {
	w := cmd.OutOrStdout()
	if len(results) == 1 {
		return writeOutput(w, format, results[0])
	}
	if format == "text" {
		for _, r := range results {
			if _, err := fmt.Fprintln(w, r.Text()); err != nil {
				return err
			}
		}
		return nil
	}
	return writeOutput(w, format, results)
}
