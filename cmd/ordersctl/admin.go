package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kevingbb/processorders/processor/orderjoin"
)

// StatusView wraps the service answer for the text format.
type StatusView struct {
	orderjoin.OrderStatus
}

// Text implements textFormatter.
func (v StatusView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "order %s", v.Key)
	if st := v.State; st != nil {
		fmt.Fprintf(&b, "\n  parts: %d/3 complete=%t", st.Filled(), st.Complete)
		for _, u := range []string{st.HeaderURL, st.LineItemsURL, st.ProductInfoURL} {
			if u != "" {
				fmt.Fprintf(&b, "\n    %s", u)
			}
		}
	} else {
		b.WriteString("\n  parts: none")
	}
	if p := v.Pass; p != nil {
		fmt.Fprintf(&b, "\n  pass: %s attempts=%d", p.Phase, p.Attempts)
		if p.LastError != "" {
			fmt.Fprintf(&b, "\n  last error: %s", p.LastError)
		}
		for _, o := range p.Outputs {
			fmt.Fprintf(&b, "\n    %s", o)
		}
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <order-key>",
		Short:         "Show the join state and pass ledger of an order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClient(rootOpts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			var status orderjoin.OrderStatus
			if _, err := client.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(args[0]), nil, &status); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, StatusView{status})
		},
	}
}

// RetryResult is the output of the retry command.
type RetryResult struct {
	Key       string `json:"key" yaml:"key"`
	Triggered bool   `json:"triggered" yaml:"triggered"`
}

// Text implements textFormatter.
func (r RetryResult) Text() string {
	return fmt.Sprintf("retry of %s triggered", r.Key)
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <order-key>",
		Short: "Start a new completion pass for a dead-lettered order",
		Long: `Reset the pass ledger of an order and trigger a new completion pass.
The service refuses with 409 while a pass is in flight.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClient(rootOpts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			path := "/api/orders/" + url.PathEscape(args[0]) + "/retry"
			if _, err := client.do(ctx, http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, RetryResult{Key: args[0], Triggered: true})
		},
	}
}

// SweepView wraps a sweep report for the text format.
type SweepView struct {
	orderjoin.SweepReport
}

// Text implements textFormatter.
func (v SweepView) Text() string {
	return fmt.Sprintf("scanned=%d retriggered=%d purged=%d abandoned=%d dead_lettered=%d errors=%d",
		v.Scanned, v.Retriggered, v.Purged, v.Abandoned, v.DeadLettered, v.Errors)
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sweep",
		Short:         "Run one reconciliation sweep now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAdminClient(rootOpts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			var report orderjoin.SweepReport
			if _, err := client.do(ctx, http.MethodPost, "/api/sweep", nil, &report); err != nil {
				return err
			}
			view := SweepView{report}
			if err := writeOutput(cmd.OutOrStdout(), rootOpts.Format, view); err != nil {
				return err
			}
			if report.Errors > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("sweep finished with %d errors", report.Errors))
			}
			return nil
		},
	}
}
