package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/internal/cli"
	"github.com/aretw0/tinystate/internal/demo"
	"github.com/aretw0/tinystate/internal/presentation/tui"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo order workflow",
	Long: `Runs the order workflow (validate, payment, ship or cancel) and prints a trace.

The payment sub-machine waits for a payment.approved or payment.declined message.
Use --approve to publish the approval automatically, or --serve and
POST /messages to decide from outside.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		opts := cli.RunOptions{
			Config: cfg,
			Out:    cmd.OutOrStdout(),
			Logger: logger,
		}
		opts.Order.ID, _ = flags.GetString("order")
		opts.Order.Amount, _ = flags.GetFloat64("amount")
		opts.Approve, _ = flags.GetBool("approve")
		opts.Hold, _ = flags.GetBool("hold")
		opts.NoColor, _ = flags.GetBool("no-color")

		if flags.Changed("redis") {
			opts.Config.Redis.Addr, _ = flags.GetString("redis")
		}
		if flags.Changed("serve") {
			opts.Config.HTTPAddr, _ = flags.GetString("serve")
		}
		if flags.Changed("timeout") {
			opts.Config.DefaultTimeout, _ = flags.GetDuration("timeout")
		}

		var style []termenv.OutputOption
		if opts.NoColor {
			style = append(style, termenv.WithProfile(termenv.Ascii))
		}
		tui.PrintBanner(cmd.OutOrStdout(), tinystate.Version, style...)

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Stop()

		report, err := cli.Execute(sc, opts)
		if err != nil {
			if cli.IsInterrupted(err) {
				if sig := sc.Signal(); sig != nil && report != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "\n>>> Interrupted (%v) in '%s'\n", sig, report.State)
				}
				return nil
			}
			return err
		}
		if report.Outcome != demo.Shipped {
			return fmt.Errorf("order %s not shipped: %s", strings.TrimSpace(opts.Order.ID), report.Outcome)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("order", "A-17", "Order id")
	runCmd.Flags().Float64("amount", 42, "Order amount")
	runCmd.Flags().Bool("approve", false, "Approve the payment automatically")
	runCmd.Flags().String("redis", "", "Redis address for the message bus (default in-memory); overrides TINYSTATE_REDIS_ADDR")
	runCmd.Flags().String("serve", "", "Serve the HTTP adapter and /metrics on this address; overrides TINYSTATE_HTTP_ADDR")
	runCmd.Flags().Bool("hold", false, "Keep serving after the run finishes (with --serve)")
	runCmd.Flags().Duration("timeout", 0, "Payment decision timeout; overrides TINYSTATE_DEFAULT_TIMEOUT")
	runCmd.Flags().Bool("no-color", false, "Disable colored output")
}
