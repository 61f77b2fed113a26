package main

import (
	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/internal/demo"
	"github.com/aretw0/tinystate/pkg/adapters/memory"
	"github.com/aretw0/tinystate/pkg/export"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the demo workflow graph",
	Long:  `Prints the registered states, transitions, timeouts and sub-machines of the demo workflow as JSON or YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(raw)
		if err != nil {
			return err
		}

		bus := memory.NewBus()
		defer bus.Close()
		m, err := demo.New(tinystate.WithBus(bus), tinystate.WithDefaultTimeout(cfg.DefaultTimeout))
		if err != nil {
			return err
		}
		return export.Write(cmd.OutOrStdout(), m.Snapshot(), format)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("format", "f", "yaml", "Output format (yaml, json)")
}
