package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tinystate"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tinystate",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tinystate version %s\n", strings.TrimSpace(tinystate.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
