package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "Print the routing table",
	Long:  "Prints every configured pipeline with its match dimensions, gating, and base cost.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRouter()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-24s %-20s %-20s %-12s %-6s %-9s %s\n",
			"ID", "INTENTS", "CLIENTS", "MODES", "COST", "CLASS", "FLAGS")
		for _, p := range rt.Pipelines() {
			var flags []string
			if p.ProOnly {
				flags = append(flags, "pro")
			}
			if rt.Disabled(p.ID) {
				flags = append(flags, "disabled")
			}
			fmt.Fprintf(w, "%-24s %-20s %-20s %-12s %-6d %-9s %s\n",
				p.ID,
				strings.Join(p.Intents, ","),
				strings.Join(p.Clients, ","),
				strings.Join(p.Modes, ","),
				p.BaseCost,
				p.ModelClass,
				strings.Join(flags, ","),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pipelinesCmd)
}
