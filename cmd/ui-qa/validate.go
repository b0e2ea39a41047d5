package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse the configuration and suite without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, suite, err := in.load(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d scenario(s) x %d target(s) [%s]\n",
				len(suite.Scenarios), len(cfg.Targets), describeTargets(cfg))
			return nil
		},
	}
	in.register(cmd)
	return cmd
}

func listCmd() *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the scenario x target matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, suite, err := in.load(cmd)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TARGET\tENGINE\tSCENARIO\tTAGS")
			for _, t := range cfg.Targets {
				for _, sc := range suite.Scenarios {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Engine, sc.Name, strings.Join(sc.Tags, ","))
				}
			}
			return tw.Flush()
		},
	}
	in.register(cmd)
	return cmd
}
