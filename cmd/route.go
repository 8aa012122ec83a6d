package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatbridge/internal/router"
)

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <model>",
		Short: "Show which backend and model a requested model name resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rt := router.FromConfig(cfg)
			route, matched := rt.Match(args[0])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s -> backend=%s model=%s\n", args[0], route.Backend, route.Model)
			if !matched {
				fmt.Fprintln(out, color.YellowString("no rule matched, using default backend"))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", AppName, Version)
		},
	}
}
