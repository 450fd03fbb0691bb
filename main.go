package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:          "raidloot",
		Short:        "Raid loot distribution tracker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/config.yaml", "path to the YAML config file")

	root.AddCommand(serveCmd(), seedCmd(), exportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, SSE and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the configured roster if the directory is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			pins, err := a.seed(cmd.Context())
			if err != nil {
				return err
			}
			if pins == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to seed")
				return nil
			}
			for name, pin := range pins {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, pin)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var weekNum int
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the assignment report as an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if out == "" {
				out = "assignments.xlsx"
				if weekNum > 0 {
					out = fmt.Sprintf("assignments-week-%d.xlsx", weekNum)
				}
			}
			if err := a.export(cmd.Context(), weekNum, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&weekNum, "week", 0, "week number to export (0 exports every week)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}
