package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var metricsHours int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print service metrics from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		m, err := e.Engine.Metrics(ctx, metricsHours)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

func init() {
	metricsCmd.Flags().IntVar(&metricsHours, "hours", 24, "lookback window in hours")
	rootCmd.AddCommand(metricsCmd)
}
