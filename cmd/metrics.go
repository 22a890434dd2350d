package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var metricsDays int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print a metrics snapshot from the audit store",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := e.Collector.Collect(cmd.Context(), metricsDays*24)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	metricsCmd.Flags().IntVar(&metricsDays, "days", 1, "lookback window in days")
	rootCmd.AddCommand(metricsCmd)
}
