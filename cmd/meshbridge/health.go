package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/config"
	"github.com/alfredjeanlab/meshbridge/internal/health"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a running bridge's health service",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			addr = cfg.HealthAddr
		}
		if addr == "" {
			return errors.New("no health address: pass --addr or set MESHBRIDGE_HEALTH_ADDR")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		report, err := health.Probe(ctx, addr)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			printJSON(report)
		} else {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Bridge:  %s\n", report.Overall)
			fmt.Fprintf(out, "Radio:   %s\n", report.Radio)
			fmt.Fprintf(out, "Broker:  %s\n", report.Broker)
		}

		if !report.Serving() {
			return fmt.Errorf("unhealthy: %s", report.Overall)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("addr", "", "health server address (default MESHBRIDGE_HEALTH_ADDR)")
}
