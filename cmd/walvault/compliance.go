// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tomtom215/walvault/internal/compliance"
	"github.com/tomtom215/walvault/internal/config"
)

func complianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "RPO/RTO compliance posture",
	}
	cmd.AddCommand(complianceReportCmd())
	return cmd
}

func complianceReportCmd() *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report recovery point and recovery time posture per store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.monitor.ReportAll(ctx, config.Tier(tier))
			if err != nil {
				printStatus("failed")
				return err
			}

			for _, s := range report.Stores {
				fmt.Printf("store %s (tier %s): %s\n", s.Store, s.Tier, s.Status())
				fmt.Printf("  rpo: %s\n", formatMetric(s.RPO))
				fmt.Printf("  rto: %s\n", formatMetric(s.RTO))
			}

			switch report.Status() {
			case compliance.StatusOK:
				printStatus("ok")
				return nil
			case compliance.StatusCritical:
				printStatus("failed")
				return fmt.Errorf("compliance targets breached")
			default:
				printStatus("degraded")
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "limit to one tier: critical, important, standard or low")
	return cmd
}

func formatMetric(m compliance.MetricReport) string {
	if !m.Measured {
		return fmt.Sprintf("%s (no data, target %s)", m.Status, m.Target)
	}
	return fmt.Sprintf("%s (%s of %s target)", m.Status, m.Current.Round(time.Second), m.Target)
}
