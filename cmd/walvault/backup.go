// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tomtom215/walvault/internal/backup"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/validation"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, validate and list backups",
	}
	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupValidateCmd())
	cmd.AddCommand(backupListCmd())
	return cmd
}

func backupCreateCmd() *cobra.Command {
	var storeName, backupType, notes string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup of one store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			src, err := a.store(storeName)
			if err != nil {
				return err
			}

			var opts []backup.Option
			if notes != "" {
				opts = append(opts, backup.WithNotes(notes))
			}

			var artifact catalog.Artifact
			switch backupType {
			case "full":
				artifact, err = a.producer.CreateFull(ctx, src, catalog.TriggerManual, opts...)
			case "incremental":
				artifact, err = a.producer.CreateIncremental(ctx, src, catalog.TriggerManual, opts...)
			default:
				return fmt.Errorf("--type must be full or incremental, got %q", backupType)
			}
			if err != nil {
				printStatus("failed")
				return err
			}

			fmt.Printf("created %s backup %s of store %s (%d bytes, marker %d, trust %s)\n",
				artifact.Type, artifact.ID, artifact.Store, artifact.SizeBytes, artifact.Marker, artifact.Trust)
			printStatus("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&storeName, "store", "", "store to back up")
	cmd.Flags().StringVar(&backupType, "type", "full", "backup type: full or incremental")
	cmd.Flags().StringVar(&notes, "notes", "", "operator note recorded on the artifact")
	cobra.CheckErr(cmd.MarkFlagRequired("store"))
	return cmd
}

func backupValidateCmd() *cobra.Command {
	var artifactID, level string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the staged validation pipeline against one artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			lvl, err := validation.ParseLevel(level)
			if err != nil {
				return err
			}

			artifact, err := a.cat.FindArtifact(ctx, artifactID)
			if err != nil {
				printStatus("failed")
				return err
			}
			report, err := a.validator.Validate(ctx, artifact, lvl)
			if err != nil {
				printStatus("failed")
				return err
			}

			for i, stage := range report.Stages {
				marker := "pass"
				if !stage.Pass {
					marker = "FAIL"
				}
				fmt.Printf("  stage %d %-12s %s  %s\n", i+1, stage.Name, marker, stage.Message)
			}
			for _, w := range report.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			fmt.Printf("verdict: %s\n", report.Verdict)

			switch {
			case report.Verdict == catalog.TrustFailed:
				printStatus("failed")
				return fmt.Errorf("artifact %s failed validation", artifactID)
			case len(report.Warnings) > 0:
				printStatus("degraded")
			default:
				printStatus("ok")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&artifactID, "artifact", "", "artifact id to validate")
	cmd.Flags().StringVar(&level, "level", "full", "validation depth: quick (stages 1-3), full, or a stage count 1-5")
	cobra.CheckErr(cmd.MarkFlagRequired("artifact"))
	return cmd
}

func backupListCmd() *cobra.Command {
	var storeName, artifactType, trust string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog artifacts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			stores := a.storeNames()
			if storeName != "" {
				stores = []string{storeName}
			}
			filter := catalog.ArtifactFilter{
				Type:  catalog.ArtifactType(artifactType),
				Trust: catalog.TrustState(trust),
			}

			for _, store := range stores {
				artifacts, err := a.cat.ListArtifacts(ctx, store, filter)
				if err != nil {
					printStatus("failed")
					return err
				}
				stats, err := a.cat.Stats(ctx, store)
				if err != nil {
					printStatus("failed")
					return err
				}

				fmt.Printf("store %s: %d artifacts, %d passed fulls, %d segments archived\n",
					store, stats.Artifacts, stats.PassedFulls, stats.Segments)
				for _, art := range artifacts {
					fmt.Printf("  %s  %-11s %-9s %-10s marker=%-8d %10d bytes  %s\n",
						art.CompletedAt.UTC().Format("2006-01-02T15:04:05Z"),
						art.Type, art.Trigger, art.Trust, art.Marker, art.SizeBytes, art.ID)
				}
			}
			printStatus("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&storeName, "store", "", "limit to one store")
	cmd.Flags().StringVar(&artifactType, "type", "", "filter by type: full or incremental")
	cmd.Flags().StringVar(&trust, "trust", "", "filter by trust state: untested, passed or failed")
	return cmd
}
