// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tomtom215/walvault/internal/dirstore"
	"github.com/tomtom215/walvault/internal/walarchive"
)

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage directory-backed stores",
	}
	cmd.AddCommand(storeInitCmd())
	cmd.AddCommand(storeSyncCmd())
	return cmd
}

func storeInitCmd() *cobra.Command {
	var storeName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the directory layout for a configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			sc, err := a.cfg.StoreByName(storeName)
			if err != nil {
				return err
			}
			if _, err := dirstore.Init(sc.Name, sc.Path); err != nil {
				printStatus("failed")
				return err
			}
			fmt.Printf("initialized store %s at %s\n", sc.Name, sc.Path)
			printStatus("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&storeName, "store", "", "store to initialize")
	cobra.CheckErr(cmd.MarkFlagRequired("store"))
	return cmd
}

func storeSyncCmd() *cobra.Command {
	var storeName string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Archive pending WAL segments and scan continuity",
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

			var archived int
			for _, name := range stores {
				n, err := a.archivePendingWAL(ctx, name)
				archived += n
				if err != nil {
					printStatus("failed")
					return err
				}
				if _, err := a.scanner.Scan(ctx, name); err != nil {
					printStatus("failed")
					return err
				}
			}
			fmt.Printf("archived %d segments\n", archived)
			printStatus("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&storeName, "store", "", "limit to one store")
	return cmd
}

// archivePendingWAL pushes every pending WAL segment of one store
// through the archiver. The archiver is idempotent, so re-offering
// already archived segments is harmless.
func (a *app) archivePendingWAL(ctx context.Context, storeName string) (int, error) {
	src, err := a.store(storeName)
	if err != nil {
		return 0, err
	}
	pending, err := src.PendingSegments()
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, seg := range pending {
		f, err := src.OpenSegment(seg.Seq)
		if err != nil {
			return archived, err
		}
		err = a.archiver.Archive(ctx, walarchive.SegmentInput{
			Store:      storeName,
			Seq:        seg.Seq,
			ProducedAt: seg.ProducedAt,
		}, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}
