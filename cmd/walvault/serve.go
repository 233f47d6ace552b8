// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
serve.go - Long-running service mode

Runs every periodic concern under one supervisor: WAL archival and
continuity scanning, scheduled backups, the validation sweep, retention
pruning and the compliance tick, plus the HTTP inspection surface with
/metrics and /healthz. Jobs and the HTTP server sit in separate
supervisor layers, so a crashing job loop cannot take the API down.
*/

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tomtom215/walvault/internal/api"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/scheduler"
	"github.com/tomtom215/walvault/internal/supervisor"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the inspection API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
			for _, job := range a.jobs() {
				tree.AddJob(scheduler.NewRunner(job))
			}

			server := &http.Server{
				Addr:              a.cfg.Server.ListenAddr,
				Handler:           api.NewRouter(api.NewHandler(a.cfg, a.cat, a.monitor)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			tree.AddAPI(supervisor.NewHTTPService(server, 10*time.Second))

			logging.Info().
				Str("listen_addr", a.cfg.Server.ListenAddr).
				Int("stores", len(a.cfg.Stores)).
				Msg("Walvault serving")
			return tree.Serve(ctx)
		},
	}
}

// jobs assembles the periodic work for serve mode.
func (a *app) jobs() []scheduler.Job {
	jobs := []scheduler.Job{
		{
			Name:       "wal-archive",
			Interval:   a.cfg.WAL.ScanInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				var firstErr error
				for _, store := range a.storeNames() {
					if _, err := a.archivePendingWAL(ctx, store); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			},
		},
		{
			Name:       "continuity-scan",
			Interval:   a.cfg.WAL.ScanInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				return a.scanner.ScanAll(ctx, a.storeNames())
			},
		},
		{
			Name:       "compliance-tick",
			Interval:   a.cfg.Compliance.TickInterval,
			RunOnStart: true,
			Run:        a.monitor.Tick,
		},
		{
			Name:     "retention-prune",
			Interval: 1 * time.Hour,
			Run: func(ctx context.Context) error {
				var firstErr error
				for _, store := range a.storeNames() {
					if _, err := a.pruner.Prune(ctx, store); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			},
		},
	}

	if a.cfg.Backup.ScheduleEnabled {
		jobs = append(jobs, scheduler.Job{
			Name:     "scheduled-backup",
			Interval: a.cfg.Backup.Interval,
			Run: func(ctx context.Context) error {
				var firstErr error
				for _, store := range a.storeNames() {
					src, err := a.store(store)
					if err == nil {
						_, err = a.producer.CreateFull(ctx, src, catalog.TriggerScheduled)
					}
					if err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			},
		})
	}
	if a.cfg.Validator.ScheduleEnabled {
		jobs = append(jobs, scheduler.Job{
			Name:     "validation-sweep",
			Interval: a.cfg.Validator.Interval,
			Run:      a.validator.Sweep,
		})
	}
	return jobs
}
