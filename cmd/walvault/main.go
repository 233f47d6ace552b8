// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package main is the walvault command line interface.
//
// Walvault protects line-of-business data stores with continuous WAL
// archival, scheduled full and incremental backups, staged validation
// with restore rehearsals, point-in-time recovery, and RPO/RTO
// compliance monitoring.
//
// One-shot subcommands (backup, restore, compliance) run a single
// operation and exit; `walvault serve` runs the scheduler, the metrics
// endpoint and the inspection API under a supervisor until interrupted.
//
// Configuration is loaded via Koanf with layered sources (highest
// priority wins): WALVAULT_* environment variables, the config file
// (--config, $WALVAULT_CONFIG or ./walvault.yaml), built-in defaults.
package main

import "os"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
