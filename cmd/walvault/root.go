// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/backup"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/compliance"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/dirstore"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/notify"
	"github.com/tomtom215/walvault/internal/restore"
	"github.com/tomtom215/walvault/internal/validation"
	"github.com/tomtom215/walvault/internal/walarchive"
)

var configPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "walvault",
		Short:         "Backup, archival and point-in-time recovery engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file")

	cmd.AddCommand(backupCmd())
	cmd.AddCommand(restoreCmd())
	cmd.AddCommand(complianceCmd())
	cmd.AddCommand(storeCmd())
	cmd.AddCommand(serveCmd())
	return cmd
}

// app holds the wired engine components for one command invocation.
type app struct {
	cfg          *config.Config
	cat          *catalog.Catalog
	transport    archive.Transport
	notifier     *notify.Dispatcher
	producer     *backup.Producer
	pruner       *backup.Pruner
	validator    *validation.Validator
	orchestrator *restore.Orchestrator
	archiver     *walarchive.Archiver
	scanner      *walarchive.ContinuityScanner
	monitor      *compliance.Monitor
}

// openApp loads the configuration and wires every component.
func openApp(ctx context.Context) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
	})

	transport, err := archive.NewTransport(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("archive transport: %w", err)
	}
	cat, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL))
	}
	notifier := notify.NewDispatcher(cfg.Notify.Timeout, sinks...)

	var space compliance.SpaceReporter
	if sr, ok := transport.(compliance.SpaceReporter); ok {
		space = sr
	}

	producer := backup.NewProducer(cfg.Backup, transport, cat, notifier)
	a := &app{
		cfg:          cfg,
		cat:          cat,
		transport:    transport,
		notifier:     notifier,
		producer:     producer,
		pruner:       backup.NewPruner(cfg.Backup, transport, cat),
		validator:    validation.NewValidator(cfg, transport, cat, notifier, dirstore.RehearsalFactory{}),
		orchestrator: restore.NewOrchestrator(cfg, transport, cat, producer, notifier),
		archiver:     walarchive.NewArchiver(transport, cat, notifier),
		scanner:      walarchive.NewContinuityScanner(cat, notifier),
		monitor:      compliance.NewMonitor(cfg, cat, notifier, space),
	}
	return a, nil
}

func (a *app) close() {
	if err := a.cat.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close catalog")
	}
}

// store opens the directory adapter for a configured store.
func (a *app) store(name string) (*dirstore.Store, error) {
	sc, err := a.cfg.StoreByName(name)
	if err != nil {
		return nil, err
	}
	return dirstore.Open(sc.Name, sc.Path)
}

// storeNames lists the configured store names.
func (a *app) storeNames() []string {
	names := make([]string, 0, len(a.cfg.Stores))
	for _, s := range a.cfg.Stores {
		names = append(names, s.Name)
	}
	return names
}

// printStatus emits the machine-parseable outcome line every command
// ends with.
func printStatus(status string) {
	fmt.Printf("status: %s\n", status)
}
