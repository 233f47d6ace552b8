// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package supervisor builds the suture tree for serve mode. Scheduled
// jobs and the HTTP surface live under separate child supervisors so a
// crashing job loop cannot take the inspection API down with it.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/tomtom215/walvault/internal/logging"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when the threshold is
	// exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig matches suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the two-layer supervisor for serve mode.
type Tree struct {
	root *suture.Supervisor
	jobs *suture.Supervisor
	api  *suture.Supervisor
}

// NewTree creates the supervisor hierarchy.
func NewTree(config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	rootSpec := suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := rootSpec
	childSpec.EventHook = nil // inherited from the root

	root := suture.New("walvault", rootSpec)
	jobs := suture.New("jobs", childSpec)
	api := suture.New("api", childSpec)
	root.Add(jobs)
	root.Add(api)

	return &Tree{root: root, jobs: jobs, api: api}
}

// AddJob places a service under the jobs layer.
func (t *Tree) AddJob(svc suture.Service) {
	t.jobs.Add(svc)
}

// AddAPI places a service under the api layer.
func (t *Tree) AddAPI(svc suture.Service) {
	t.api.Add(svc)
}

// Serve blocks until the context is cancelled, then shuts the tree
// down. A cancelled context is a normal exit, not an error.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// logEvent routes suture lifecycle events into the structured log.
func logEvent(ev suture.Event) {
	entry := logging.Info()
	switch ev.Type() {
	case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		entry = logging.Warn()
	case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
		entry = logging.Error()
	case suture.EventTypeResume:
		// stays Info
	}
	entry.Str("component", "supervisor").Msg(ev.String())
}
