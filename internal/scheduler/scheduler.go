// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package scheduler runs named periodic jobs in-process so retry,
// backoff and locking stay testable instead of living in cron entries
// and shell scripts. Each job runs single-threaded in its own Runner;
// Runners implement suture.Service and are supervised in serve mode.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tomtom215/walvault/internal/logging"
)

// Job is one named periodic task.
type Job struct {
	// Name identifies the job in logs and supervisor output.
	Name string

	// Interval is the fixed tick between runs.
	Interval time.Duration

	// RunOnStart triggers an immediate run before the first tick.
	RunOnStart bool

	// Run executes one iteration. Errors are logged; they never stop
	// the loop.
	Run func(ctx context.Context) error
}

// Runner drives a single Job. It satisfies suture.Service.
type Runner struct {
	job    Job
	logger zerolog.Logger
}

// NewRunner creates a runner for the given job.
func NewRunner(job Job) *Runner {
	return &Runner{
		job:    job,
		logger: logging.With().Str("job", job.Name).Logger(),
	}
}

// String implements fmt.Stringer for supervisor logs.
func (r *Runner) String() string {
	return fmt.Sprintf("job-%s", r.job.Name)
}

// Serve implements the suture.Service interface. It runs the job on a
// fixed tick until the context is cancelled.
func (r *Runner) Serve(ctx context.Context) error {
	if r.job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", r.job.Name)
	}

	r.logger.Info().Dur("interval", r.job.Interval).Msg("job started")

	if r.job.RunOnStart {
		r.runOnce(ctx)
	}

	ticker := time.NewTicker(r.job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("job stopped")
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce executes a single iteration with panic isolation, so one bad
// run cannot take the whole loop down.
func (r *Runner) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("job run panicked")
		}
	}()

	start := time.Now()
	if err := r.job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job run failed")
		return
	}
	r.logger.Debug().Dur("elapsed", time.Since(start)).Msg("job run complete")
}
