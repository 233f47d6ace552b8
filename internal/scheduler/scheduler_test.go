// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerTicks(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner(Job{
		Name:     "tick-test",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Serve(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunnerRunOnStart(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner(Job{
		Name:       "immediate",
		Interval:   time.Hour, // No tick will fire during the test
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Serve(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("RunOnStart job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r := NewRunner(Job{
		Name:     "cancel-test",
		Interval: 5 * time.Millisecond,
		Run:      func(context.Context) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Serve(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestRunnerSurvivesErrorsAndPanics(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner(Job{
		Name:     "crashy",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			n := runs.Add(1)
			switch n {
			case 1:
				return errors.New("transient failure")
			case 2:
				panic("boom")
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Serve(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop died after error/panic; runs=%d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunnerRejectsZeroInterval(t *testing.T) {
	r := NewRunner(Job{Name: "bad", Interval: 0, Run: func(context.Context) error { return nil }})
	if err := r.Serve(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
}
