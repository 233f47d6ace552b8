// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
destination.go - Restore Destination Contract

A destination is the live store a restore writes into. It must also act
as a backup source, because the orchestrator takes a safety snapshot of
the destination before touching it, using the ordinary backup producer.

Restore work happens inside a session. Full-scope sessions replace the
store contents on Commit; table-scope sessions write into a timestamped
side table and leave the rest of the store alone. Until Commit, staged
work is invisible to readers and Abort discards it.
*/

package restore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tomtom215/walvault/internal/backup"
)

// Scope limits what a restore touches. The zero value is a full restore.
type Scope struct {
	// Table, when set, restores a single collection into a timestamped
	// side table instead of replacing the store.
	Table string
}

// IsFull reports whether the scope covers the whole store.
func (s Scope) IsFull() bool { return s.Table == "" }

// SideTableName names the side table a table-scoped restore writes to.
func (s Scope) SideTableName(at time.Time) string {
	return fmt.Sprintf("%s_restored_%s", s.Table, at.UTC().Format("20060102T150405"))
}

// Destination is a live store restores are orchestrated against.
type Destination interface {
	backup.Source

	// Busy reports whether the destination is serving traffic or
	// otherwise unsafe to restore into.
	Busy(ctx context.Context) (bool, error)

	// BeginRestore opens a staged restore session.
	BeginRestore(ctx context.Context, scope Scope) (Session, error)
}

// Session is one staged restore attempt against a destination.
type Session interface {
	// Load ingests one collection's records from the base artifact.
	Load(ctx context.Context, collection string, data io.Reader) error
	// Apply replays one archived log segment over the staged data.
	Apply(ctx context.Context, seq uint64, data io.Reader) error
	// Counts reports staged record counts per collection.
	Counts(ctx context.Context) (map[string]int64, error)
	// Commit atomically promotes the staged data.
	Commit(ctx context.Context) error
	// Abort discards the staged data.
	Abort(ctx context.Context) error
}
