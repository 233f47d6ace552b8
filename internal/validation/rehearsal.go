// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
rehearsal.go - Disposable Restore Targets

A rehearsal proves an artifact restores, not just that it decodes. The
validator loads the container into a disposable instance, reads the
record counts back out, and tears the instance down whatever happened.
The factory abstracts how disposable instances are provisioned.
*/

package validation

import (
	"context"
	"io"
)

// RehearsalTarget is a throwaway instance an artifact is restored into.
type RehearsalTarget interface {
	// Load ingests one collection's records.
	Load(ctx context.Context, collection string, data io.Reader) error
	// Counts reports the record count per collection after loading.
	Counts(ctx context.Context) (map[string]int64, error)
	// Teardown destroys the instance. Always called, pass or fail.
	Teardown() error
}

// RehearsalFactory provisions disposable instances per store.
type RehearsalFactory interface {
	New(ctx context.Context, store string) (RehearsalTarget, error)
}
