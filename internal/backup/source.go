// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
source.go - Backup Source Contract

The producer backs up anything that can hand out a consistent snapshot.
A Snapshot pins a single consistency marker (the log sequence number
current at the moment the snapshot began) and exposes the collections
visible at that marker. Everything streamed from the snapshot reflects
that one instant, which is what makes log replay from the marker sound.
*/

package backup

import (
	"context"
	"io"
)

// Source is a data store the producer can snapshot.
type Source interface {
	// Name returns the store's catalog name.
	Name() string
	// BeginSnapshot opens a consistent point-in-time view. The caller
	// must Close the snapshot, success or failure.
	BeginSnapshot(ctx context.Context) (Snapshot, error)
}

// IncrementalSource is implemented by sources that can enumerate changes
// since an earlier consistency marker. Sources without it only get full
// backups.
type IncrementalSource interface {
	Source
	// BeginIncremental opens a snapshot restricted to records changed
	// after the given marker.
	BeginIncremental(ctx context.Context, sinceMarker uint64) (Snapshot, error)
}

// Snapshot is one consistent view of a source.
type Snapshot interface {
	// Marker is the log sequence number current when the snapshot began.
	Marker() uint64
	// Collections lists the collection names captured in this snapshot.
	Collections() []string
	// Counts returns the record count per collection at the marker.
	Counts() map[string]int64
	// Open streams one collection's records.
	Open(ctx context.Context, collection string) (io.ReadCloser, error)
	// Close releases the snapshot's resources.
	Close() error
}
