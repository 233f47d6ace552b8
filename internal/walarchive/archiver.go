// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
archiver.go - WAL Segment Archiver

Copies closed log segments into the archive exactly once. Re-archiving an
already archived segment with identical content is a silent no-op, so a
crashed archiver can replay its queue without damage. Re-archiving with
DIFFERENT content means the source or the archive is lying about history:
the archived copy is never overwritten, the segment is flagged corrupt in
the catalog, and the caller gets a fatal corruption fault.
*/

package walarchive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
	"github.com/tomtom215/walvault/internal/notify"
)

// SegmentInput identifies a closed log segment handed to the archiver.
type SegmentInput struct {
	Store      string
	Seq        uint64
	ProducedAt time.Time
}

// Archiver moves closed WAL segments into the archive and registers them
// in the catalog.
type Archiver struct {
	transport archive.Transport
	cat       *catalog.Catalog
	notifier  *notify.Dispatcher
}

// NewArchiver wires an archiver to its transport, catalog and notifier.
func NewArchiver(t archive.Transport, cat *catalog.Catalog, n *notify.Dispatcher) *Archiver {
	return &Archiver{transport: t, cat: cat, notifier: n}
}

// Archive uploads one segment with its checksum sidecar and records it.
// The payload must be rewindable because it is hashed before upload.
func (a *Archiver) Archive(ctx context.Context, seg SegmentInput, payload io.ReadSeeker) error {
	checksum, size, err := archive.HashReader(payload)
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "hash segment", err)
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return faults.Wrap(faults.KindTransientIO, "rewind segment", err)
	}

	existing, err := a.cat.GetSegment(ctx, seg.Store, seg.Seq)
	switch faults.KindOf(err) {
	case "":
		return a.reconcile(ctx, seg, existing, checksum, payload)
	case faults.KindNotFound:
		// First sighting, archive it below.
	default:
		return err
	}

	key := archive.SegmentKey(seg.Store, seg.Seq)
	if _, _, err := archive.PutWithChecksum(ctx, a.transport, key, payload); err != nil {
		metrics.WALSegmentsArchived.WithLabelValues(seg.Store, "error").Inc()
		return err
	}

	now := time.Now().UTC()
	err = a.cat.PutSegment(ctx, catalog.Segment{
		Store:      seg.Store,
		Seq:        seg.Seq,
		ProducedAt: seg.ProducedAt,
		ArchivedAt: now,
		SizeBytes:  size,
		Checksum:   checksum,
		Key:        key,
	})
	if err != nil {
		return err
	}

	metrics.WALSegmentsArchived.WithLabelValues(seg.Store, "archived").Inc()
	metrics.WALArchiveAge.WithLabelValues(seg.Store).Set(0)

	logging.Debug().
		Str("store", seg.Store).
		Uint64("seq", seg.Seq).
		Int64("size", size).
		Msg("Segment archived")
	return nil
}

// reconcile handles a segment the catalog already knows about.
func (a *Archiver) reconcile(ctx context.Context, seg SegmentInput, existing catalog.Segment, checksum string, payload io.ReadSeeker) error {
	if existing.Checksum != checksum {
		//nolint:errcheck // The corruption fault below carries the failure; flagging is best-effort
		a.cat.MarkSegmentCorrupt(ctx, seg.Store, seg.Seq)
		metrics.WALSegmentsArchived.WithLabelValues(seg.Store, "corrupt").Inc()

		a.notifier.Dispatch(ctx, notify.Event{
			Type:     "wal.segment_corrupt",
			Severity: notify.SeverityCritical,
			Store:    seg.Store,
			Message:  fmt.Sprintf("segment %d re-archived with different content", seg.Seq),
			Detail:   fmt.Sprintf("archived checksum %s, incoming %s", existing.Checksum, checksum),
		})

		logging.Error().
			Str("store", seg.Store).
			Uint64("seq", seg.Seq).
			Str("archived_checksum", existing.Checksum).
			Str("incoming_checksum", checksum).
			Msg("Segment content diverged from archived copy")

		return faults.Wrap(faults.KindCorruption,
			fmt.Sprintf("segment %d content diverged from archive", seg.Seq), faults.ErrCorruption)
	}

	// Same bytes. If the archived object vanished, restore it; otherwise
	// this is the idempotent no-op path.
	exists, err := a.transport.Exists(ctx, existing.Key)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := payload.Seek(0, io.SeekStart); err != nil {
			return faults.Wrap(faults.KindTransientIO, "rewind segment", err)
		}
		if _, _, err := archive.PutWithChecksum(ctx, a.transport, existing.Key, payload); err != nil {
			return err
		}
		metrics.WALSegmentsArchived.WithLabelValues(seg.Store, "healed").Inc()
		logging.Warn().
			Str("store", seg.Store).
			Uint64("seq", seg.Seq).
			Msg("Re-uploaded segment missing from archive")
		return nil
	}

	metrics.WALSegmentsArchived.WithLabelValues(seg.Store, "duplicate").Inc()
	logging.Debug().
		Str("store", seg.Store).
		Uint64("seq", seg.Seq).
		Msg("Segment already archived, no-op")
	return nil
}
