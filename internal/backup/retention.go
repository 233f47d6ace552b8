// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
retention.go - Retention Pruning

Prunes artifacts older than their retention window, plus the log segments
nothing can replay from anymore. Two hard rules: the newest validated
full backup is never pruned no matter how old it is, and segments are
only pruned up to the oldest retained full's consistency marker, so every
retained full keeps an unbroken replay chain ahead of it.
*/

package backup

import (
	"context"
	"time"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
)

// Pruner applies the retention policy to one store at a time.
type Pruner struct {
	cfg       config.BackupConfig
	transport archive.Transport
	cat       *catalog.Catalog

	// now is swappable for tests.
	now func() time.Time
}

// NewPruner wires a pruner to its transport and catalog.
func NewPruner(cfg config.BackupConfig, t archive.Transport, cat *catalog.Catalog) *Pruner {
	return &Pruner{cfg: cfg, transport: t, cat: cat, now: time.Now}
}

// PruneResult summarizes one pruning pass.
type PruneResult struct {
	ArtifactsDeleted int
	SegmentsDeleted  int
}

// Prune applies the retention policy to a store.
func (p *Pruner) Prune(ctx context.Context, store string) (PruneResult, error) {
	var res PruneResult

	fulls, err := p.cat.ListArtifacts(ctx, store, catalog.ArtifactFilter{Type: catalog.ArtifactFull})
	if err != nil {
		return res, err
	}
	incs, err := p.cat.ListArtifacts(ctx, store, catalog.ArtifactFilter{Type: catalog.ArtifactIncremental})
	if err != nil {
		return res, err
	}

	keep := p.retainedArtifacts(fulls, incs)

	for _, a := range append(fulls, incs...) {
		if _, retained := keep[a.ID]; retained {
			continue
		}
		if err := p.deleteArtifact(ctx, a); err != nil {
			return res, err
		}
		res.ArtifactsDeleted++
	}

	deleted, err := p.pruneSegments(ctx, store, fulls, keep)
	if err != nil {
		return res, err
	}
	res.SegmentsDeleted = deleted

	if res.ArtifactsDeleted > 0 || res.SegmentsDeleted > 0 {
		logging.Info().
			Str("store", store).
			Int("artifacts_deleted", res.ArtifactsDeleted).
			Int("segments_deleted", res.SegmentsDeleted).
			Msg("Retention pruning completed")
	}
	return res, nil
}

// retainedArtifacts picks the artifact IDs that survive pruning. Input
// slices are newest-first. A zero window disables pruning for that type.
func (p *Pruner) retainedArtifacts(fulls, incs []catalog.Artifact) map[string]struct{} {
	keep := make(map[string]struct{})
	now := p.now()

	for _, a := range fulls {
		if p.cfg.RetainFull == 0 || now.Sub(a.CompletedAt) <= p.cfg.RetainFull {
			keep[a.ID] = struct{}{}
		}
	}
	// The newest full and the newest passed full survive regardless of
	// the window: pruning must never leave a store unrestorable.
	if len(fulls) > 0 {
		keep[fulls[0].ID] = struct{}{}
	}
	for _, a := range fulls {
		if a.Trust == catalog.TrustPassed {
			keep[a.ID] = struct{}{}
			break
		}
	}
	for _, a := range incs {
		if p.cfg.RetainIncremental == 0 || now.Sub(a.CompletedAt) <= p.cfg.RetainIncremental {
			keep[a.ID] = struct{}{}
		}
	}
	return keep
}

func (p *Pruner) deleteArtifact(ctx context.Context, a catalog.Artifact) error {
	if err := p.transport.Delete(ctx, a.Key); err != nil && faults.KindOf(err) != faults.KindNotFound {
		return err
	}
	if err := p.transport.Delete(ctx, archive.ChecksumKey(a.Key)); err != nil && faults.KindOf(err) != faults.KindNotFound {
		return err
	}
	return p.cat.DeleteArtifact(ctx, a.Store, a.ID)
}

// pruneSegments removes segments no retained full can replay from. A
// segment is prunable only when its sequence is at or below the oldest
// retained full's marker (replay for that full starts at marker+1) and it
// has aged out of the segment retention window.
func (p *Pruner) pruneSegments(ctx context.Context, store string, fulls []catalog.Artifact, keep map[string]struct{}) (int, error) {
	if p.cfg.RetainSegments == 0 {
		return 0, nil
	}

	var oldestMarker uint64
	found := false
	for _, a := range fulls {
		if _, retained := keep[a.ID]; !retained {
			continue
		}
		if !found || a.Marker < oldestMarker {
			oldestMarker = a.Marker
			found = true
		}
	}
	if !found {
		// No retained fulls means no safe pruning horizon.
		return 0, nil
	}

	seqs, err := p.cat.SegmentSeqs(ctx, store)
	if err != nil {
		return 0, err
	}

	cutoff := p.now().Add(-p.cfg.RetainSegments)
	deleted := 0
	for _, seq := range seqs {
		if seq > oldestMarker {
			break
		}
		seg, err := p.cat.GetSegment(ctx, store, seq)
		if err != nil {
			return deleted, err
		}
		if seg.ArchivedAt.After(cutoff) {
			continue
		}
		if err := p.transport.Delete(ctx, seg.Key); err != nil && faults.KindOf(err) != faults.KindNotFound {
			return deleted, err
		}
		if err := p.transport.Delete(ctx, archive.ChecksumKey(seg.Key)); err != nil && faults.KindOf(err) != faults.KindNotFound {
			return deleted, err
		}
		if err := p.cat.DeleteSegment(ctx, store, seq); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
