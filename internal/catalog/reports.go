// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
reports.go - Validation Reports, Restore Records, Catalog Stats

Validation reports are keyed under their artifact so an operator can pull
the full history of a single backup. Restore records are keyed per store
by start time; the most recent promoted run feeds the recovery-time
estimate.
*/

package catalog

import (
	"context"
	"fmt"

	"github.com/tomtom215/walvault/internal/faults"
)

func reportKey(artifactID string, createdAtNano int64) string {
	return fmt.Sprintf("%s%s:%020d", prefixReport, artifactID, createdAtNano)
}

func restoreKey(store string, startedAtNano int64) string {
	return fmt.Sprintf("%s%s:%020d", prefixRestore, store, startedAtNano)
}

// PutReport persists a validation report.
func (c *Catalog) PutReport(ctx context.Context, r ValidationReport) error {
	if r.ArtifactID == "" {
		return faults.New(faults.KindInternal, "report requires artifact id")
	}
	return c.put(reportKey(r.ArtifactID, r.CreatedAt.UnixNano()), r)
}

// ReportsForArtifact returns an artifact's validation history, oldest first.
func (c *Catalog) ReportsForArtifact(ctx context.Context, artifactID string) ([]ValidationReport, error) {
	var out []ValidationReport
	err := scan(c, prefixReport+artifactID+":", func(_ string, r ValidationReport) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LatestReport returns the most recent validation report for an artifact.
func (c *Catalog) LatestReport(ctx context.Context, artifactID string) (ValidationReport, error) {
	reports, err := c.ReportsForArtifact(ctx, artifactID)
	if err != nil {
		return ValidationReport{}, err
	}
	if len(reports) == 0 {
		return ValidationReport{}, faults.Wrap(faults.KindNotFound,
			fmt.Sprintf("no reports for artifact %s", artifactID), faults.ErrNotFound)
	}
	return reports[len(reports)-1], nil
}

// PutRestoreRecord persists the outcome of a restore run.
func (c *Catalog) PutRestoreRecord(ctx context.Context, r RestoreRecord) error {
	if r.Store == "" {
		return faults.New(faults.KindInternal, "restore record requires store")
	}
	return c.put(restoreKey(r.Store, r.StartedAt.UnixNano()), r)
}

// LastPromotedRestore returns the most recent restore run that reached
// Promoted for a store.
func (c *Catalog) LastPromotedRestore(ctx context.Context, store string) (RestoreRecord, error) {
	var last *RestoreRecord
	err := scan(c, prefixRestore+store+":", func(_ string, r RestoreRecord) error {
		if r.Outcome == RestorePromoted {
			last = &r
		}
		return nil
	})
	if err != nil {
		return RestoreRecord{}, err
	}
	if last == nil {
		return RestoreRecord{}, faults.Wrap(faults.KindNotFound,
			fmt.Sprintf("no promoted restores for store %s", store), faults.ErrNotFound)
	}
	return *last, nil
}

// ListRestoreRecords returns a store's restore history, oldest first.
func (c *Catalog) ListRestoreRecords(ctx context.Context, store string) ([]RestoreRecord, error) {
	var out []RestoreRecord
	err := scan(c, prefixRestore+store+":", func(_ string, r RestoreRecord) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats summarizes the catalog contents for one store.
func (c *Catalog) Stats(ctx context.Context, store string) (StoreStats, error) {
	stats := StoreStats{Store: store}

	artifacts, err := c.ListArtifacts(ctx, store, ArtifactFilter{})
	if err != nil {
		return StoreStats{}, err
	}
	stats.Artifacts = len(artifacts)
	for _, a := range artifacts {
		stats.TotalBytes += a.SizeBytes
		if a.Type == ArtifactFull && a.Trust == TrustPassed {
			stats.PassedFulls++
		}
	}
	if len(artifacts) > 0 {
		t := artifacts[0].CompletedAt
		stats.NewestArtifactAt = &t
	}

	err = scan(c, prefixSegment+store+":", func(_ string, s Segment) error {
		if stats.Segments == 0 {
			stats.OldestSegmentSeq = s.Seq
		}
		stats.NewestSegmentSeq = s.Seq
		stats.Segments++
		stats.TotalBytes += s.SizeBytes
		return nil
	})
	if err != nil {
		return StoreStats{}, err
	}
	return stats, nil
}
