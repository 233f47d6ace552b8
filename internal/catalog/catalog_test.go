// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(config.CatalogConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func fullArtifact(id, store string, completed time.Time, marker uint64, trust TrustState) Artifact {
	return Artifact{
		ID:          id,
		Store:       store,
		Type:        ArtifactFull,
		Trigger:     TriggerScheduled,
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: completed,
		SizeBytes:   1 << 20,
		Checksum:    "abc",
		Marker:      marker,
		Trust:       trust,
		Key:         "backups/" + store + "/" + id + ".tar.gz",
	}
}

func TestArtifactRoundTripAndDefaultTrust(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	a := fullArtifact("a1", "orders", time.Now().UTC(), 100, "")
	if err := c.PutArtifact(ctx, a); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}

	got, err := c.GetArtifact(ctx, "orders", "a1")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Trust != TrustUntested {
		t.Errorf("new artifacts must start untested, got %s", got.Trust)
	}
	if got.Marker != 100 {
		t.Errorf("marker = %d", got.Marker)
	}

	if _, err := c.GetArtifact(ctx, "orders", "missing"); faults.KindOf(err) != faults.KindNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestFindArtifactAcrossStores(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := c.PutArtifact(ctx, fullArtifact("a1", "orders", now, 10, TrustUntested)); err != nil {
		t.Fatal(err)
	}
	if err := c.PutArtifact(ctx, fullArtifact("b1", "users", now, 10, TrustUntested)); err != nil {
		t.Fatal(err)
	}

	got, err := c.FindArtifact(ctx, "b1")
	if err != nil {
		t.Fatalf("FindArtifact: %v", err)
	}
	if got.Store != "users" {
		t.Errorf("store = %s", got.Store)
	}
}

func TestSetTrustTransitions(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	a := fullArtifact("a1", "orders", time.Now().UTC(), 10, TrustUntested)
	if err := c.PutArtifact(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := c.SetTrust(ctx, "orders", "a1", TrustPassed); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}
	got, _ := c.GetArtifact(ctx, "orders", "a1")
	if got.Trust != TrustPassed {
		t.Errorf("trust = %s", got.Trust)
	}

	if err := c.SetTrust(ctx, "orders", "a1", TrustUntested); err == nil {
		t.Error("transition back to untested must be rejected")
	}
}

func TestNewestPassedFullSelection(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	artifacts := []Artifact{
		fullArtifact("a1", "orders", base, 100, TrustPassed),
		fullArtifact("a2", "orders", base.Add(time.Hour), 200, TrustPassed),
		fullArtifact("a3", "orders", base.Add(2*time.Hour), 300, TrustUntested),
		fullArtifact("a4", "orders", base.Add(3*time.Hour), 400, TrustFailed),
	}
	for _, a := range artifacts {
		if err := c.PutArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.NewestPassedFull(ctx, "orders")
	if err != nil {
		t.Fatalf("NewestPassedFull: %v", err)
	}
	if got.ID != "a2" {
		t.Errorf("expected a2 (newest passed), got %s", got.ID)
	}

	got, err = c.NewestPassedFullBefore(ctx, "orders", base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "a1" {
		t.Errorf("expected a1 before cutoff, got %s", got.ID)
	}

	got, err = c.NewestPassedFullWithMarkerAtMost(ctx, "orders", 150)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "a1" {
		t.Errorf("expected a1 by marker, got %s", got.ID)
	}

	_, err = c.NewestPassedFull(ctx, "empty-store")
	if !errors.Is(err, faults.ErrNoSuitableBackup) {
		t.Errorf("expected ErrNoSuitableBackup, got %v", err)
	}
}

func TestNewestPassedFullTieBreakIsDeterministic(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := c.PutArtifact(ctx, fullArtifact("aaa", "orders", ts, 10, TrustPassed)); err != nil {
		t.Fatal(err)
	}
	if err := c.PutArtifact(ctx, fullArtifact("zzz", "orders", ts, 10, TrustPassed)); err != nil {
		t.Fatal(err)
	}

	for range 5 {
		got, err := c.NewestPassedFull(ctx, "orders")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "zzz" {
			t.Fatalf("tie-break must pick highest ID, got %s", got.ID)
		}
	}
}

func TestSegmentRangeAndNewest(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, seq := range []uint64{5, 6, 7, 9, 10} {
		err := c.PutSegment(ctx, Segment{
			Store:      "orders",
			Seq:        seq,
			ProducedAt: now,
			ArchivedAt: now,
			SizeBytes:  128,
			Checksum:   "x",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	segs, err := c.SegmentsInRange(ctx, "orders", 6, 9)
	if err != nil {
		t.Fatalf("SegmentsInRange: %v", err)
	}
	var got []uint64
	for _, s := range segs {
		got = append(got, s.Seq)
	}
	want := []uint64{6, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("range = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range = %v, want %v", got, want)
		}
	}

	newest, err := c.NewestSegment(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if newest.Seq != 10 {
		t.Errorf("newest seq = %d", newest.Seq)
	}

	seqs, err := c.SegmentSeqs(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 5 || seqs[0] != 5 || seqs[4] != 10 {
		t.Errorf("seqs = %v", seqs)
	}
}

func TestMarkSegmentCorrupt(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	if err := c.PutSegment(ctx, Segment{Store: "orders", Seq: 1, Checksum: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkSegmentCorrupt(ctx, "orders", 1); err != nil {
		t.Fatalf("MarkSegmentCorrupt: %v", err)
	}
	s, err := c.GetSegment(ctx, "orders", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Corrupt {
		t.Error("segment must be flagged corrupt")
	}
}

func TestReportsAndRestoreRecords(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reports := []ValidationReport{
		{ID: "r1", ArtifactID: "a1", Store: "orders", Verdict: TrustFailed, CreatedAt: base},
		{ID: "r2", ArtifactID: "a1", Store: "orders", Verdict: TrustPassed, CreatedAt: base.Add(time.Hour)},
	}
	for _, r := range reports {
		if err := c.PutReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := c.LatestReport(ctx, "a1")
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if latest.ID != "r2" {
		t.Errorf("latest = %s", latest.ID)
	}

	records := []RestoreRecord{
		{ID: "x1", Store: "orders", Outcome: RestoreRolledBack, StartedAt: base, FinishedAt: base.Add(10 * time.Minute)},
		{ID: "x2", Store: "orders", Outcome: RestorePromoted, StartedAt: base.Add(time.Hour), FinishedAt: base.Add(90 * time.Minute)},
	}
	for _, r := range records {
		if err := c.PutRestoreRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	last, err := c.LastPromotedRestore(ctx, "orders")
	if err != nil {
		t.Fatalf("LastPromotedRestore: %v", err)
	}
	if last.ID != "x2" {
		t.Errorf("last promoted = %s", last.ID)
	}
	if last.Duration() != 30*time.Minute {
		t.Errorf("duration = %s", last.Duration())
	}
}

func TestStats(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := c.PutArtifact(ctx, fullArtifact("a1", "orders", now, 10, TrustPassed)); err != nil {
		t.Fatal(err)
	}
	for _, seq := range []uint64{1, 2} {
		if err := c.PutSegment(ctx, Segment{Store: "orders", Seq: seq, SizeBytes: 100}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := c.Stats(ctx, "orders")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Artifacts != 1 || stats.PassedFulls != 1 || stats.Segments != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.OldestSegmentSeq != 1 || stats.NewestSegmentSeq != 2 {
		t.Errorf("segment bounds = %d..%d", stats.OldestSegmentSeq, stats.NewestSegmentSeq)
	}
	if stats.TotalBytes != (1<<20)+200 {
		t.Errorf("total bytes = %d", stats.TotalBytes)
	}
}
