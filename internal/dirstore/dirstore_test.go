// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package dirstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/walvault/internal/restore"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Init("orders", filepath.Join(t.TempDir(), "orders"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return s
}

func readAll(t *testing.T, rc io.ReadCloser) []string {
	t.Helper()
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := strings.TrimSuffix(string(raw), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestAppendAdvancesMarkerAndJournals(t *testing.T) {
	s := testStore(t)

	seq, err := s.Append("orders", "o1", "o2")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected sequence 1, got %d", seq)
	}

	segs, err := s.PendingSegments()
	if err != nil {
		t.Fatalf("pending segments: %v", err)
	}
	if len(segs) != 1 || segs[0].Seq != 1 {
		t.Fatalf("expected one pending segment with seq 1, got %+v", segs)
	}

	f, err := s.OpenSegment(1)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	lines := readAll(t, f)
	if len(lines) != 2 || lines[0] != "orders:o1" {
		t.Errorf("unexpected segment content: %v", lines)
	}
}

func TestSnapshotIsIsolatedFromLaterWrites(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append("orders", "o1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, err := s.BeginSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	defer snap.Close() //nolint:errcheck // test cleanup

	if _, err := s.Append("orders", "o2"); err != nil {
		t.Fatalf("append after snapshot: %v", err)
	}

	if snap.Marker() != 1 {
		t.Errorf("expected marker 1, got %d", snap.Marker())
	}
	rc, err := snap.Open(context.Background(), "orders")
	if err != nil {
		t.Fatalf("open snapshot collection: %v", err)
	}
	lines := readAll(t, rc)
	if len(lines) != 1 || lines[0] != "o1" {
		t.Errorf("snapshot leaked later writes: %v", lines)
	}
}

func TestIncrementalSnapshotCutsFromWAL(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append("orders", "o1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	base, err := s.Marker()
	if err != nil {
		t.Fatalf("marker: %v", err)
	}
	if _, err := s.Append("orders", "o2"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append("line_items", "l1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, err := s.BeginIncremental(context.Background(), base)
	if err != nil {
		t.Fatalf("incremental snapshot: %v", err)
	}
	defer snap.Close() //nolint:errcheck // test cleanup

	counts := snap.Counts()
	if counts["orders"] != 1 || counts["line_items"] != 1 {
		t.Fatalf("unexpected incremental counts: %v", counts)
	}
	rc, err := snap.Open(context.Background(), "orders")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if lines := readAll(t, rc); len(lines) != 1 || lines[0] != "o2" {
		t.Errorf("incremental should hold only post-marker records, got %v", lines)
	}
}

func TestFullSessionCommitSwapsCollections(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append("orders", "stale-1", "stale-2"); err != nil {
		t.Fatalf("append: %v", err)
	}

	ctx := context.Background()
	sess, err := s.BeginRestore(ctx, restore.Scope{})
	if err != nil {
		t.Fatalf("begin restore: %v", err)
	}

	if busy, _ := s.Busy(ctx); !busy {
		t.Error("store should be busy while a session is open")
	}

	if err := sess.Load(ctx, "orders", strings.NewReader("r1\nr2\n")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := sess.Apply(ctx, 7, strings.NewReader("orders:r3\n")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	counts, err := sess.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["orders"] != 3 {
		t.Fatalf("expected 3 staged records, got %d", counts["orders"])
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if busy, _ := s.Busy(ctx); busy {
		t.Error("commit should release the store")
	}
	live, err := os.ReadFile(s.collectionPath("orders"))
	if err != nil {
		t.Fatalf("read live collection: %v", err)
	}
	if string(live) != "r1\nr2\nr3\n" {
		t.Errorf("unexpected live content: %q", live)
	}
	marker, err := s.Marker()
	if err != nil {
		t.Fatalf("marker: %v", err)
	}
	if marker != 7 {
		t.Errorf("commit should advance the marker to the last applied segment, got %d", marker)
	}
}

func TestAbortLeavesStoreUntouched(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append("orders", "keep"); err != nil {
		t.Fatalf("append: %v", err)
	}

	ctx := context.Background()
	sess, err := s.BeginRestore(ctx, restore.Scope{})
	if err != nil {
		t.Fatalf("begin restore: %v", err)
	}
	if err := sess.Load(ctx, "orders", strings.NewReader("discarded\n")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := sess.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}

	live, err := os.ReadFile(s.collectionPath("orders"))
	if err != nil {
		t.Fatalf("read live collection: %v", err)
	}
	if string(live) != "keep\n" {
		t.Errorf("abort modified the store: %q", live)
	}
	if busy, _ := s.Busy(ctx); busy {
		t.Error("abort should release the store")
	}
}

func TestScopedSessionWritesSideTable(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append("orders", "live"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append("line_items", "l1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	ctx := context.Background()
	sess, err := s.BeginRestore(ctx, restore.Scope{Table: "orders"})
	if err != nil {
		t.Fatalf("begin restore: %v", err)
	}
	if err := sess.Load(ctx, "orders", strings.NewReader("old-1\n")); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Out-of-scope collections are skipped, both on load and replay.
	if err := sess.Load(ctx, "line_items", strings.NewReader("ignored\n")); err != nil {
		t.Fatalf("load out of scope: %v", err)
	}
	if err := sess.Apply(ctx, 5, strings.NewReader("line_items:ignored\norders:old-2\n")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	live, _ := os.ReadFile(s.collectionPath("orders"))
	if string(live) != "live\n" {
		t.Errorf("scoped restore touched the live table: %q", live)
	}

	names, err := s.collections()
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	var side string
	for _, name := range names {
		if strings.HasPrefix(name, "orders_restored_") {
			side = name
		}
	}
	if side == "" {
		t.Fatalf("no side table written, collections: %v", names)
	}
	content, _ := os.ReadFile(s.collectionPath(side))
	if string(content) != "old-1\nold-2\n" {
		t.Errorf("unexpected side table content: %q", content)
	}
}

func TestConcurrentSessionsAreRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.BeginRestore(ctx, restore.Scope{})
	if err != nil {
		t.Fatalf("begin restore: %v", err)
	}
	defer first.Abort(ctx) //nolint:errcheck // test cleanup

	if _, err := s.BeginRestore(ctx, restore.Scope{}); err == nil {
		t.Fatal("second session should be rejected while the first holds the lock")
	}
}

func TestRehearsalFactoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	target, err := RehearsalFactory{}.New(ctx, "orders")
	if err != nil {
		t.Fatalf("new rehearsal: %v", err)
	}
	if err := target.Load(ctx, "orders", strings.NewReader("a\nb\n")); err != nil {
		t.Fatalf("load: %v", err)
	}
	counts, err := target.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["orders"] != 2 {
		t.Errorf("expected 2 records, got %d", counts["orders"])
	}
	if err := target.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
}
