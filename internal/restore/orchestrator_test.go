// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/backup"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/notify"
)

// memDestination is an in-memory store with staged restore sessions.
// Records are plain strings; segment payloads are "collection:record"
// lines applied in order.
type memDestination struct {
	name string
	busy bool

	mu   sync.Mutex
	data map[string][]string
}

func newMemDestination(name string) *memDestination {
	return &memDestination{name: name, data: make(map[string][]string)}
}

func (d *memDestination) Name() string { return d.name }

func (d *memDestination) Busy(context.Context) (bool, error) { return d.busy, nil }

func (d *memDestination) snapshot() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]string, len(d.data))
	for k, v := range d.data {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// BeginSnapshot makes the destination a backup source for safety snapshots.
func (d *memDestination) BeginSnapshot(context.Context) (backup.Snapshot, error) {
	return &memSnapshot{data: d.snapshot()}, nil
}

func (d *memDestination) BeginRestore(_ context.Context, scope Scope) (Session, error) {
	return &memSession{dest: d, scope: scope, staged: make(map[string][]string)}, nil
}

type memSnapshot struct {
	data map[string][]string
}

func (s *memSnapshot) Marker() uint64 { return 0 }

func (s *memSnapshot) Collections() []string {
	var names []string
	for name := range s.data {
		names = append(names, name)
	}
	return names
}

func (s *memSnapshot) Counts() map[string]int64 {
	counts := make(map[string]int64)
	for name, recs := range s.data {
		counts[name] = int64(len(recs))
	}
	return counts
}

func (s *memSnapshot) Open(_ context.Context, collection string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(strings.Join(s.data[collection], "\n"))), nil
}

func (s *memSnapshot) Close() error { return nil }

type memSession struct {
	dest   *memDestination
	scope  Scope
	staged map[string][]string
}

func (s *memSession) Load(_ context.Context, collection string, data io.Reader) error {
	var records []string
	sc := bufio.NewScanner(data)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			records = append(records, line)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	s.staged[collection] = records
	return nil
}

func (s *memSession) Apply(_ context.Context, _ uint64, data io.Reader) error {
	sc := bufio.NewScanner(data)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		collection, record, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("malformed segment line %q", line)
		}
		if !s.scope.IsFull() && collection != s.scope.Table {
			continue
		}
		s.staged[collection] = append(s.staged[collection], record)
	}
	return sc.Err()
}

func (s *memSession) Counts(context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for name, recs := range s.staged {
		counts[name] = int64(len(recs))
	}
	return counts, nil
}

func (s *memSession) Commit(context.Context) error {
	s.dest.mu.Lock()
	defer s.dest.mu.Unlock()
	if s.scope.IsFull() {
		s.dest.data = s.staged
		return nil
	}
	side := s.scope.SideTableName(time.Now())
	s.dest.data[side] = s.staged[s.scope.Table]
	return nil
}

func (s *memSession) Abort(context.Context) error {
	s.staged = nil
	return nil
}

type env struct {
	cfg          *config.Config
	orchestrator *Orchestrator
	producer     *backup.Producer
	transport    archive.Transport
	cat          *catalog.Catalog
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.Default()
	cfg.Stores = []config.StoreConfig{
		{Name: "orders", Tier: config.TierCritical, CriticalCollections: []string{"orders"}},
	}
	cfg.Backup.Compression = backup.CompressionGzip
	cfg.Backup.CompressionLevel = 6

	transport, err := archive.NewLocalTransport(config.ArchiveConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Open(config.CatalogConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	dispatcher := notify.NewDispatcher(time.Second)
	producer := backup.NewProducer(cfg.Backup, transport, cat, dispatcher)

	return &env{
		cfg:          cfg,
		orchestrator: NewOrchestrator(cfg, transport, cat, producer, dispatcher),
		producer:     producer,
		transport:    transport,
		cat:          cat,
	}
}

// seed fills the destination, takes a validated full backup at the given
// marker, and returns the backup artifact.
func (e *env) seed(t *testing.T, dest *memDestination, marker uint64) catalog.Artifact {
	t.Helper()
	ctx := context.Background()

	src := &markedSource{dest: dest, marker: marker}
	artifact, err := e.producer.CreateFull(ctx, src, catalog.TriggerManual)
	if err != nil {
		t.Fatalf("seed backup: %v", err)
	}
	if err := e.cat.SetTrust(ctx, dest.name, artifact.ID, catalog.TrustPassed); err != nil {
		t.Fatal(err)
	}
	return artifact
}

// markedSource snapshots a destination at a fixed consistency marker.
type markedSource struct {
	dest   *memDestination
	marker uint64
}

func (m *markedSource) Name() string { return m.dest.name }

func (m *markedSource) BeginSnapshot(ctx context.Context) (backup.Snapshot, error) {
	snap, err := m.dest.BeginSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &markedSnapshot{Snapshot: snap, marker: m.marker}, nil
}

type markedSnapshot struct {
	backup.Snapshot
	marker uint64
}

func (m *markedSnapshot) Marker() uint64 { return m.marker }

// archiveSegment places one segment in the archive and catalog. The
// payload appends a single record to the orders collection.
func (e *env) archiveSegment(t *testing.T, store string, seq uint64, producedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	payload := fmt.Sprintf("orders:replayed-%d\n", seq)
	key := archive.SegmentKey(store, seq)
	checksum, size, err := archive.PutWithChecksum(ctx, e.transport, key, strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	err = e.cat.PutSegment(ctx, catalog.Segment{
		Store:      store,
		Seq:        seq,
		ProducedAt: producedAt,
		ArchivedAt: producedAt,
		SizeBytes:  size,
		Checksum:   checksum,
		Key:        key,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRestoreToSeqReplaysExactRange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"base-1", "base-2"}
	e.seed(t, dest, 100)

	now := time.Now().UTC()
	for seq := uint64(101); seq <= 150; seq++ {
		e.archiveSegment(t, "orders", seq, now)
	}

	// Mutate the destination after the backup so the restore visibly
	// replaces live state.
	dest.data["orders"] = []string{"post-backup-garbage"}

	result, err := e.orchestrator.Run(ctx, dest, TargetSeq(150), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != catalog.RestorePromoted {
		t.Fatalf("outcome = %s, reason = %s", result.Outcome, result.Reason)
	}
	if result.SegmentsReplayed != 50 {
		t.Errorf("replayed = %d, want 50", result.SegmentsReplayed)
	}

	got := dest.snapshot()["orders"]
	if len(got) != 52 { // 2 base records + 50 replayed
		t.Fatalf("restored %d records, want 52: %v", len(got), got)
	}
	if got[0] != "base-1" || got[2] != "replayed-101" || got[51] != "replayed-150" {
		t.Errorf("replay order wrong: first=%s third=%s last=%s", got[0], got[2], got[51])
	}
}

func TestRestoreLatestWithNoNewerSegmentsReplaysNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"r1", "r2"}
	now := time.Now().UTC()
	// Segments up to the marker only.
	for seq := uint64(98); seq <= 100; seq++ {
		e.archiveSegment(t, "orders", seq, now)
	}
	e.seed(t, dest, 100)

	result, err := e.orchestrator.Run(ctx, dest, TargetLatest, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SegmentsReplayed != 0 {
		t.Errorf("replayed = %d, want 0", result.SegmentsReplayed)
	}
	if result.Outcome != catalog.RestorePromoted {
		t.Errorf("outcome = %s", result.Outcome)
	}
}

func TestTimestampTargetStopsAtProductionTime(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"seed"}
	e.seed(t, dest, 500)

	// Segments 501-520, one every 36 seconds starting at t0. Segment
	// 515 lands exactly at t0+9m; 516 is later.
	t0 := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for seq := uint64(501); seq <= 520; seq++ {
		e.archiveSegment(t, "orders", seq, t0.Add(time.Duration(seq-500)*36*time.Second))
	}

	result, err := e.orchestrator.Run(ctx, dest, TargetTime(t0.Add(9*time.Minute)), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SegmentsReplayed != 15 {
		t.Errorf("replayed = %d, want 15 (segments 501-515)", result.SegmentsReplayed)
	}

	got := dest.snapshot()["orders"]
	last := got[len(got)-1]
	if last != "replayed-515" {
		t.Errorf("last applied record = %s, want replayed-515", last)
	}
}

func TestGapDuringReplayRollsBackToPreRestoreState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"live-1", "live-2", "live-3"}
	e.seed(t, dest, 100)

	now := time.Now().UTC()
	// Hole at 103.
	for _, seq := range []uint64{101, 102, 104, 105} {
		e.archiveSegment(t, "orders", seq, now)
	}

	before := dest.snapshot()

	result, err := e.orchestrator.Run(ctx, dest, TargetSeq(105), Options{})
	if !errors.Is(err, faults.ErrGap) {
		t.Fatalf("expected gap fault, got %v", err)
	}
	if result.Outcome != catalog.RestoreRolledBack {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	after := dest.snapshot()
	if len(after["orders"]) != len(before["orders"]) {
		t.Fatalf("rollback must restore pre-restore state: before=%v after=%v", before["orders"], after["orders"])
	}
	for i := range before["orders"] {
		if after["orders"][i] != before["orders"][i] {
			t.Fatalf("rollback mismatch at %d: %s != %s", i, after["orders"][i], before["orders"][i])
		}
	}

	// The rollback must be recorded.
	records, err := e.cat.ListRestoreRecords(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	last := records[len(records)-1]
	if last.Outcome != catalog.RestoreRolledBack || last.Reason == "" {
		t.Errorf("record = %+v", last)
	}
}

func TestBusyDestinationRequiresForce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"r1"}
	dest.busy = true
	e.seed(t, dest, 10)

	_, err := e.orchestrator.Run(ctx, dest, TargetLatest, Options{})
	if !errors.Is(err, faults.ErrDestinationBusy) {
		t.Fatalf("expected destination busy, got %v", err)
	}

	result, err := e.orchestrator.Run(ctx, dest, TargetLatest, Options{Force: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if result.Outcome != catalog.RestorePromoted {
		t.Errorf("outcome = %s", result.Outcome)
	}
}

func TestSafetySnapshotAlwaysTaken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"r1"}
	dest.busy = true
	e.seed(t, dest, 10)

	// Even a forced run takes the safety snapshot first.
	result, err := e.orchestrator.Run(ctx, dest, TargetLatest, Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Safety.ID == "" {
		t.Fatal("no safety snapshot recorded")
	}

	safety, err := e.cat.GetArtifact(ctx, "orders", result.Safety.ID)
	if err != nil {
		t.Fatalf("safety snapshot must be cataloged: %v", err)
	}
	if safety.Trigger != catalog.TriggerPreRestore {
		t.Errorf("trigger = %s", safety.Trigger)
	}
	// And it must be checksum-verifiable.
	if err := archive.Verify(ctx, e.transport, safety.Key); err != nil {
		t.Errorf("safety snapshot must verify: %v", err)
	}
}

func TestNoSuitableBackup(t *testing.T) {
	e := newEnv(t)
	dest := newMemDestination("orders")

	_, err := e.orchestrator.Run(context.Background(), dest, TargetLatest, Options{})
	if !errors.Is(err, faults.ErrNoSuitableBackup) {
		t.Fatalf("expected no-suitable-backup, got %v", err)
	}
}

func TestTableScopedRestoreWritesSideTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dest := newMemDestination("orders")
	dest.data["orders"] = []string{"o1", "o2"}
	dest.data["line_items"] = []string{"l1"}
	e.seed(t, dest, 100)

	now := time.Now().UTC()
	e.archiveSegment(t, "orders", 101, now)

	dest.data["orders"] = []string{"damaged"}

	result, err := e.orchestrator.Run(ctx, dest, TargetSeq(101), Options{Scope: Scope{Table: "orders"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != catalog.RestorePromoted {
		t.Fatalf("outcome = %s, reason = %s", result.Outcome, result.Reason)
	}

	after := dest.snapshot()
	// Live tables untouched.
	if len(after["orders"]) != 1 || after["orders"][0] != "damaged" {
		t.Errorf("live table must be untouched, got %v", after["orders"])
	}
	if len(after["line_items"]) != 1 {
		t.Errorf("unrelated table must be untouched, got %v", after["line_items"])
	}

	// A side table holds the restored rows: 2 base + 1 replayed.
	var side []string
	for name, recs := range after {
		if strings.HasPrefix(name, "orders_restored_") {
			side = recs
		}
	}
	if len(side) != 3 {
		t.Errorf("side table = %v, want 3 records", side)
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		check   func(Target) bool
	}{
		{"latest", false, func(tg Target) bool { return tg.Latest }},
		{"seq:515", false, func(tg Target) bool { return tg.Seq == 515 }},
		{"2026-07-01T12:09:00Z", false, func(tg Target) bool { return tg.Time.Minute() == 9 }},
		{"seq:abc", true, nil},
		{"yesterday", true, nil},
	}
	for _, tc := range cases {
		tg, err := ParseTarget(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseTarget(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q): %v", tc.in, err)
			continue
		}
		if !tc.check(tg) {
			t.Errorf("ParseTarget(%q) = %+v", tc.in, tg)
		}
	}
}
