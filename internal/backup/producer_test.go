// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package backup

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/notify"
)

// memSource implements Source and IncrementalSource over in-memory data.
type memSource struct {
	name    string
	marker  uint64
	data    map[string]string
	blockCh chan struct{} // when set, BeginSnapshot blocks until closed
}

func (m *memSource) Name() string { return m.name }

func (m *memSource) BeginSnapshot(ctx context.Context) (Snapshot, error) {
	if m.blockCh != nil {
		select {
		case <-m.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &memSnapshot{marker: m.marker, data: m.data}, nil
}

func (m *memSource) BeginIncremental(ctx context.Context, sinceMarker uint64) (Snapshot, error) {
	// The fake pretends everything changed after sinceMarker.
	return &memSnapshot{marker: m.marker, data: m.data, since: sinceMarker}, nil
}

type memSnapshot struct {
	marker uint64
	since  uint64
	data   map[string]string
	closed bool
}

func (s *memSnapshot) Marker() uint64 { return s.marker }

func (s *memSnapshot) Collections() []string {
	var names []string
	for name := range s.data {
		names = append(names, name)
	}
	return names
}

func (s *memSnapshot) Counts() map[string]int64 {
	counts := make(map[string]int64)
	for name, body := range s.data {
		counts[name] = int64(len(strings.Split(strings.TrimSpace(body), "\n")))
	}
	return counts
}

func (s *memSnapshot) Open(_ context.Context, collection string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.data[collection])), nil
}

func (s *memSnapshot) Close() error {
	s.closed = true
	return nil
}

type env struct {
	producer  *Producer
	transport archive.Transport
	cat       *catalog.Catalog
	cfg       config.BackupConfig
}

func newEnv(t *testing.T, mutate func(*config.BackupConfig)) *env {
	t.Helper()

	transport, err := archive.NewLocalTransport(config.ArchiveConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Open(config.CatalogConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	cfg := config.BackupConfig{
		Compression:      CompressionGzip,
		CompressionLevel: 6,
		RetainFull:       30 * 24 * time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	dispatcher := notify.NewDispatcher(time.Second)
	return &env{
		producer:  NewProducer(cfg, transport, cat, dispatcher),
		transport: transport,
		cat:       cat,
		cfg:       cfg,
	}
}

func ordersSource() *memSource {
	return &memSource{
		name:   "orders",
		marker: 500,
		data: map[string]string{
			"orders":     "o1\no2\no3\n",
			"line_items": "l1\nl2\n",
		},
	}
}

func TestCreateFullRegistersUntestedArtifact(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	artifact, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual)
	if err != nil {
		t.Fatalf("CreateFull: %v", err)
	}

	if artifact.Trust != catalog.TrustUntested {
		t.Errorf("producer must never self-trust, got %s", artifact.Trust)
	}
	if artifact.Marker != 500 {
		t.Errorf("marker = %d", artifact.Marker)
	}
	if artifact.Counts["orders"] != 3 || artifact.Counts["line_items"] != 2 {
		t.Errorf("counts = %v", artifact.Counts)
	}

	// The uploaded object must verify against its sidecar.
	if err := archive.Verify(ctx, e.transport, artifact.Key); err != nil {
		t.Errorf("Verify: %v", err)
	}

	stored, err := e.cat.GetArtifact(ctx, "orders", artifact.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if stored.Checksum != artifact.Checksum {
		t.Error("catalog checksum mismatch")
	}
}

func TestNotesAreRecordedOnTheArtifact(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	artifact, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual,
		WithNotes("pre-migration safety copy"))
	if err != nil {
		t.Fatalf("CreateFull: %v", err)
	}

	stored, err := e.cat.GetArtifact(ctx, "orders", artifact.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if stored.Notes != "pre-migration safety copy" {
		t.Errorf("notes = %q", stored.Notes)
	}
}

func TestContainerDecodesCompletely(t *testing.T) {
	for _, algo := range []string{CompressionGzip, CompressionZstd} {
		t.Run(algo, func(t *testing.T) {
			e := newEnv(t, func(c *config.BackupConfig) {
				c.Compression = algo
				if algo == CompressionZstd {
					c.CompressionLevel = 3
				}
			})
			ctx := context.Background()

			artifact, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual)
			if err != nil {
				t.Fatalf("CreateFull: %v", err)
			}

			rc, err := e.transport.Get(ctx, artifact.Key)
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()

			info, err := ReadContainer(ctx, rc, algo)
			if err != nil {
				t.Fatalf("ReadContainer: %v", err)
			}
			if !info.Complete {
				t.Error("container must carry the completion trailer")
			}
			if info.Manifest.ArtifactID != artifact.ID {
				t.Errorf("manifest artifact = %s", info.Manifest.ArtifactID)
			}
			if info.Manifest.Marker != 500 {
				t.Errorf("manifest marker = %d", info.Manifest.Marker)
			}
			if len(info.Manifest.Collections) != 2 {
				t.Errorf("collections = %+v", info.Manifest.Collections)
			}
		})
	}
}

func TestExtractContainerStreamsCollections(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	artifact, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual)
	if err != nil {
		t.Fatal(err)
	}

	rc, err := e.transport.Get(ctx, artifact.Key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got := make(map[string]string)
	manifest, err := ExtractContainer(ctx, rc, CompressionGzip, func(name string, data io.Reader) error {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, data); err != nil {
			return err
		}
		got[name] = buf.String()
		return nil
	})
	if err != nil {
		t.Fatalf("ExtractContainer: %v", err)
	}
	if manifest.ArtifactID != artifact.ID {
		t.Errorf("manifest artifact = %s", manifest.ArtifactID)
	}
	if got["orders"] != "o1\no2\no3\n" {
		t.Errorf("orders payload = %q", got["orders"])
	}
	if got["line_items"] != "l1\nl2\n" {
		t.Errorf("line_items payload = %q", got["line_items"])
	}
}

func TestTruncatedContainerFailsExtraction(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	artifact, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual)
	if err != nil {
		t.Fatal(err)
	}

	rc, err := e.transport.Get(ctx, artifact.Key)
	if err != nil {
		t.Fatal(err)
	}
	full, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}

	truncated := full[:len(full)/2]
	_, err = ExtractContainer(ctx, bytes.NewReader(truncated), CompressionGzip, func(string, io.Reader) error {
		return nil
	})
	if faults.KindOf(err) != faults.KindCorruption {
		t.Errorf("truncated container must be corruption, got %v", err)
	}
}

func TestConcurrentBackupIsBusy(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	src := ordersSource()
	src.blockCh = make(chan struct{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := e.producer.CreateFull(ctx, src, catalog.TriggerManual)
		done <- err
	}()
	<-started
	// Wait for the first run to take the slot.
	for i := 0; ; i++ {
		e.producer.mu.Lock()
		held := e.producer.running["orders"]
		e.producer.mu.Unlock()
		if held {
			break
		}
		if i > 1000 {
			t.Fatal("first backup never took the slot")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual)
	if faults.KindOf(err) != faults.KindBusy {
		t.Errorf("second backup must fail busy, got %v", err)
	}

	close(src.blockCh)
	if err := <-done; err != nil {
		t.Fatalf("first backup: %v", err)
	}

	// Slot released: a new run succeeds.
	if _, err := e.producer.CreateFull(ctx, ordersSource(), catalog.TriggerManual); err != nil {
		t.Fatalf("backup after release: %v", err)
	}
}

func TestCreateIncremental(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	src := ordersSource()
	_, err := e.producer.CreateIncremental(ctx, src, catalog.TriggerManual)
	if faults.KindOf(err) != faults.KindPolicyViolation {
		t.Fatalf("incremental without base must be a policy violation, got %v", err)
	}

	base, err := e.producer.CreateFull(ctx, src, catalog.TriggerManual)
	if err != nil {
		t.Fatal(err)
	}

	src.marker = 620
	inc, err := e.producer.CreateIncremental(ctx, src, catalog.TriggerScheduled)
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	if inc.Type != catalog.ArtifactIncremental {
		t.Errorf("type = %s", inc.Type)
	}
	if inc.Marker != 620 {
		t.Errorf("marker = %d", inc.Marker)
	}

	rc, err := e.transport.Get(ctx, inc.Key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	info, err := ReadContainer(ctx, rc, CompressionGzip)
	if err != nil {
		t.Fatal(err)
	}
	if info.Manifest.BaseArtifactID != base.ID {
		t.Errorf("base = %s, want %s", info.Manifest.BaseArtifactID, base.ID)
	}
}

func TestPrunerKeepsNewestPassedFull(t *testing.T) {
	e := newEnv(t, func(c *config.BackupConfig) {
		c.RetainFull = time.Hour
		c.RetainSegments = time.Hour
	})
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	// An old passed full outside the window and an even older untested one.
	artifacts := []catalog.Artifact{
		{ID: "old-passed", Store: "orders", Type: catalog.ArtifactFull, CompletedAt: old, Marker: 100, Trust: catalog.TrustPassed, Key: "backups/orders/old-passed.tar.gz"},
		{ID: "older-untested", Store: "orders", Type: catalog.ArtifactFull, CompletedAt: old.Add(-time.Hour), Marker: 50, Trust: catalog.TrustUntested, Key: "backups/orders/older-untested.tar.gz"},
	}
	for _, a := range artifacts {
		if err := e.cat.PutArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}
		if err := e.transport.Put(ctx, a.Key, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
	}

	pruner := NewPruner(e.cfg, e.transport, e.cat)
	pruner.cfg.RetainFull = time.Hour
	res, err := pruner.Prune(ctx, "orders")
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if res.ArtifactsDeleted != 1 {
		t.Errorf("deleted = %d", res.ArtifactsDeleted)
	}

	if _, err := e.cat.GetArtifact(ctx, "orders", "old-passed"); err != nil {
		t.Error("newest passed full must never be pruned")
	}
	if _, err := e.cat.GetArtifact(ctx, "orders", "older-untested"); faults.KindOf(err) != faults.KindNotFound {
		t.Error("aged untested full should be pruned")
	}
}

func TestPrunerSegmentHorizonStopsAtOldestRetainedMarker(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	// Retained full with marker 10: segments 1..10 are behind its replay
	// start, segments 11+ are needed.
	full := catalog.Artifact{
		ID: "f1", Store: "orders", Type: catalog.ArtifactFull,
		CompletedAt: now, Marker: 10, Trust: catalog.TrustPassed,
		Key: "backups/orders/f1.tar.gz",
	}
	if err := e.cat.PutArtifact(ctx, full); err != nil {
		t.Fatal(err)
	}

	for seq := uint64(8); seq <= 12; seq++ {
		key := archive.SegmentKey("orders", seq)
		if err := e.transport.Put(ctx, key, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
		if err := e.cat.PutSegment(ctx, catalog.Segment{Store: "orders", Seq: seq, ArchivedAt: old, Key: key}); err != nil {
			t.Fatal(err)
		}
	}

	pruner := NewPruner(config.BackupConfig{
		RetainFull:     30 * 24 * time.Hour,
		RetainSegments: time.Hour,
	}, e.transport, e.cat)

	res, err := pruner.Prune(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if res.SegmentsDeleted != 3 {
		t.Errorf("segments deleted = %d, want 3 (seqs 8-10)", res.SegmentsDeleted)
	}

	remaining, err := e.cat.SegmentSeqs(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 || remaining[0] != 11 || remaining[1] != 12 {
		t.Errorf("remaining seqs = %v, want [11 12]", remaining)
	}
}

func TestSnapshotClosedAfterBackup(t *testing.T) {
	e := newEnv(t, nil)
	src := ordersSource()

	snap := &memSnapshot{marker: src.marker, data: src.data}
	wrapped := &sourceWithSnapshot{memSource: src, snap: snap}

	if _, err := e.producer.CreateFull(context.Background(), wrapped, catalog.TriggerManual); err != nil {
		t.Fatal(err)
	}
	if !snap.closed {
		t.Error("snapshot must be closed after the backup run")
	}
}

type sourceWithSnapshot struct {
	*memSource
	snap *memSnapshot
}

func (s *sourceWithSnapshot) BeginSnapshot(context.Context) (Snapshot, error) {
	return s.snap, nil
}
