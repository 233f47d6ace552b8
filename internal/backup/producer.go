// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
producer.go - Backup Producer

Creates full and incremental backup artifacts from source snapshots. One
backup per store at a time: a second request while one is running fails
fast with a busy fault instead of queueing, so operators see contention
instead of silently stacked work.

Every artifact is registered untested. The producer never vouches for its
own output; only the validation pipeline moves an artifact to passed.
*/

package backup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
	"github.com/tomtom215/walvault/internal/notify"
)

// Producer creates backup artifacts.
type Producer struct {
	cfg       config.BackupConfig
	transport archive.Transport
	cat       *catalog.Catalog
	notifier  *notify.Dispatcher

	mu      sync.Mutex
	running map[string]bool
}

// NewProducer wires a producer to its transport, catalog and notifier.
func NewProducer(cfg config.BackupConfig, t archive.Transport, cat *catalog.Catalog, n *notify.Dispatcher) *Producer {
	return &Producer{
		cfg:       cfg,
		transport: t,
		cat:       cat,
		notifier:  n,
		running:   make(map[string]bool),
	}
}

// acquire takes the per-store backup slot or fails fast.
func (p *Producer) acquire(store string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[store] {
		return faults.Wrap(faults.KindBusy,
			fmt.Sprintf("backup already running for store %s", store), faults.ErrBusy)
	}
	p.running[store] = true
	return nil
}

func (p *Producer) release(store string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, store)
}

// Option adjusts a single backup run.
type Option func(*catalog.Artifact)

// WithNotes attaches an operator note to the produced artifact.
func WithNotes(notes string) Option {
	return func(a *catalog.Artifact) { a.Notes = notes }
}

// CreateFull produces a full backup of the source.
func (p *Producer) CreateFull(ctx context.Context, src Source, trigger catalog.Trigger, opts ...Option) (catalog.Artifact, error) {
	return p.create(ctx, src, catalog.ArtifactFull, trigger, "", opts, func(ctx context.Context) (Snapshot, error) {
		return src.BeginSnapshot(ctx)
	})
}

// CreateIncremental produces a backup of changes since the newest artifact.
// It requires an existing artifact to base on and a source that supports
// incremental snapshots.
func (p *Producer) CreateIncremental(ctx context.Context, src Source, trigger catalog.Trigger, opts ...Option) (catalog.Artifact, error) {
	inc, ok := src.(IncrementalSource)
	if !ok {
		return catalog.Artifact{}, faults.New(faults.KindPolicyViolation,
			fmt.Sprintf("store %s does not support incremental backups", src.Name()))
	}
	base, err := p.cat.NewestArtifact(ctx, src.Name())
	if faults.KindOf(err) == faults.KindNotFound {
		return catalog.Artifact{}, faults.New(faults.KindPolicyViolation,
			fmt.Sprintf("no base artifact for incremental backup of store %s", src.Name()))
	}
	if err != nil {
		return catalog.Artifact{}, err
	}
	return p.create(ctx, src, catalog.ArtifactIncremental, trigger, base.ID, opts, func(ctx context.Context) (Snapshot, error) {
		return inc.BeginIncremental(ctx, base.Marker)
	})
}

func (p *Producer) create(ctx context.Context, src Source, typ catalog.ArtifactType, trigger catalog.Trigger, baseID string, opts []Option, begin func(context.Context) (Snapshot, error)) (catalog.Artifact, error) {
	store := src.Name()
	if err := p.acquire(store); err != nil {
		return catalog.Artifact{}, err
	}
	defer p.release(store)

	startedAt := time.Now().UTC()
	artifact, err := p.run(ctx, store, typ, trigger, baseID, startedAt, opts, begin)
	elapsed := time.Since(startedAt)

	if err != nil {
		metrics.BackupRuns.WithLabelValues(store, string(typ), "error").Inc()
		logging.Error().Err(err).
			Str("store", store).
			Str("type", string(typ)).
			Dur("elapsed", elapsed).
			Msg("Backup failed")
		p.notifier.Dispatch(ctx, notify.Event{
			Type:     "backup.failed",
			Severity: notify.SeverityCritical,
			Store:    store,
			Message:  fmt.Sprintf("%s backup failed", typ),
			Detail:   err.Error(),
		})
		return catalog.Artifact{}, err
	}

	metrics.BackupRuns.WithLabelValues(store, string(typ), "ok").Inc()
	metrics.BackupDuration.WithLabelValues(store, string(typ)).Observe(elapsed.Seconds())
	metrics.BackupSizeBytes.WithLabelValues(store, string(typ)).Set(float64(artifact.SizeBytes))
	metrics.BackupAge.WithLabelValues(store, string(typ)).Set(0)

	logging.Info().
		Str("store", store).
		Str("type", string(typ)).
		Str("artifact_id", artifact.ID).
		Uint64("marker", artifact.Marker).
		Int64("size", artifact.SizeBytes).
		Dur("elapsed", elapsed).
		Msg("Backup completed")

	p.notifier.Dispatch(ctx, notify.Event{
		Type:       "backup.completed",
		Severity:   notify.SeverityInfo,
		Store:      store,
		ArtifactID: artifact.ID,
		Message:    fmt.Sprintf("%s backup completed", typ),
	})
	return artifact, nil
}

func (p *Producer) run(ctx context.Context, store string, typ catalog.ArtifactType, trigger catalog.Trigger, baseID string, startedAt time.Time, opts []Option, begin func(context.Context) (Snapshot, error)) (catalog.Artifact, error) {
	snap, err := begin(ctx)
	if err != nil {
		return catalog.Artifact{}, faults.Wrap(faults.KindTransientIO, "begin snapshot", err)
	}
	defer snap.Close() //nolint:errcheck // Snapshot teardown, payload already consumed

	id := uuid.New().String()
	manifest := Manifest{
		ArtifactID:     id,
		Store:          store,
		Type:           typ,
		BaseArtifactID: baseID,
		Marker:         snap.Marker(),
		CreatedAt:      startedAt,
		Compression:    p.cfg.Compression,
	}

	tmp, err := os.CreateTemp("", "walvault-artifact-*")
	if err != nil {
		return catalog.Artifact{}, faults.Wrap(faults.KindTransientIO, "create artifact temp file", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Temp cleanup is best-effort
	defer tmp.Close()           //nolint:errcheck // Double close on success path is harmless

	manifest, err = WriteContainer(ctx, tmp, manifest, snap, p.cfg.CompressionLevel)
	if err != nil {
		return catalog.Artifact{}, err
	}

	key := archive.ArtifactKey(store, string(typ), id, startedAt, Ext(p.cfg.Compression))
	if _, err := tmp.Seek(0, 0); err != nil {
		return catalog.Artifact{}, faults.Wrap(faults.KindTransientIO, "rewind artifact", err)
	}
	checksum, size, err := archive.PutWithChecksum(ctx, p.transport, key, tmp)
	if err != nil {
		return catalog.Artifact{}, err
	}

	artifact := catalog.Artifact{
		ID:          id,
		Store:       store,
		Type:        typ,
		Trigger:     trigger,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		SizeBytes:   size,
		Checksum:    checksum,
		Marker:      snap.Marker(),
		Trust:       catalog.TrustUntested,
		Key:         key,
		Compression: p.cfg.Compression,
		Counts:      snap.Counts(),
	}
	for _, opt := range opts {
		opt(&artifact)
	}
	if err := p.cat.PutArtifact(ctx, artifact); err != nil {
		return catalog.Artifact{}, err
	}
	return artifact, nil
}
