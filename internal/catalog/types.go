// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
types.go - Catalog Data Model

Defines the durable records the catalog tracks: backup artifacts, archived
WAL segments, validation reports, and restore records. All records are
stored as JSON in BadgerDB and are the single source of truth for what
exists, what has been verified, and what can be recovered to.
*/

package catalog

import "time"

// ArtifactType describes the kind of backup artifact.
type ArtifactType string

const (
	ArtifactFull        ArtifactType = "full"
	ArtifactIncremental ArtifactType = "incremental"
)

// Trigger records what initiated a backup run.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerScheduled  Trigger = "scheduled"
	TriggerPreRestore Trigger = "pre_restore"
)

// TrustState is the validation lifecycle of an artifact. Every artifact
// starts untested; only the validator moves it to passed or failed.
type TrustState string

const (
	TrustUntested TrustState = "untested"
	TrustPassed   TrustState = "passed"
	TrustFailed   TrustState = "failed"
)

// Artifact is a completed backup registered in the catalog.
type Artifact struct {
	ID          string           `json:"id"`
	Store       string           `json:"store"`
	Type        ArtifactType     `json:"type"`
	Trigger     Trigger          `json:"trigger"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	SizeBytes   int64            `json:"size_bytes"`
	Checksum    string           `json:"checksum"`
	Marker      uint64           `json:"marker"`
	Trust       TrustState       `json:"trust"`
	Key         string           `json:"key"`
	Compression string           `json:"compression"`
	Counts      map[string]int64 `json:"counts,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// Segment is an archived WAL segment.
type Segment struct {
	Store      string    `json:"store"`
	Seq        uint64    `json:"seq"`
	ProducedAt time.Time `json:"produced_at"`
	ArchivedAt time.Time `json:"archived_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	Key        string    `json:"key"`
	Corrupt    bool      `json:"corrupt,omitempty"`
}

// StageResult captures the outcome of one validation stage.
type StageResult struct {
	Name     string        `json:"name"`
	Pass     bool          `json:"pass"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// ValidationReport is the persisted result of a validation run.
type ValidationReport struct {
	ID         string        `json:"id"`
	ArtifactID string        `json:"artifact_id"`
	Store      string        `json:"store"`
	Level      string        `json:"level"`
	Stages     []StageResult `json:"stages"`
	Verdict    TrustState    `json:"verdict"`
	Warnings   []string      `json:"warnings,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// RestoreOutcome is the terminal state of a restore run.
type RestoreOutcome string

const (
	RestorePromoted   RestoreOutcome = "promoted"
	RestoreRolledBack RestoreOutcome = "rolled_back"
)

// RestoreRecord documents one restore run. Durations of promoted runs
// feed the recovery-time estimate used by compliance monitoring.
type RestoreRecord struct {
	ID               string         `json:"id"`
	Store            string         `json:"store"`
	ArtifactID       string         `json:"artifact_id"`
	Target           string         `json:"target"`
	Scope            string         `json:"scope"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Outcome          RestoreOutcome `json:"outcome"`
	SegmentsReplayed uint64         `json:"segments_replayed"`
	Reason           string         `json:"reason,omitempty"`
}

// Duration returns the wall-clock time the restore run took.
func (r RestoreRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// StoreStats summarizes catalog contents for one store.
type StoreStats struct {
	Store            string     `json:"store"`
	Artifacts        int        `json:"artifacts"`
	PassedFulls      int        `json:"passed_fulls"`
	Segments         int        `json:"segments"`
	TotalBytes       int64      `json:"total_bytes"`
	OldestSegmentSeq uint64     `json:"oldest_segment_seq"`
	NewestSegmentSeq uint64     `json:"newest_segment_seq"`
	NewestArtifactAt *time.Time `json:"newest_artifact_at,omitempty"`
}
