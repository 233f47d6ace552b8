// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package metrics provides Prometheus instrumentation for the backup,
// archival and recovery pipeline. The gauges and counters here are the
// surface an external monitoring collaborator polls; the Compliance
// Monitor derives nothing from them (it reads the catalog directly).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup producer metrics

	BackupAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_backup_age_seconds",
			Help: "Age of the newest backup artifact per store",
		},
		[]string{"store", "type"},
	)

	BackupSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_backup_size_bytes",
			Help: "Size of the newest backup artifact per store",
		},
		[]string{"store", "type"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walvault_backup_duration_seconds",
			Help:    "Duration of backup producer runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
		},
		[]string{"store", "type"},
	)

	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_backup_runs_total",
			Help: "Total backup producer runs by outcome",
		},
		[]string{"store", "type", "outcome"},
	)

	// WAL archiver metrics

	WALArchiveAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_wal_archive_age_seconds",
			Help: "Age of the newest archived log segment per store",
		},
		[]string{"store"},
	)

	WALSegmentsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_wal_segments_archived_total",
			Help: "Total log segments archived, including idempotent no-ops",
		},
		[]string{"store", "outcome"},
	)

	WALGapsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_wal_gaps_detected_total",
			Help: "Gaps reported by the continuity scan",
		},
		[]string{"store"},
	)

	// Validator metrics

	ValidationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_validation_runs_total",
			Help: "Validation pipeline runs by verdict",
		},
		[]string{"store", "verdict"},
	)

	ValidationStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_validation_stage_failures_total",
			Help: "Validation failures by first failing stage",
		},
		[]string{"store", "stage"},
	)

	RehearsalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walvault_restore_rehearsal_duration_seconds",
			Help:    "Duration of restore rehearsals (validation stage 4)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"store"},
	)

	// Restore orchestrator metrics

	RestoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walvault_restore_duration_seconds",
			Help:    "Duration of restore runs reaching a terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"store", "outcome"},
	)

	SegmentsReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_restore_segments_replayed_total",
			Help: "Log segments replayed during restores",
		},
		[]string{"store"},
	)

	// Archive transport metrics

	TransportOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_transport_operations_total",
			Help: "Archive transport calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	TransportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walvault_transport_latency_seconds",
			Help:    "Archive transport call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TransportRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walvault_transport_retries_total",
			Help: "Transient transport failures retried with backoff",
		},
		[]string{"operation"},
	)

	// Archive storage metrics

	StorageUsedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_archive_storage_used_bytes",
			Help: "Bytes used in the archive per store",
		},
		[]string{"store"},
	)

	StorageAvailableBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walvault_archive_storage_available_bytes",
			Help: "Free bytes on the archive volume, when the backend can measure it",
		},
	)

	// Compliance metrics

	RPOSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_rpo_seconds",
			Help: "Current recovery point exposure per store",
		},
		[]string{"store"},
	)

	RTOEstimateSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_rto_estimate_seconds",
			Help: "Estimated recovery time per store",
		},
		[]string{"store"},
	)

	ActiveAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walvault_compliance_alerts_active",
			Help: "Active compliance alerts by severity",
		},
		[]string{"store", "severity"},
	)
)
