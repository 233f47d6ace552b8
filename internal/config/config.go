// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package config defines the single validated configuration structure
// passed by reference into every Walvault component at construction.
// Components never read the environment themselves.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Tier names a storage tier with its own RPO/RTO strictness.
type Tier string

const (
	TierCritical  Tier = "critical"
	TierImportant Tier = "important"
	TierStandard  Tier = "standard"
	TierLow       Tier = "low"
)

// Tiers lists the four tiers in descending strictness.
var Tiers = []Tier{TierCritical, TierImportant, TierStandard, TierLow}

// Config is the root configuration for a Walvault instance.
type Config struct {
	// Stores lists the data stores this instance protects.
	Stores []StoreConfig `koanf:"stores"`

	Archive    ArchiveConfig    `koanf:"archive"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	WAL        WALConfig        `koanf:"wal"`
	Backup     BackupConfig     `koanf:"backup"`
	Validator  ValidatorConfig  `koanf:"validator"`
	Restore    RestoreConfig    `koanf:"restore"`
	Compliance ComplianceConfig `koanf:"compliance"`
	Notify     NotifyConfig     `koanf:"notify"`
	Logging    LoggingConfig    `koanf:"logging"`
	Server     ServerConfig     `koanf:"server"`
}

// StoreConfig identifies one protected data store.
type StoreConfig struct {
	// Name is the store identifier used in artifact names and metrics.
	Name string `koanf:"name"`

	// Tier assigns the store to a compliance tier.
	Tier Tier `koanf:"tier"`

	// Path is the store's data directory for the bundled directory
	// adapter. Programs embedding the engine with their own Source and
	// Destination implementations leave it empty.
	Path string `koanf:"path"`

	// CriticalCollections are checked for presence and non-zero
	// population during validation stage 5.
	CriticalCollections []string `koanf:"critical_collections"`
}

// ArchiveConfig configures the archive transport backend.
type ArchiveConfig struct {
	// Backend selects the transport: local or s3.
	Backend string `koanf:"backend"`

	// Path is the base directory (local) or bucket name (s3).
	Path string `koanf:"path"`

	// Prefix is prepended to every stored object key.
	Prefix string `koanf:"prefix"`

	// Region is the S3 region.
	Region string `koanf:"region"`

	// Endpoint overrides the S3 endpoint (MinIO and friends).
	Endpoint string `koanf:"endpoint"`

	// AccessKeyID and SecretAccessKey are static S3 credentials. Empty
	// values fall back to the ambient AWS credential chain.
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`

	// CallTimeout bounds each individual transport call. Timeouts apply
	// per call, not per whole operation.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// MaxRetries bounds backoff retries of transient transport failures
	// before the error escalates.
	MaxRetries int `koanf:"max_retries"`

	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// CatalogConfig configures the durable metadata catalog. Catalog queries
// never touch artifact bytes, so the catalog lives outside the archive.
type CatalogConfig struct {
	// Path is the directory for BadgerDB storage.
	Path string `koanf:"path"`

	// SyncWrites forces fsync after every write.
	SyncWrites bool `koanf:"sync_writes"`
}

// WALConfig configures the WAL archiver.
type WALConfig struct {
	// ScanInterval is how often the continuity scan walks archived
	// sequence ids looking for gaps.
	ScanInterval time.Duration `koanf:"scan_interval"`
}

// BackupConfig configures the backup producer.
type BackupConfig struct {
	// ScheduleEnabled enables periodic backups in serve mode.
	ScheduleEnabled bool `koanf:"schedule_enabled"`

	// Interval is the time between scheduled full backups.
	Interval time.Duration `koanf:"interval"`

	// Compression selects the container compression: gzip or zstd.
	Compression string `koanf:"compression"`

	// CompressionLevel is the gzip compression level (1-9).
	CompressionLevel int `koanf:"compression_level"`

	// MinPlausibleSize is the smallest size in bytes a full backup may
	// have before validation stage 1 rejects it as truncated.
	MinPlausibleSize int64 `koanf:"min_plausible_size"`

	// Retention windows per artifact type. Zero disables pruning for
	// that type.
	RetainFull        time.Duration `koanf:"retain_full"`
	RetainIncremental time.Duration `koanf:"retain_incremental"`
	RetainSegments    time.Duration `koanf:"retain_segments"`
}

// ValidatorConfig configures the staged validation pipeline.
type ValidatorConfig struct {
	// ScheduleEnabled enables periodic validation of untested artifacts
	// in serve mode.
	ScheduleEnabled bool `koanf:"schedule_enabled"`

	// Interval is the time between validation sweeps.
	Interval time.Duration `koanf:"interval"`

	// CountTolerancePct is the allowed percentage drift between
	// rehearsal record counts and live store counts before stage 5
	// emits a warning. Configurable because the live store keeps
	// changing after the backup was taken.
	CountTolerancePct float64 `koanf:"count_tolerance_pct"`

	// CollectionTolerancePct overrides the tolerance per collection.
	CollectionTolerancePct map[string]float64 `koanf:"collection_tolerance_pct"`
}

// RestoreConfig configures the restore orchestrator.
type RestoreConfig struct {
	// SafetyFactor scales the last measured restore duration into the
	// RTO estimate.
	SafetyFactor float64 `koanf:"safety_factor"`
}

// ComplianceConfig configures the compliance monitor.
type ComplianceConfig struct {
	// TickInterval is how often RPO/RTO exposure is recomputed.
	TickInterval time.Duration `koanf:"tick_interval"`

	// Targets maps each tier to its RPO/RTO targets.
	Targets map[Tier]TierTargets `koanf:"targets"`

	// CriticalHeadroomPct is the fraction of the target treated as the
	// warning band. 0.1 means a store is flagged once less than 10% of
	// its target remains unconsumed; at or past the target the breach
	// is critical.
	CriticalHeadroomPct float64 `koanf:"critical_headroom_pct"`
}

// TierTargets holds the RPO/RTO targets for one tier.
type TierTargets struct {
	RPO time.Duration `koanf:"rpo"`
	RTO time.Duration `koanf:"rto"`
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	// WebhookURL receives JSON event payloads. Empty disables the sink.
	WebhookURL string `koanf:"webhook_url"`

	// Timeout bounds each webhook delivery.
	Timeout time.Duration `koanf:"timeout"`

	// OnSuccess also notifies successful backups and validations.
	OnSuccess bool `koanf:"on_success"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ServerConfig configures the serve-mode HTTP listener.
type ServerConfig struct {
	// ListenAddr serves /metrics and /healthz.
	ListenAddr string `koanf:"listen_addr"`

	// RateLimit caps requests per client IP per RateLimitWindow on the
	// inspection API. Zero disables the limiter.
	RateLimit       int           `koanf:"rate_limit"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// Default returns a configuration with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func Default() *Config {
	return &Config{
		Stores: []StoreConfig{},
		Archive: ArchiveConfig{
			Backend:        "local",
			Path:           "/data/archive",
			Prefix:         "walvault",
			CallTimeout:    2 * time.Minute,
			MaxRetries:     5,
			RetryBaseDelay: 1 * time.Second,
		},
		Catalog: CatalogConfig{
			Path:       "/data/catalog",
			SyncWrites: true,
		},
		WAL: WALConfig{
			ScanInterval: 5 * time.Minute,
		},
		Backup: BackupConfig{
			ScheduleEnabled:   true,
			Interval:          24 * time.Hour,
			Compression:       "gzip",
			CompressionLevel:  6,
			MinPlausibleSize:  4096,
			RetainFull:        90 * 24 * time.Hour,
			RetainIncremental: 14 * 24 * time.Hour,
			RetainSegments:    30 * 24 * time.Hour,
		},
		Validator: ValidatorConfig{
			ScheduleEnabled:   true,
			Interval:          1 * time.Hour,
			CountTolerancePct: 10,
		},
		Restore: RestoreConfig{
			SafetyFactor: 1.5,
		},
		Compliance: ComplianceConfig{
			TickInterval: 1 * time.Minute,
			Targets: map[Tier]TierTargets{
				TierCritical:  {RPO: 15 * time.Minute, RTO: 1 * time.Hour},
				TierImportant: {RPO: 1 * time.Hour, RTO: 4 * time.Hour},
				TierStandard:  {RPO: 6 * time.Hour, RTO: 12 * time.Hour},
				TierLow:       {RPO: 24 * time.Hour, RTO: 48 * time.Hour},
			},
			CriticalHeadroomPct: 0.1,
		},
		Notify: NotifyConfig{
			Timeout:   10 * time.Second,
			OnSuccess: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			ListenAddr:      ":9431",
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
	}
}

// Validate checks that the configuration is valid.
//
//nolint:gocyclo // Validation function with many sequential checks
func (c *Config) Validate() error {
	if len(c.Stores) == 0 {
		return fmt.Errorf("at least one store must be configured")
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.Name == "" {
			return fmt.Errorf("store name must not be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate store name: %s", s.Name)
		}
		seen[s.Name] = true
		if !validTier(s.Tier) {
			return fmt.Errorf("store %s: tier must be one of: critical, important, standard, low", s.Name)
		}
	}

	switch c.Archive.Backend {
	case "local":
		if c.Archive.Path == "" {
			return fmt.Errorf("archive.path is required")
		}
		if !filepath.IsAbs(c.Archive.Path) {
			return fmt.Errorf("archive.path must be an absolute path, got: %s", c.Archive.Path)
		}
	case "s3":
		if c.Archive.Path == "" {
			return fmt.Errorf("archive.path (bucket) is required for s3")
		}
		if c.Archive.Region == "" && c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.region or archive.endpoint is required for s3")
		}
	default:
		return fmt.Errorf("archive.backend must be one of: local, s3")
	}
	if c.Archive.CallTimeout <= 0 {
		return fmt.Errorf("archive.call_timeout must be positive")
	}
	if c.Archive.MaxRetries < 0 {
		return fmt.Errorf("archive.max_retries must not be negative")
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if c.WAL.ScanInterval <= 0 {
		return fmt.Errorf("wal.scan_interval must be positive")
	}

	if c.Backup.ScheduleEnabled && c.Backup.Interval < time.Minute {
		return fmt.Errorf("backup.interval must be at least 1 minute, got: %s", c.Backup.Interval)
	}
	if c.Backup.Compression != "gzip" && c.Backup.Compression != "zstd" {
		return fmt.Errorf("backup.compression must be one of: gzip, zstd")
	}
	if c.Backup.Compression == "gzip" && (c.Backup.CompressionLevel < 1 || c.Backup.CompressionLevel > 9) {
		return fmt.Errorf("backup.compression_level must be between 1 and 9, got: %d", c.Backup.CompressionLevel)
	}
	if c.Backup.MinPlausibleSize < 0 {
		return fmt.Errorf("backup.min_plausible_size must not be negative")
	}

	if c.Validator.CountTolerancePct < 0 || c.Validator.CountTolerancePct > 100 {
		return fmt.Errorf("validator.count_tolerance_pct must be between 0 and 100")
	}

	if c.Restore.SafetyFactor < 1.0 {
		return fmt.Errorf("restore.safety_factor must be at least 1.0, got: %g", c.Restore.SafetyFactor)
	}

	if c.Compliance.TickInterval <= 0 {
		return fmt.Errorf("compliance.tick_interval must be positive")
	}
	for _, tier := range Tiers {
		targets, ok := c.Compliance.Targets[tier]
		if !ok {
			return fmt.Errorf("compliance.targets missing tier: %s", tier)
		}
		if targets.RPO <= 0 || targets.RTO <= 0 {
			return fmt.Errorf("compliance targets for tier %s must be positive", tier)
		}
	}
	if c.Compliance.CriticalHeadroomPct <= 0 || c.Compliance.CriticalHeadroomPct >= 1 {
		return fmt.Errorf("compliance.critical_headroom_pct must be between 0 and 1 exclusive")
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive when server.rate_limit is set")
	}

	return nil
}

// TierOf returns the compliance targets for the named store.
func (c *Config) TierOf(store string) (Tier, TierTargets, error) {
	for _, s := range c.Stores {
		if s.Name == store {
			return s.Tier, c.Compliance.Targets[s.Tier], nil
		}
	}
	return "", TierTargets{}, fmt.Errorf("unknown store: %s", store)
}

// StoreByName returns the configuration for the named store.
func (c *Config) StoreByName(name string) (StoreConfig, error) {
	for _, s := range c.Stores {
		if s.Name == name {
			return s, nil
		}
	}
	return StoreConfig{}, fmt.Errorf("unknown store: %s", name)
}

func validTier(t Tier) bool {
	for _, tier := range Tiers {
		if t == tier {
			return true
		}
	}
	return false
}
