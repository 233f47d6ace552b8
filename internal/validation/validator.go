// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
validator.go - Staged Backup Validation

An artifact earns trust through five gates, each assuming more than the
last:

	1. existence   object present, plausible size
	2. integrity   checksum matches, container decodes end to end
	3. structure   manifest, data entries and trailer agree with the catalog
	4. rehearsal   restores into a disposable instance
	5. content     rehearsed record counts line up with the manifest

The pipeline halts at the first failing stage; later stages would only
measure wreckage. Every run persists a report listing the stages that
actually executed, and only a full-level pass promotes the artifact to
passed. Quick level stops after stage 3 and never promotes: decode
checks alone do not prove a backup restores.
*/

package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/backup"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
	"github.com/tomtom215/walvault/internal/notify"
)

// Level selects how deep a validation run goes: a stage count 1-5 or
// one of the named aliases.
type Level string

const (
	// LevelQuick runs stages 1-3. It can fail an artifact but never
	// promote one.
	LevelQuick Level = "quick"
	// LevelFull runs all five stages and promotes on success.
	LevelFull Level = "full"
)

// ParseLevel accepts "quick", "full" or a stage count 1-5.
func ParseLevel(s string) (Level, error) {
	switch s {
	case string(LevelQuick), string(LevelFull):
		return Level(s), nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 5 {
		return Level(s), nil
	}
	return "", faults.New(faults.KindPolicyViolation,
		fmt.Sprintf("validation level %q is not quick, full or 1-5", s))
}

// depth is how many stages the level runs.
func (l Level) depth() int {
	switch l {
	case LevelQuick:
		return 3
	case LevelFull:
		return 5
	}
	if n, err := strconv.Atoi(string(l)); err == nil && n >= 1 && n <= 5 {
		return n
	}
	return 5
}

// promotes reports whether a clean run at this level moves the artifact
// to passed. Anything short of all five stages never promotes: partial
// checks do not prove a backup restores.
func (l Level) promotes() bool { return l.depth() == 5 }

// Validator runs the staged pipeline.
type Validator struct {
	cfg        *config.Config
	transport  archive.Transport
	cat        *catalog.Catalog
	notifier   *notify.Dispatcher
	rehearsals RehearsalFactory
}

// NewValidator wires the pipeline to its collaborators.
func NewValidator(cfg *config.Config, t archive.Transport, cat *catalog.Catalog, n *notify.Dispatcher, f RehearsalFactory) *Validator {
	return &Validator{cfg: cfg, transport: t, cat: cat, notifier: n, rehearsals: f}
}

// run carries state across stages of one validation.
type run struct {
	artifact        catalog.Artifact
	tmpPath         string
	info            *backup.ContainerInfo
	rehearsalCounts map[string]int64
	warnings        []string
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (v *Validator) stages(level Level) []stage {
	all := []stage{
		{"existence", v.stageExistence},
		{"integrity", v.stageIntegrity},
		{"structure", v.stageStructure},
		{"rehearsal", v.stageRehearsal},
		{"content", v.stageContent},
	}
	return all[:level.depth()]
}

// Validate runs the pipeline over one artifact and persists the report.
func (v *Validator) Validate(ctx context.Context, artifact catalog.Artifact, level Level) (catalog.ValidationReport, error) {
	r := &run{artifact: artifact}
	defer func() {
		if r.tmpPath != "" {
			os.Remove(r.tmpPath) //nolint:errcheck // Temp cleanup is best-effort
		}
	}()

	report := catalog.ValidationReport{
		ID:         uuid.New().String(),
		ArtifactID: artifact.ID,
		Store:      artifact.Store,
		Level:      string(level),
		Verdict:    catalog.TrustPassed,
		CreatedAt:  time.Now().UTC(),
	}

	for _, st := range v.stages(level) {
		started := time.Now()
		err := st.fn(ctx, r)
		result := catalog.StageResult{
			Name:     st.name,
			Pass:     err == nil,
			Duration: time.Since(started),
		}
		if err != nil {
			result.Message = err.Error()
		}
		report.Stages = append(report.Stages, result)

		if err != nil {
			report.Verdict = catalog.TrustFailed
			metrics.ValidationStageFailures.WithLabelValues(artifact.Store, st.name).Inc()
			break
		}
	}
	report.Warnings = r.warnings

	if err := v.finish(ctx, artifact, level, report); err != nil {
		return report, err
	}
	return report, nil
}

// finish persists the report, applies the trust transition and reports
// the outcome.
func (v *Validator) finish(ctx context.Context, artifact catalog.Artifact, level Level, report catalog.ValidationReport) error {
	if err := v.cat.PutReport(ctx, report); err != nil {
		return err
	}

	metrics.ValidationRuns.WithLabelValues(artifact.Store, string(report.Verdict)).Inc()

	if report.Verdict == catalog.TrustFailed {
		if err := v.cat.SetTrust(ctx, artifact.Store, artifact.ID, catalog.TrustFailed); err != nil {
			return err
		}
		failedStage := report.Stages[len(report.Stages)-1]
		logging.Error().
			Str("store", artifact.Store).
			Str("artifact_id", artifact.ID).
			Str("stage", failedStage.Name).
			Str("reason", failedStage.Message).
			Msg("Validation failed")
		v.notifier.Dispatch(ctx, notify.Event{
			Type:       "validation.failed",
			Severity:   notify.SeverityCritical,
			Store:      artifact.Store,
			ArtifactID: artifact.ID,
			Message:    fmt.Sprintf("validation failed at stage %s", failedStage.Name),
			Detail:     failedStage.Message,
		})
		return nil
	}

	// Partial passes are informational only.
	if level.promotes() {
		if err := v.cat.SetTrust(ctx, artifact.Store, artifact.ID, catalog.TrustPassed); err != nil {
			return err
		}
	}

	logging.Info().
		Str("store", artifact.Store).
		Str("artifact_id", artifact.ID).
		Str("level", string(level)).
		Int("warnings", len(report.Warnings)).
		Msg("Validation passed")
	return nil
}

func (v *Validator) stageExistence(ctx context.Context, r *run) error {
	exists, err := v.transport.Exists(ctx, r.artifact.Key)
	if err != nil {
		return err
	}
	if !exists {
		return faults.New(faults.KindValidationFailure,
			fmt.Sprintf("artifact object %s missing from archive", r.artifact.Key))
	}

	info, err := v.transport.Stat(ctx, r.artifact.Key)
	if err != nil {
		return err
	}
	if info.Size == 0 {
		return faults.New(faults.KindValidationFailure, "artifact object is empty")
	}
	if r.artifact.Type == catalog.ArtifactFull && info.Size < v.cfg.Backup.MinPlausibleSize {
		return faults.New(faults.KindValidationFailure,
			fmt.Sprintf("full backup is %d bytes, below the plausible minimum %d", info.Size, v.cfg.Backup.MinPlausibleSize))
	}
	return nil
}

func (v *Validator) stageIntegrity(ctx context.Context, r *run) error {
	if err := archive.Verify(ctx, v.transport, r.artifact.Key); err != nil {
		return err
	}

	// Spool locally once; later stages re-read the same bytes.
	tmp, err := os.CreateTemp("", "walvault-validate-*")
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "create validation temp file", err)
	}
	r.tmpPath = tmp.Name()

	rc, err := v.transport.Get(ctx, r.artifact.Key)
	if err != nil {
		tmp.Close() //nolint:errcheck // Failure path
		return err
	}
	_, copyErr := io.Copy(tmp, rc)
	rc.Close()  //nolint:errcheck // Read side
	tmp.Close() //nolint:errcheck // Reopened read-only below
	if copyErr != nil {
		return faults.Wrap(faults.KindTransientIO, "download artifact", copyErr)
	}

	f, err := os.Open(r.tmpPath)
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "open spooled artifact", err)
	}
	defer f.Close() //nolint:errcheck // Read side

	info, err := backup.ReadContainer(ctx, f, r.artifact.Compression)
	if err != nil {
		return err
	}
	r.info = info
	return nil
}

func (v *Validator) stageStructure(ctx context.Context, r *run) error {
	info := r.info
	if len(info.Entries) == 0 || info.Entries[0] != "manifest.json" {
		return faults.New(faults.KindValidationFailure, "manifest is not the first container entry")
	}
	if !info.Complete {
		return faults.New(faults.KindValidationFailure, "container is missing its completion trailer")
	}
	if info.Manifest.ArtifactID != r.artifact.ID {
		return faults.New(faults.KindValidationFailure,
			fmt.Sprintf("manifest artifact id %s does not match catalog id %s", info.Manifest.ArtifactID, r.artifact.ID))
	}
	if info.Manifest.Marker != r.artifact.Marker {
		return faults.New(faults.KindValidationFailure,
			fmt.Sprintf("manifest marker %d does not match catalog marker %d", info.Manifest.Marker, r.artifact.Marker))
	}
	if len(info.Manifest.Collections) != len(info.DataSizes) {
		return faults.New(faults.KindValidationFailure,
			fmt.Sprintf("manifest lists %d collections, container has %d data entries", len(info.Manifest.Collections), len(info.DataSizes)))
	}
	for _, ce := range info.Manifest.Collections {
		size, ok := info.DataSizes[ce.Name]
		if !ok {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("collection %s listed in manifest but absent from container", ce.Name))
		}
		if size != ce.SizeBytes {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("collection %s is %d bytes, manifest says %d", ce.Name, size, ce.SizeBytes))
		}
	}
	return nil
}

func (v *Validator) stageRehearsal(ctx context.Context, r *run) error {
	started := time.Now()

	target, err := v.rehearsals.New(ctx, r.artifact.Store)
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "provision rehearsal instance", err)
	}
	defer func() {
		if terr := target.Teardown(); terr != nil {
			logging.Warn().Err(terr).
				Str("store", r.artifact.Store).
				Msg("Rehearsal teardown failed")
		}
	}()

	f, err := os.Open(r.tmpPath)
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "open spooled artifact", err)
	}
	defer f.Close() //nolint:errcheck // Read side

	_, err = backup.ExtractContainer(ctx, f, r.artifact.Compression, func(collection string, data io.Reader) error {
		return target.Load(ctx, collection, data)
	})
	if err != nil {
		return faults.Wrap(faults.KindValidationFailure, "rehearsal restore", err)
	}

	counts, err := target.Counts(ctx)
	if err != nil {
		return faults.Wrap(faults.KindValidationFailure, "read rehearsal counts", err)
	}
	r.rehearsalCounts = counts

	metrics.RehearsalDuration.WithLabelValues(r.artifact.Store).Observe(time.Since(started).Seconds())
	return nil
}

func (v *Validator) stageContent(ctx context.Context, r *run) error {
	critical := make(map[string]bool)
	if sc, err := v.cfg.StoreByName(r.artifact.Store); err == nil {
		for _, name := range sc.CriticalCollections {
			critical[name] = true
		}
	}

	for _, ce := range r.info.Manifest.Collections {
		got, ok := r.rehearsalCounts[ce.Name]
		if !ok {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("collection %s vanished during rehearsal", ce.Name))
		}
		if critical[ce.Name] && got == 0 {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("critical collection %s restored empty", ce.Name))
		}
		if ce.Records == 0 {
			continue
		}
		drift := float64(abs64(got-ce.Records)) / float64(ce.Records) * 100
		if drift > v.tolerance(ce.Name) {
			r.warnings = append(r.warnings,
				fmt.Sprintf("collection %s: rehearsed %d records, manifest says %d (%.1f%% drift)", ce.Name, got, ce.Records, drift))
		}
	}
	// Critical collections must be present in the backup at all.
	for name := range critical {
		if _, ok := r.rehearsalCounts[name]; !ok {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("critical collection %s missing from backup", name))
		}
	}
	return nil
}

func (v *Validator) tolerance(collection string) float64 {
	if pct, ok := v.cfg.Validator.CollectionTolerancePct[collection]; ok {
		return pct
	}
	return v.cfg.Validator.CountTolerancePct
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Sweep validates every untested artifact at full level. Scheduled runs
// use it so freshly produced backups earn trust without operator action.
func (v *Validator) Sweep(ctx context.Context) error {
	var firstErr error
	for _, store := range v.cfg.Stores {
		untested, err := v.cat.ListArtifacts(ctx, store.Name, catalog.ArtifactFilter{Trust: catalog.TrustUntested})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, artifact := range untested {
			if _, err := v.Validate(ctx, artifact, LevelFull); err != nil {
				logging.Error().Err(err).
					Str("store", store.Name).
					Str("artifact_id", artifact.ID).
					Msg("Validation sweep run errored")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
