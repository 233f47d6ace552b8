// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
monitor.go - RPO/RTO Compliance Monitor

Measures each store's actual recovery posture against its tier targets.
Recovery point exposure is the age of the newest protection point (the
newest archived segment or validated backup, whichever is fresher).
Recovery time is estimated from the last promoted restore's measured
duration, padded by a safety factor; an unmeasured store is flagged
rather than assumed fine.

Alerts are level-triggered. An alert is active exactly while its
condition holds: raised once when the condition appears, re-announced on
severity change, cleared when the condition goes away. Ticks while the
condition persists stay quiet.
*/

package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
	"github.com/tomtom215/walvault/internal/notify"
)

// MetricStatus grades one compliance metric.
type MetricStatus string

const (
	StatusOK       MetricStatus = "ok"
	StatusWarning  MetricStatus = "warning"
	StatusCritical MetricStatus = "critical"
	StatusUnknown  MetricStatus = "unknown"
)

// SpaceReporter is implemented by archive backends that can measure the
// free space on their volume.
type SpaceReporter interface {
	AvailableBytes() (uint64, bool)
}

// Monitor evaluates compliance on a fixed cadence.
type Monitor struct {
	cfg      *config.Config
	cat      *catalog.Catalog
	notifier *notify.Dispatcher
	space    SpaceReporter

	mu     sync.Mutex
	active map[string]map[string]notify.Severity // store -> alert key -> severity

	// now is swappable for tests.
	now func() time.Time
}

// NewMonitor wires the monitor to the catalog and notifier. space may be
// nil when the archive backend cannot measure free capacity.
func NewMonitor(cfg *config.Config, cat *catalog.Catalog, n *notify.Dispatcher, space SpaceReporter) *Monitor {
	return &Monitor{
		cfg:      cfg,
		cat:      cat,
		notifier: n,
		space:    space,
		active:   make(map[string]map[string]notify.Severity),
		now:      time.Now,
	}
}

// MetricReport is one metric's posture for one store.
type MetricReport struct {
	Current time.Duration `json:"current"`
	Target  time.Duration `json:"target"`
	Status  MetricStatus  `json:"status"`
	// Measured is false when no data exists to compute the metric.
	Measured bool `json:"measured"`
}

// StoreReport is one store's compliance posture.
type StoreReport struct {
	Store string      `json:"store"`
	Tier  config.Tier `json:"tier"`
	RPO   MetricReport `json:"rpo"`
	RTO   MetricReport `json:"rto"`
}

// Status is the worse of the store's metric statuses.
func (r StoreReport) Status() MetricStatus {
	return worse(r.RPO.Status, r.RTO.Status)
}

// Report is a point-in-time compliance summary.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Stores      []StoreReport `json:"stores"`
}

// Status is the worst store status in the report.
func (r Report) Status() MetricStatus {
	status := StatusOK
	for _, s := range r.Stores {
		status = worse(status, s.Status())
	}
	return status
}

var statusRank = map[MetricStatus]int{
	StatusOK:       0,
	StatusUnknown:  1,
	StatusWarning:  2,
	StatusCritical: 3,
}

func worse(a, b MetricStatus) MetricStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Tick evaluates every store once and reconciles alerts.
func (m *Monitor) Tick(ctx context.Context) error {
	var firstErr error
	for _, store := range m.cfg.Stores {
		report, err := m.evaluate(ctx, store.Name)
		if err != nil {
			logging.Error().Err(err).Str("store", store.Name).Msg("Compliance evaluation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.reconcileAlerts(ctx, report)
	}
	if m.space != nil {
		if avail, ok := m.space.AvailableBytes(); ok {
			metrics.StorageAvailableBytes.Set(float64(avail))
		}
	}
	return firstErr
}

// ReportAll builds the compliance report, optionally filtered to one tier.
// An unknown tier name is rejected rather than silently matching nothing.
func (m *Monitor) ReportAll(ctx context.Context, tier config.Tier) (Report, error) {
	if tier != "" && !knownTier(tier) {
		return Report{}, faults.Newf(faults.KindPolicyViolation, "unknown tier %q", tier)
	}
	report := Report{GeneratedAt: m.now().UTC()}
	for _, store := range m.cfg.Stores {
		if tier != "" && store.Tier != tier {
			continue
		}
		sr, err := m.evaluate(ctx, store.Name)
		if err != nil {
			return Report{}, err
		}
		report.Stores = append(report.Stores, sr)
	}
	return report, nil
}

func knownTier(t config.Tier) bool {
	for _, tier := range config.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// evaluate computes one store's posture.
func (m *Monitor) evaluate(ctx context.Context, store string) (StoreReport, error) {
	tier, targets, err := m.cfg.TierOf(store)
	if err != nil {
		return StoreReport{}, faults.Wrap(faults.KindInternal, "resolve tier", err)
	}

	report := StoreReport{Store: store, Tier: tier}
	report.RPO = m.evaluateRPO(ctx, store, targets.RPO)
	report.RTO = m.evaluateRTO(ctx, store, targets.RTO)

	metrics.RPOSeconds.WithLabelValues(store).Set(report.RPO.Current.Seconds())
	if report.RTO.Measured {
		metrics.RTOEstimateSeconds.WithLabelValues(store).Set(report.RTO.Current.Seconds())
	}
	if stats, err := m.cat.Stats(ctx, store); err == nil {
		metrics.StorageUsedBytes.WithLabelValues(store).Set(float64(stats.TotalBytes))
	}
	m.refreshAgeGauges(ctx, store)
	return report, nil
}

// refreshAgeGauges recomputes the age gauges from the catalog's newest
// timestamps. Producers reset them to zero when they write; between
// events the ages keep growing and only the monitor sees that.
func (m *Monitor) refreshAgeGauges(ctx context.Context, store string) {
	now := m.now()
	if seg, err := m.cat.NewestSegment(ctx, store); err == nil {
		metrics.WALArchiveAge.WithLabelValues(store).Set(now.Sub(seg.ArchivedAt).Seconds())
	}
	for _, typ := range []catalog.ArtifactType{catalog.ArtifactFull, catalog.ArtifactIncremental} {
		arts, err := m.cat.ListArtifacts(ctx, store, catalog.ArtifactFilter{Type: typ})
		if err != nil || len(arts) == 0 {
			continue
		}
		metrics.BackupAge.WithLabelValues(store, string(typ)).Set(now.Sub(arts[0].CompletedAt).Seconds())
	}
}

// evaluateRPO measures data-loss exposure: the age of the newest
// protection point.
func (m *Monitor) evaluateRPO(ctx context.Context, store string, target time.Duration) MetricReport {
	report := MetricReport{Target: target, Status: StatusUnknown}

	var newest time.Time
	seg, err := m.cat.NewestSegment(ctx, store)
	if err == nil {
		newest = seg.ArchivedAt
	}
	// Only validated artifacts count as protection; an untested backup
	// has not been proven restorable.
	passed, err := m.cat.ListArtifacts(ctx, store, catalog.ArtifactFilter{Trust: catalog.TrustPassed})
	if err == nil && len(passed) > 0 && passed[0].CompletedAt.After(newest) {
		newest = passed[0].CompletedAt
	}
	if newest.IsZero() {
		// Nothing protects this store at all.
		report.Status = StatusCritical
		return report
	}

	report.Measured = true
	report.Current = m.now().Sub(newest)
	report.Status = grade(report.Current, target, m.cfg.Compliance.CriticalHeadroomPct)
	return report
}

// evaluateRTO estimates recovery time from the last promoted restore.
func (m *Monitor) evaluateRTO(ctx context.Context, store string, target time.Duration) MetricReport {
	report := MetricReport{Target: target, Status: StatusUnknown}

	last, err := m.cat.LastPromotedRestore(ctx, store)
	if faults.KindOf(err) == faults.KindNotFound {
		// Never rehearsed a real restore: the estimate would be fiction.
		return report
	}
	if err != nil {
		return report
	}

	report.Measured = true
	report.Current = time.Duration(float64(last.Duration()) * m.cfg.Restore.SafetyFactor)
	report.Status = grade(report.Current, target, m.cfg.Compliance.CriticalHeadroomPct)
	return report
}

// grade compares a measured duration to its target. At or past the
// target is critical; inside the headroom band just below the target is
// a warning.
func grade(current, target time.Duration, headroom float64) MetricStatus {
	if current >= target {
		return StatusCritical
	}
	warnAt := time.Duration(float64(target) * (1 - headroom))
	if current >= warnAt {
		return StatusWarning
	}
	return StatusOK
}

// reconcileAlerts raises, escalates and clears level-triggered alerts
// from one store report.
func (m *Monitor) reconcileAlerts(ctx context.Context, report StoreReport) {
	conditions := map[string]MetricStatus{
		"rpo": report.RPO.Status,
		"rto": report.RTO.Status,
	}

	m.mu.Lock()
	active, ok := m.active[report.Store]
	if !ok {
		active = make(map[string]notify.Severity)
		m.active[report.Store] = active
	}

	type change struct {
		key      string
		severity notify.Severity
		clear    bool
	}
	var changes []change

	for key, status := range conditions {
		var sev notify.Severity
		switch status {
		case StatusWarning:
			sev = notify.SeverityWarning
		case StatusCritical:
			sev = notify.SeverityCritical
		default:
			if _, wasActive := active[key]; wasActive {
				delete(active, key)
				changes = append(changes, change{key: key, clear: true})
			}
			continue
		}
		if prev, wasActive := active[key]; !wasActive || prev != sev {
			active[key] = sev
			changes = append(changes, change{key: key, severity: sev})
		}
	}

	counts := map[notify.Severity]int{}
	for _, sev := range active {
		counts[sev]++
	}
	m.mu.Unlock()

	metrics.ActiveAlerts.WithLabelValues(report.Store, string(notify.SeverityWarning)).Set(float64(counts[notify.SeverityWarning]))
	metrics.ActiveAlerts.WithLabelValues(report.Store, string(notify.SeverityCritical)).Set(float64(counts[notify.SeverityCritical]))

	for _, ch := range changes {
		if ch.clear {
			m.notifier.Dispatch(ctx, notify.Event{
				Type:     "compliance." + ch.key + ".cleared",
				Severity: notify.SeverityInfo,
				Store:    report.Store,
				Message:  fmt.Sprintf("%s back within target", ch.key),
			})
			continue
		}
		m.notifier.Dispatch(ctx, notify.Event{
			Type:     "compliance." + ch.key + ".breach",
			Severity: ch.severity,
			Store:    report.Store,
			Message:  alertMessage(ch.key, report),
		})
	}
}

func alertMessage(key string, report StoreReport) string {
	switch key {
	case "rpo":
		return fmt.Sprintf("recovery point exposure %s against a %s target (tier %s)",
			report.RPO.Current.Round(time.Second), report.RPO.Target, report.Tier)
	default:
		return fmt.Sprintf("estimated recovery time %s against a %s target (tier %s)",
			report.RTO.Current.Round(time.Second), report.RTO.Target, report.Tier)
	}
}
