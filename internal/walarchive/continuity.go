// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
continuity.go - Archived Log Continuity Scan

Periodically walks each store's archived sequence numbers and reports
every hole in the chain. A hole means point-in-time recovery across that
range is impossible, so each distinct gap raises its own critical alert.
Gaps are reported once when discovered and the alert is re-raised only if
the gap widens.
*/

package walarchive

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
	"github.com/tomtom215/walvault/internal/notify"
)

// Gap is a missing run of sequence numbers. From and To are inclusive.
type Gap struct {
	From uint64
	To   uint64
}

func (g Gap) String() string {
	if g.From == g.To {
		return fmt.Sprintf("segment %d", g.From)
	}
	return fmt.Sprintf("segments %d-%d", g.From, g.To)
}

// ContinuityScanner detects holes in the archived segment chain.
type ContinuityScanner struct {
	cat      *catalog.Catalog
	notifier *notify.Dispatcher

	mu       sync.Mutex
	reported map[string]map[Gap]struct{}
}

// NewContinuityScanner builds a scanner over the given catalog.
func NewContinuityScanner(cat *catalog.Catalog, n *notify.Dispatcher) *ContinuityScanner {
	return &ContinuityScanner{
		cat:      cat,
		notifier: n,
		reported: make(map[string]map[Gap]struct{}),
	}
}

// Scan walks one store's archived sequences and returns every gap found.
// New gaps are alerted; previously reported gaps are returned silently.
func (s *ContinuityScanner) Scan(ctx context.Context, store string) ([]Gap, error) {
	seqs, err := s.cat.SegmentSeqs(ctx, store)
	if err != nil {
		return nil, err
	}

	gaps := findGaps(seqs)

	s.mu.Lock()
	known, ok := s.reported[store]
	if !ok {
		known = make(map[Gap]struct{})
		s.reported[store] = known
	}
	var fresh []Gap
	current := make(map[Gap]struct{}, len(gaps))
	for _, g := range gaps {
		current[g] = struct{}{}
		if _, seen := known[g]; !seen {
			fresh = append(fresh, g)
		}
	}
	// Drop tracking for gaps that were backfilled or reshaped.
	s.reported[store] = current
	s.mu.Unlock()

	for _, g := range fresh {
		metrics.WALGapsDetected.WithLabelValues(store).Inc()
		s.notifier.Dispatch(ctx, notify.Event{
			Type:     "wal.gap",
			Severity: notify.SeverityCritical,
			Store:    store,
			Message:  fmt.Sprintf("archived log chain broken: missing %s", g),
			Detail:   "point-in-time recovery past this range is not possible until the gap is backfilled",
		})
		logging.Error().
			Str("store", store).
			Uint64("from", g.From).
			Uint64("to", g.To).
			Msg("Continuity gap detected")
	}

	return gaps, nil
}

// ScanAll runs Scan over every store, continuing past per-store errors.
func (s *ContinuityScanner) ScanAll(ctx context.Context, stores []string) error {
	var firstErr error
	for _, store := range stores {
		if _, err := s.Scan(ctx, store); err != nil {
			logging.Error().Err(err).Str("store", store).Msg("Continuity scan failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// findGaps reports missing runs between consecutive archived sequence
// numbers. seqs must be ascending, which SegmentSeqs guarantees.
func findGaps(seqs []uint64) []Gap {
	var gaps []Gap
	for i := 1; i < len(seqs); i++ {
		if seqs[i] > seqs[i-1]+1 {
			gaps = append(gaps, Gap{From: seqs[i-1] + 1, To: seqs[i] - 1})
		}
	}
	return gaps
}
