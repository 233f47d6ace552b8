// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
segments.go - WAL Segment Records

Per-segment archive metadata keyed by zero-padded sequence number, so
Badger's key order is sequence order. Range queries back log replay, and
the full sequence listing backs the continuity scanner's gap detection.
*/

package catalog

import (
	"context"
	"fmt"

	"github.com/tomtom215/walvault/internal/faults"
)

const seqWidth = 16

func segmentKey(store string, seq uint64) string {
	return fmt.Sprintf("%s%s:%0*d", prefixSegment, store, seqWidth, seq)
}

// PutSegment registers an archived segment.
func (c *Catalog) PutSegment(ctx context.Context, s Segment) error {
	if s.Store == "" {
		return faults.New(faults.KindInternal, "segment requires store")
	}
	return c.put(segmentKey(s.Store, s.Seq), s)
}

// GetSegment fetches one segment record.
func (c *Catalog) GetSegment(ctx context.Context, store string, seq uint64) (Segment, error) {
	var s Segment
	if err := c.get(segmentKey(store, seq), &s); err != nil {
		return Segment{}, err
	}
	return s, nil
}

// MarkSegmentCorrupt flags a segment whose archived copy failed its
// checksum. The record is kept so the damage stays visible; the segment
// is never silently overwritten.
func (c *Catalog) MarkSegmentCorrupt(ctx context.Context, store string, seq uint64) error {
	s, err := c.GetSegment(ctx, store, seq)
	if err != nil {
		return err
	}
	s.Corrupt = true
	return c.put(segmentKey(store, seq), s)
}

// DeleteSegment removes a segment record. Retention only.
func (c *Catalog) DeleteSegment(ctx context.Context, store string, seq uint64) error {
	return c.delete(segmentKey(store, seq))
}

// SegmentsInRange returns segments with from <= seq <= to in ascending
// sequence order. Replay depends on this ordering.
func (c *Catalog) SegmentsInRange(ctx context.Context, store string, from, to uint64) ([]Segment, error) {
	var out []Segment
	err := scan(c, prefixSegment+store+":", func(_ string, s Segment) error {
		if s.Seq >= from && s.Seq <= to {
			out = append(out, s)
		}
		if s.Seq > to {
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SegmentSeqs returns every archived sequence number for a store in
// ascending order.
func (c *Catalog) SegmentSeqs(ctx context.Context, store string) ([]uint64, error) {
	var out []uint64
	err := scan(c, prefixSegment+store+":", func(_ string, s Segment) error {
		out = append(out, s.Seq)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NewestSegment returns the highest-sequence archived segment. Compliance
// uses its archive time to measure data-loss exposure.
func (c *Catalog) NewestSegment(ctx context.Context, store string) (Segment, error) {
	var newest *Segment
	err := scan(c, prefixSegment+store+":", func(_ string, s Segment) error {
		newest = &s
		return nil
	})
	if err != nil {
		return Segment{}, err
	}
	if newest == nil {
		return Segment{}, faults.Wrap(faults.KindNotFound,
			fmt.Sprintf("no segments for store %s", store), faults.ErrNotFound)
	}
	return *newest, nil
}
