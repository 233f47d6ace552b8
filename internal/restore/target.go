// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
target.go - Recovery Target Resolution

A recovery target names a point to recover to: the latest recoverable
state, a wall-clock instant, or an exact log sequence number. Resolution
turns the target into a concrete plan (which validated full backup to
start from, how far to replay the log) before any destructive work
begins. No plan means no suitable backup, and the restore never starts.
*/

package restore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/faults"
)

// Target is a parsed recovery target.
type Target struct {
	Latest bool
	Time   time.Time
	Seq    uint64

	hasTime bool
	hasSeq  bool
}

// ParseTarget parses the CLI target syntax: "latest", an RFC 3339
// timestamp, or "seq:N".
func ParseTarget(s string) (Target, error) {
	switch {
	case s == "latest":
		return Target{Latest: true}, nil
	case strings.HasPrefix(s, "seq:"):
		seq, err := strconv.ParseUint(strings.TrimPrefix(s, "seq:"), 10, 64)
		if err != nil {
			return Target{}, faults.New(faults.KindPolicyViolation,
				fmt.Sprintf("invalid sequence target %q", s))
		}
		return Target{Seq: seq, hasSeq: true}, nil
	default:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Target{}, faults.New(faults.KindPolicyViolation,
				fmt.Sprintf("target %q is not latest, seq:N or an RFC 3339 timestamp", s))
		}
		return Target{Time: t, hasTime: true}, nil
	}
}

// TargetTime builds a timestamp target.
func TargetTime(t time.Time) Target { return Target{Time: t, hasTime: true} }

// TargetSeq builds a sequence target.
func TargetSeq(seq uint64) Target { return Target{Seq: seq, hasSeq: true} }

// TargetLatest is the latest-recoverable-state target.
var TargetLatest = Target{Latest: true}

func (t Target) String() string {
	switch {
	case t.Latest:
		return "latest"
	case t.hasSeq:
		return fmt.Sprintf("seq:%d", t.Seq)
	case t.hasTime:
		return t.Time.Format(time.RFC3339)
	default:
		return "unset"
	}
}

// Plan is a resolved recovery target.
type Plan struct {
	// Base is the validated full backup the restore starts from.
	Base catalog.Artifact
	// ReplayFrom and ReplayTo bound the log replay, inclusive. A
	// ReplayTo below ReplayFrom means no replay is needed.
	ReplayFrom uint64
	ReplayTo   uint64
}

// SegmentCount returns how many segments the plan replays.
func (p Plan) SegmentCount() uint64 {
	if p.ReplayTo < p.ReplayFrom {
		return 0
	}
	return p.ReplayTo - p.ReplayFrom + 1
}

// Resolve maps a target onto the catalog. It returns a no-suitable-backup
// fault when no validated full backup can reach the target.
func Resolve(ctx context.Context, cat *catalog.Catalog, store string, target Target) (Plan, error) {
	var (
		base catalog.Artifact
		err  error
	)
	switch {
	case target.Latest:
		base, err = cat.NewestPassedFull(ctx, store)
	case target.hasTime:
		base, err = cat.NewestPassedFullBefore(ctx, store, target.Time)
	case target.hasSeq:
		base, err = cat.NewestPassedFullWithMarkerAtMost(ctx, store, target.Seq)
	default:
		return Plan{}, faults.New(faults.KindPolicyViolation, "recovery target is unset")
	}
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Base: base, ReplayFrom: base.Marker + 1}

	switch {
	case target.Latest:
		newest, err := cat.NewestSegment(ctx, store)
		switch faults.KindOf(err) {
		case "":
			plan.ReplayTo = newest.Seq
		case faults.KindNotFound:
			plan.ReplayTo = base.Marker // nothing archived, nothing to replay
		default:
			return Plan{}, err
		}
	case target.hasSeq:
		plan.ReplayTo = target.Seq
	case target.hasTime:
		to, err := highestSeqAtOrBefore(ctx, cat, store, base.Marker, target.Time)
		if err != nil {
			return Plan{}, err
		}
		plan.ReplayTo = to
	}

	if plan.ReplayTo < base.Marker {
		plan.ReplayTo = base.Marker
	}
	return plan, nil
}

// highestSeqAtOrBefore finds the last segment produced at or before t,
// looking past the base marker. Returns the marker itself when no newer
// segment qualifies.
func highestSeqAtOrBefore(ctx context.Context, cat *catalog.Catalog, store string, marker uint64, t time.Time) (uint64, error) {
	segs, err := cat.SegmentsInRange(ctx, store, marker+1, ^uint64(0))
	if err != nil {
		return 0, err
	}
	highest := marker
	for _, seg := range segs {
		if seg.ProducedAt.After(t) {
			break
		}
		highest = seg.Seq
	}
	return highest, nil
}
