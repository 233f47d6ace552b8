// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package dirstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/walvault/internal/faults"
)

// PendingSegment is one WAL segment file awaiting archival.
type PendingSegment struct {
	Seq        uint64
	Path       string
	ProducedAt time.Time
}

// PendingSegments lists the store's WAL segment files in ascending
// sequence order. Files that do not look like segments are ignored.
func (s *Store) PendingSegments() ([]PendingSegment, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, walDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, faults.Wrap(faults.KindTransientIO, "list segments", err)
	}

	var segs []PendingSegment
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".seg")
		if !ok || e.IsDir() {
			continue
		}
		seq, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, faults.Wrap(faults.KindTransientIO, "stat segment", err)
		}
		segs = append(segs, PendingSegment{
			Seq:        seq,
			Path:       filepath.Join(s.root, walDir, e.Name()),
			ProducedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
	return segs, nil
}

// OpenSegment opens one WAL segment for reading.
func (s *Store) OpenSegment(seq uint64) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.root, walDir, fmt.Sprintf("%d.seg", seq))) //nolint:gosec // store root is operator-configured
	if err != nil {
		return nil, faults.Wrap(faults.KindNotFound, "segment file", err)
	}
	return f, nil
}
