// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
snapshot.go - Consistent snapshots of a directory store

BeginSnapshot copies every collection into a private temp directory
before returning, so later appends cannot bleed into the backup stream.
Incremental snapshots never touch the collections at all: they are cut
from the WAL segments journaled after the base marker.
*/

package dirstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/walvault/internal/backup"
	"github.com/tomtom215/walvault/internal/faults"
)

type snapshot struct {
	marker uint64
	dir    string
	counts map[string]int64
}

// BeginSnapshot implements the backup source contract.
func (s *Store) BeginSnapshot(_ context.Context) (backup.Snapshot, error) {
	marker, err := s.Marker()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "walvault-snap-*")
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "snapshot scratch dir", err)
	}
	snap := &snapshot{marker: marker, dir: dir, counts: make(map[string]int64)}

	names, err := s.collections()
	if err != nil {
		snap.Close() //nolint:errcheck,gosec // already failing
		return nil, err
	}
	for _, name := range names {
		n, err := copyFile(s.collectionPath(name), filepath.Join(dir, name))
		if err != nil {
			snap.Close() //nolint:errcheck,gosec // already failing
			return nil, err
		}
		snap.counts[name] = n
	}
	return snap, nil
}

// BeginIncremental implements the incremental source contract. The
// snapshot contains the records journaled in WAL segments after
// sinceMarker, grouped back into their collections.
func (s *Store) BeginIncremental(_ context.Context, sinceMarker uint64) (backup.Snapshot, error) {
	marker, err := s.Marker()
	if err != nil {
		return nil, err
	}
	if sinceMarker > marker {
		return nil, faults.New(faults.KindPolicyViolation,
			fmt.Sprintf("base marker %d is ahead of the store marker %d", sinceMarker, marker))
	}

	dir, err := os.MkdirTemp("", "walvault-snap-*")
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "snapshot scratch dir", err)
	}
	snap := &snapshot{marker: marker, dir: dir, counts: make(map[string]int64)}

	segs, err := s.PendingSegments()
	if err != nil {
		snap.Close() //nolint:errcheck,gosec // already failing
		return nil, err
	}
	writers := make(map[string]*os.File)
	defer func() {
		for _, w := range writers {
			w.Close() //nolint:errcheck,gosec // flushed below on success
		}
	}()
	for _, seg := range segs {
		if seg.Seq <= sinceMarker || seg.Seq > marker {
			continue
		}
		if err := s.replaySegmentInto(seg.Seq, writers, snap); err != nil {
			snap.Close() //nolint:errcheck,gosec // already failing
			return nil, err
		}
	}
	for name, w := range writers {
		if err := w.Close(); err != nil {
			delete(writers, name)
			snap.Close() //nolint:errcheck,gosec // already failing
			return nil, faults.Wrap(faults.KindTransientIO, "close snapshot collection", err)
		}
		delete(writers, name)
	}
	return snap, nil
}

// replaySegmentInto appends one WAL segment's records to the snapshot's
// per-collection files.
func (s *Store) replaySegmentInto(seq uint64, writers map[string]*os.File, snap *snapshot) error {
	f, err := os.Open(filepath.Join(s.root, walDir, fmt.Sprintf("%d.seg", seq))) //nolint:gosec // store root is operator-configured
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "open segment", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		collection, record, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			return faults.New(faults.KindCorruption, fmt.Sprintf("segment %d: malformed record", seq))
		}
		w, open := writers[collection]
		if !open {
			w, err = os.OpenFile(filepath.Join(snap.dir, collection), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // snapshot scratch dir
			if err != nil {
				return faults.Wrap(faults.KindTransientIO, "open snapshot collection", err)
			}
			writers[collection] = w
		}
		if _, err := fmt.Fprintln(w, record); err != nil {
			return faults.Wrap(faults.KindTransientIO, "write snapshot record", err)
		}
		snap.counts[collection]++
	}
	if err := scanner.Err(); err != nil {
		return faults.Wrap(faults.KindTransientIO, "scan segment", err)
	}
	return nil
}

func (sn *snapshot) Marker() uint64 { return sn.marker }

func (sn *snapshot) Collections() []string {
	names := make([]string, 0, len(sn.counts))
	for name := range sn.counts {
		names = append(names, name)
	}
	return names
}

func (sn *snapshot) Counts() map[string]int64 {
	out := make(map[string]int64, len(sn.counts))
	for k, v := range sn.counts {
		out[k] = v
	}
	return out
}

func (sn *snapshot) Open(_ context.Context, collection string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(sn.dir, collection)) //nolint:gosec // snapshot scratch dir
	if err != nil {
		return nil, faults.Wrap(faults.KindNotFound, "snapshot collection", err)
	}
	return f, nil
}

func (sn *snapshot) Close() error {
	return os.RemoveAll(sn.dir)
}

// copyFile copies src to dst and returns the record count.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src) //nolint:gosec // store root is operator-configured
	if err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "open collection", err)
	}
	defer in.Close() //nolint:errcheck // read-only

	out, err := os.Create(dst) //nolint:gosec // snapshot scratch dir
	if err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "create snapshot copy", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck,gosec // already failing
		return 0, faults.Wrap(faults.KindTransientIO, "copy collection", err)
	}
	if err := out.Close(); err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "close snapshot copy", err)
	}
	return countLines(dst)
}
