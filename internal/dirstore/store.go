// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
store.go - Directory-backed store adapter

The bundled adapter for stores that live on the local filesystem. The
layout is deliberately plain so any datastore with an export hook can
produce it:

  <root>/
    MARKER              current log sequence number, decimal
    collections/<name>  one record per line
    wal/<seq>.seg       log segments pending archival; each line is
                        "collection:record"

The adapter implements the backup source, incremental source and
restore destination contracts. Incremental snapshots are cut from the
WAL: records appended after the base marker, grouped by collection.
Programs protecting a real database embed the engine and bring their
own implementations instead.
*/

package dirstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tomtom215/walvault/internal/faults"
)

const (
	markerFile     = "MARKER"
	collectionsDir = "collections"
	walDir         = "wal"
	lockFile       = ".walvault-restore.lock"
)

// Store is a directory-backed data store.
type Store struct {
	name string
	root string
}

// Open binds the adapter to an existing store directory.
func Open(name, root string) (*Store, error) {
	if root == "" {
		return nil, faults.New(faults.KindPolicyViolation, "store "+name+" has no data path configured")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, faults.Wrap(faults.KindNotFound, "store directory", err)
	}
	if !info.IsDir() {
		return nil, faults.New(faults.KindPolicyViolation, root+" is not a directory")
	}
	return &Store{name: name, root: root}, nil
}

// Init creates an empty store directory layout.
func Init(name, root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, collectionsDir), filepath.Join(root, walDir)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, faults.Wrap(faults.KindTransientIO, "create store layout", err)
		}
	}
	markerPath := filepath.Join(root, markerFile)
	if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		if err := os.WriteFile(markerPath, []byte("0\n"), 0o640); err != nil {
			return nil, faults.Wrap(faults.KindTransientIO, "write marker", err)
		}
	}
	return Open(name, root)
}

// Name implements the backup source contract.
func (s *Store) Name() string { return s.name }

// Marker reads the store's current log sequence number.
func (s *Store) Marker() (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, markerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, faults.Wrap(faults.KindTransientIO, "read marker", err)
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, faults.Wrap(faults.KindCorruption, "marker file is not a sequence number", err)
	}
	return seq, nil
}

func (s *Store) writeMarker(seq uint64) error {
	tmp := filepath.Join(s.root, markerFile+".tmp")
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", seq)), 0o640); err != nil {
		return faults.Wrap(faults.KindTransientIO, "write marker", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.root, markerFile)); err != nil {
		return faults.Wrap(faults.KindTransientIO, "replace marker", err)
	}
	return nil
}

// collections lists the collection names present on disk.
func (s *Store) collections() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, collectionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, faults.Wrap(faults.KindTransientIO, "list collections", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Store) collectionPath(name string) string {
	return filepath.Join(s.root, collectionsDir, name)
}

// countLines counts the records in one file. A missing file is an empty
// collection.
func countLines(path string) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from the configured store root
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, faults.Wrap(faults.KindTransientIO, "open collection", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "scan collection", err)
	}
	return n, nil
}

// Append writes records to a collection and advances the marker,
// journaling the change as a WAL segment. Each write is one segment.
func (s *Store) Append(collection string, records ...string) (uint64, error) {
	seq, err := s.Marker()
	if err != nil {
		return 0, err
	}
	seq++

	f, err := os.OpenFile(s.collectionPath(collection), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // store root is operator-configured
	if err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "open collection", err)
	}
	seg, err := os.OpenFile(filepath.Join(s.root, walDir, fmt.Sprintf("%d.seg", seq)), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // store root is operator-configured
	if err != nil {
		f.Close() //nolint:errcheck,gosec // nothing written yet
		return 0, faults.Wrap(faults.KindTransientIO, "open segment", err)
	}

	for _, rec := range records {
		if _, err := fmt.Fprintln(f, rec); err != nil {
			f.Close()   //nolint:errcheck,gosec // already failing
			seg.Close() //nolint:errcheck,gosec // already failing
			return 0, faults.Wrap(faults.KindTransientIO, "append record", err)
		}
		if _, err := fmt.Fprintf(seg, "%s:%s\n", collection, rec); err != nil {
			f.Close()   //nolint:errcheck,gosec // already failing
			seg.Close() //nolint:errcheck,gosec // already failing
			return 0, faults.Wrap(faults.KindTransientIO, "journal record", err)
		}
	}
	if err := f.Close(); err != nil {
		seg.Close() //nolint:errcheck,gosec // already failing
		return 0, faults.Wrap(faults.KindTransientIO, "close collection", err)
	}
	if err := seg.Close(); err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "close segment", err)
	}
	if err := s.writeMarker(seq); err != nil {
		return 0, err
	}
	return seq, nil
}
