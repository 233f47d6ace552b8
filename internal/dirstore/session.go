// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
session.go - Staged restore sessions for a directory store

A session stages everything in a scratch directory. Full-scope Commit
atomically swaps the staged collections in and rewrites the marker;
table-scope Commit writes a single timestamped side table file and
leaves the live collections alone. Abort removes the scratch directory.

The store holds a lock file for the session's lifetime so concurrent
restores and the Busy probe see it.
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
	"time"

	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/restore"
)

// Busy reports whether a restore session currently holds the store.
func (s *Store) Busy(_ context.Context) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, lockFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, faults.Wrap(faults.KindTransientIO, "probe lock", err)
}

// BeginRestore implements the restore destination contract.
func (s *Store) BeginRestore(_ context.Context, scope restore.Scope) (restore.Session, error) {
	lock, err := os.OpenFile(filepath.Join(s.root, lockFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // store root is operator-configured
	if err != nil {
		if os.IsExist(err) {
			return nil, faults.Wrap(faults.KindBusy, "restore already in progress", faults.ErrDestinationBusy)
		}
		return nil, faults.Wrap(faults.KindTransientIO, "acquire restore lock", err)
	}
	if err := lock.Close(); err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "acquire restore lock", err)
	}

	// Staging inside the store root keeps the final rename on one
	// filesystem, so the swap stays atomic.
	dir, err := os.MkdirTemp(s.root, ".restore-*")
	if err != nil {
		os.Remove(filepath.Join(s.root, lockFile)) //nolint:errcheck,gosec // already failing
		return nil, faults.Wrap(faults.KindTransientIO, "restore scratch dir", err)
	}
	return &session{store: s, scope: scope, dir: dir}, nil
}

type session struct {
	store *Store
	scope restore.Scope
	dir   string
	seq   uint64
	done  bool
}

func (ss *session) stagedPath(collection string) string {
	return filepath.Join(ss.dir, collection)
}

// Load implements the session contract.
func (ss *session) Load(_ context.Context, collection string, data io.Reader) error {
	if !ss.scope.IsFull() && collection != ss.scope.Table {
		return nil
	}
	f, err := os.Create(ss.stagedPath(collection)) //nolint:gosec // restore scratch dir
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "stage collection", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return faults.Wrap(faults.KindTransientIO, "stage collection", err)
	}
	if err := f.Close(); err != nil {
		return faults.Wrap(faults.KindTransientIO, "stage collection", err)
	}
	return nil
}

// Apply implements the session contract. Segment records outside a
// table scope are skipped, not errors.
func (ss *session) Apply(_ context.Context, seq uint64, data io.Reader) error {
	scanner := bufio.NewScanner(data)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		collection, record, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			return faults.New(faults.KindCorruption, fmt.Sprintf("segment %d: malformed record", seq))
		}
		if !ss.scope.IsFull() && collection != ss.scope.Table {
			continue
		}
		f, err := os.OpenFile(ss.stagedPath(collection), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // restore scratch dir
		if err != nil {
			return faults.Wrap(faults.KindTransientIO, "apply segment", err)
		}
		if _, err := fmt.Fprintln(f, record); err != nil {
			f.Close() //nolint:errcheck,gosec // already failing
			return faults.Wrap(faults.KindTransientIO, "apply segment", err)
		}
		if err := f.Close(); err != nil {
			return faults.Wrap(faults.KindTransientIO, "apply segment", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return faults.Wrap(faults.KindTransientIO, "read segment", err)
	}
	ss.seq = seq
	return nil
}

// Counts implements the session contract.
func (ss *session) Counts(_ context.Context) (map[string]int64, error) {
	entries, err := os.ReadDir(ss.dir)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "list staged collections", err)
	}
	counts := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := countLines(filepath.Join(ss.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		counts[e.Name()] = n
	}
	return counts, nil
}

// Commit implements the session contract.
func (ss *session) Commit(_ context.Context) error {
	if ss.done {
		return faults.New(faults.KindInternal, "session already finished")
	}
	defer ss.release()

	if ss.scope.IsFull() {
		return ss.commitFull()
	}
	return ss.commitSideTable()
}

// commitFull swaps the staged collections in and rewrites the marker.
func (ss *session) commitFull() error {
	live := filepath.Join(ss.store.root, collectionsDir)
	old := live + ".old"

	if err := os.RemoveAll(old); err != nil {
		return faults.Wrap(faults.KindTransientIO, "clear previous swap", err)
	}
	if err := os.Rename(live, old); err != nil && !os.IsNotExist(err) {
		return faults.Wrap(faults.KindTransientIO, "swap out collections", err)
	}
	if err := os.Rename(ss.dir, live); err != nil {
		// Try to put the old data back before reporting.
		os.Rename(old, live) //nolint:errcheck,gosec // already failing
		return faults.Wrap(faults.KindTransientIO, "swap in restored collections", err)
	}
	if err := os.RemoveAll(old); err != nil {
		return faults.Wrap(faults.KindTransientIO, "drop swapped-out collections", err)
	}

	// The sequence counter never moves backwards: fresh appends after a
	// point-in-time restore must not reuse sequence numbers that are
	// already archived.
	current, err := ss.store.Marker()
	if err != nil {
		return err
	}
	if ss.seq > current {
		current = ss.seq
	}
	return ss.store.writeMarker(current)
}

// commitSideTable writes the staged table next to the live one.
func (ss *session) commitSideTable() error {
	name := ss.scope.SideTableName(time.Now())
	staged := ss.stagedPath(ss.scope.Table)
	if _, err := os.Stat(staged); err != nil {
		return faults.Wrap(faults.KindValidationFailure, "staged table missing", err)
	}
	if err := os.Rename(staged, ss.store.collectionPath(name)); err != nil {
		return faults.Wrap(faults.KindTransientIO, "publish side table", err)
	}
	if err := os.RemoveAll(ss.dir); err != nil {
		return faults.Wrap(faults.KindTransientIO, "drop restore scratch dir", err)
	}
	return nil
}

// Abort implements the session contract.
func (ss *session) Abort(_ context.Context) error {
	if ss.done {
		return nil
	}
	defer ss.release()
	if err := os.RemoveAll(ss.dir); err != nil {
		return faults.Wrap(faults.KindTransientIO, "drop restore scratch dir", err)
	}
	return nil
}

func (ss *session) release() {
	ss.done = true
	os.Remove(filepath.Join(ss.store.root, lockFile)) //nolint:errcheck,gosec // absence is fine
}
