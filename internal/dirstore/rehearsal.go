// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package dirstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/validation"
)

// RehearsalFactory spins up throwaway directory stores for validation
// stage 4. Each rehearsal lives in its own temp directory under Root
// (or the system temp dir when Root is empty) and is removed on
// teardown.
type RehearsalFactory struct {
	Root string
}

// New implements the validation rehearsal contract.
func (f RehearsalFactory) New(_ context.Context, store string) (validation.RehearsalTarget, error) {
	dir, err := os.MkdirTemp(f.Root, "walvault-rehearsal-"+store+"-*")
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "rehearsal scratch dir", err)
	}
	return &rehearsalTarget{dir: dir}, nil
}

type rehearsalTarget struct {
	dir string
}

func (t *rehearsalTarget) Load(_ context.Context, collection string, data io.Reader) error {
	f, err := os.Create(filepath.Join(t.dir, collection)) //nolint:gosec // rehearsal scratch dir
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "create rehearsal collection", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return faults.Wrap(faults.KindTransientIO, "load rehearsal collection", err)
	}
	if err := f.Close(); err != nil {
		return faults.Wrap(faults.KindTransientIO, "close rehearsal collection", err)
	}
	return nil
}

func (t *rehearsalTarget) Counts(_ context.Context) (map[string]int64, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "list rehearsal collections", err)
	}
	counts := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := countLines(filepath.Join(t.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		counts[e.Name()] = n
	}
	return counts, nil
}

func (t *rehearsalTarget) Teardown() error {
	return os.RemoveAll(t.dir)
}
