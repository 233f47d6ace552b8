// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
catalog.go - Durable Backup Catalog

The catalog is a BadgerDB-backed index of everything the engine has
produced: artifacts, WAL segments, validation reports, and restore
records. It answers the recovery-critical questions ("newest passed full
backup", "which segments cover this range") without touching the archive
transport, so recovery planning works even when object storage is slow.

Key layout uses typed prefixes with zero-padded ordering components so
that Badger's lexicographic iteration doubles as chronological iteration:

	artifact:{store}:{id}
	segment:{store}:{seq %016d}
	report:{artifact_id}:{created_at_unixnano %020d}
	restore:{store}:{started_at_unixnano %020d}
*/

package catalog

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
)

// Key prefixes for BadgerDB storage
const (
	prefixArtifact = "artifact:"
	prefixSegment  = "segment:"
	prefixReport   = "report:"
	prefixRestore  = "restore:"
)

// Catalog is the durable metadata store.
type Catalog struct {
	db *badger.DB
}

// Open creates or opens the catalog database at the configured path.
func Open(cfg config.CatalogConfig) (*Catalog, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "open catalog", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Catalog opened")

	return &Catalog{db: db}, nil
}

// OpenInMemory opens a throwaway catalog backed by memory. Intended for
// tests that do not need persistence across reopens.
func OpenInMemory() (*Catalog, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "open in-memory catalog", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return faults.Wrap(faults.KindTransientIO, "close catalog", err)
	}
	return nil
}

func (c *Catalog) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return faults.Wrap(faults.KindInternal, "marshal catalog record", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "write catalog record", err)
	}
	return nil
}

func (c *Catalog) get(key string, out any) error {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return faults.Wrap(faults.KindNotFound, fmt.Sprintf("catalog key %s", key), faults.ErrNotFound)
	}
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "read catalog record", err)
	}
	return nil
}

func (c *Catalog) delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "delete catalog record", err)
	}
	return nil
}

// errStopScan aborts a prefix scan early without surfacing an error.
var errStopScan = errors.New("stop scan")

// scan iterates every record under prefix, decoding each value into a
// fresh T and handing it to fn. Iteration order is lexicographic by key.
// fn may return errStopScan to end the scan early.
func scan[T any](c *Catalog, prefix string, fn func(key string, rec T) error) error {
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			var rec T
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if err := fn(string(item.Key()), rec); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errStopScan) {
		return nil
	}
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "scan catalog", err)
	}
	return nil
}
