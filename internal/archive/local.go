// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
)

// LocalTransport implements Transport on the local filesystem. Writes go
// through a temp file plus rename so a crashed Put never leaves a
// partial object at the destination key.
type LocalTransport struct {
	basePath string
	prefix   string
}

// NewLocalTransport creates a filesystem-backed transport rooted at the
// configured base path.
func NewLocalTransport(cfg config.ArchiveConfig) (*LocalTransport, error) {
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalTransport{
		basePath: cfg.Path,
		prefix:   cfg.Prefix,
	}, nil
}

func (l *LocalTransport) fullPath(key string) string {
	return filepath.Join(l.basePath, l.prefix, key)
}

func (l *LocalTransport) Put(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return faults.Wrap(faults.KindTransientIO, "failed to create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return faults.Wrap(faults.KindTransientIO, "failed to write object", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return faults.Wrap(faults.KindTransientIO, "failed to sync object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.KindTransientIO, "failed to close object", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.KindTransientIO, "failed to publish object", err)
	}
	return nil
}

func (l *LocalTransport) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.Wrap(faults.KindNotFound, key, err)
		}
		return nil, faults.Wrap(faults.KindTransientIO, "failed to open object", err)
	}
	return f, nil
}

func (l *LocalTransport) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := filepath.Join(l.basePath, l.prefix)
	searchPath := filepath.Join(root, prefix)

	var objects []ObjectInfo
	err := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Key:  filepath.ToSlash(relPath),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "failed to list objects", err)
	}
	return objects, nil
}

func (l *LocalTransport) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return faults.Wrap(faults.KindNotFound, key, err)
		}
		return faults.Wrap(faults.KindTransientIO, "failed to delete object", err)
	}
	return nil
}

func (l *LocalTransport) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fullPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, faults.Wrap(faults.KindTransientIO, "failed to stat object", err)
	}
	return true, nil
}

func (l *LocalTransport) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, faults.Wrap(faults.KindNotFound, key, err)
		}
		return ObjectInfo{}, faults.Wrap(faults.KindTransientIO, "failed to stat object", err)
	}
	return ObjectInfo{Key: key, Size: info.Size()}, nil
}

func (l *LocalTransport) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(l.basePath); err != nil {
		return faults.Wrap(faults.KindTransientIO, "archive directory unreachable", err)
	}
	return nil
}

func (l *LocalTransport) Close() error {
	return nil
}
