// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package archive implements the archive transport: moving immutable log
// segments and backup artifacts between the engine and a durable archive
// location. Transports are stateless and retryable; every blocking call
// takes a context and is a designed cancellation point.
package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/tomtom215/walvault/internal/config"
)

// ObjectInfo describes one archived object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Transport moves bytes between the engine and the archive. All
// implementations must be safe for concurrent use.
type Transport interface {
	// Put stores data at the given key, overwriting any existing object.
	Put(ctx context.Context, key string, data io.Reader) error

	// Get retrieves the object at the given key. Missing keys return a
	// NotFound fault.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns all objects under the given prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object at the given key.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns metadata for the object at the given key.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// NewTransport creates the configured transport backend wrapped with
// per-call timeouts and bounded backoff retries.
func NewTransport(ctx context.Context, cfg config.ArchiveConfig) (Transport, error) {
	var inner Transport
	var err error

	switch cfg.Backend {
	case "local":
		inner, err = NewLocalTransport(cfg)
	case "s3":
		inner, err = NewS3Transport(ctx, cfg)
	default:
		err = fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewRetrying(inner, cfg), nil
}
