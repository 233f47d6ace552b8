// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package archive

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
)

// Retrying wraps a Transport with per-call timeouts and bounded
// exponential backoff for TransientIO failures. Timeouts apply per call,
// not per whole operation, so a stuck transfer is retried or escalated
// rather than hanging its caller indefinitely. Non-transient faults
// (Corruption, NotFound) propagate immediately.
type Retrying struct {
	inner       Transport
	callTimeout time.Duration
	maxRetries  uint64
	baseDelay   time.Duration
}

// NewRetrying wraps the given transport with the configured retry policy.
func NewRetrying(inner Transport, cfg config.ArchiveConfig) *Retrying {
	return &Retrying{
		inner:       inner,
		callTimeout: cfg.CallTimeout,
		maxRetries:  uint64(cfg.MaxRetries),
		baseDelay:   cfg.RetryBaseDelay,
	}
}

// do runs one transport call under the retry policy.
func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackoff(), r.maxRetries),
		ctx,
	)

	attempt := 0
	start := time.Now()
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if !faults.IsTransient(err) {
			// Corruption, NotFound and friends are never retried.
			return backoff.Permanent(err)
		}
		metrics.TransportRetries.WithLabelValues(op).Inc()
		logging.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Msg("transient transport failure, retrying")
		return err
	}, policy)

	metrics.TransportLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TransportOperations.WithLabelValues(op, status).Inc()
	return err
}

func (r *Retrying) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.MaxElapsedTime = 0 // Bounded by attempt count, not wall clock
	return b
}

// Put retries only when data is rewindable (io.Seeker); a plain stream
// may already be partially consumed after a failed attempt, so it gets
// exactly one try under the per-call timeout.
func (r *Retrying) Put(ctx context.Context, key string, data io.Reader) error {
	seeker, rewindable := data.(io.Seeker)
	if !rewindable {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		start := time.Now()
		err := r.inner.Put(callCtx, key, data)
		metrics.TransportLatency.WithLabelValues("put").Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.TransportOperations.WithLabelValues("put", status).Inc()
		return err
	}

	return r.do(ctx, "put", func(callCtx context.Context) error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return faults.Wrap(faults.KindInternal, "failed to rewind payload", err)
		}
		return r.inner.Put(callCtx, key, data)
	})
}

// Get retries the open under the retry policy. HTTP-backed transports
// stream the body over the request context, so the per-call timeout is
// handed to the returned ReadCloser and released on Close; it bounds
// the whole transfer, not only the open.
func (r *Retrying) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackoff(), r.maxRetries),
		ctx,
	)

	var rc io.ReadCloser
	attempt := 0
	start := time.Now()
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)

		body, err := r.inner.Get(callCtx, key)
		if err != nil {
			cancel()
			if !faults.IsTransient(err) {
				return backoff.Permanent(err)
			}
			metrics.TransportRetries.WithLabelValues("get").Inc()
			logging.Warn().Err(err).Str("operation", "get").Int("attempt", attempt).Msg("transient transport failure, retrying")
			return err
		}
		rc = &ownedBody{ReadCloser: body, release: cancel}
		return nil
	}, policy)

	metrics.TransportLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TransportOperations.WithLabelValues("get", status).Inc()
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// ownedBody couples an object body to the call context that guards its
// transfer. Close closes the body, then releases the context.
type ownedBody struct {
	io.ReadCloser
	release context.CancelFunc
}

func (b *ownedBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := r.do(ctx, "list", func(callCtx context.Context) error {
		var err error
		objects, err = r.inner.List(callCtx, prefix)
		return err
	})
	return objects, err
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", func(callCtx context.Context) error {
		return r.inner.Delete(callCtx, key)
	})
}

func (r *Retrying) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.do(ctx, "exists", func(callCtx context.Context) error {
		var err error
		exists, err = r.inner.Exists(callCtx, key)
		return err
	})
	return exists, err
}

func (r *Retrying) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.do(ctx, "stat", func(callCtx context.Context) error {
		var err error
		info, err = r.inner.Stat(callCtx, key)
		return err
	})
	return info, err
}

// AvailableBytes forwards to backends that can measure free space.
func (r *Retrying) AvailableBytes() (uint64, bool) {
	type spaceReporter interface {
		AvailableBytes() (uint64, bool)
	}
	if sr, ok := r.inner.(spaceReporter); ok {
		return sr.AvailableBytes()
	}
	return 0, false
}

func (r *Retrying) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.inner.HealthCheck(callCtx)
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
