// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/tomtom215/walvault/internal/faults"
)

// HashReader computes the SHA-256 of everything read from r.
func HashReader(r io.Reader) (checksum string, size int64, err error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// PutWithChecksum stores data at key and writes the SHA-256 sidecar
// alongside it. The sidecar is written after the payload so a visible
// sidecar always refers to a fully published object.
func PutWithChecksum(ctx context.Context, t Transport, key string, data io.ReadSeeker) (checksum string, size int64, err error) {
	checksum, size, err = HashReader(data)
	if err != nil {
		return "", 0, faults.Wrap(faults.KindTransientIO, "failed to hash payload", err)
	}
	if _, err := data.Seek(0, io.SeekStart); err != nil {
		return "", 0, faults.Wrap(faults.KindInternal, "failed to rewind payload", err)
	}

	if err := t.Put(ctx, key, data); err != nil {
		return "", 0, err
	}

	sidecar := fmt.Sprintf("%s  %s\n", checksum, baseName(key))
	if err := t.Put(ctx, ChecksumKey(key), strings.NewReader(sidecar)); err != nil {
		return "", 0, err
	}
	return checksum, size, nil
}

// ReadChecksum fetches and parses the sidecar for key.
func ReadChecksum(ctx context.Context, t Transport, key string) (string, error) {
	rc, err := t.Get(ctx, ChecksumKey(key))
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, 256)); err != nil {
		return "", faults.Wrap(faults.KindTransientIO, "failed to read checksum sidecar", err)
	}

	fields := strings.Fields(buf.String())
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", faults.Newf(faults.KindCorruption, "malformed checksum sidecar for %s", key)
	}
	return fields[0], nil
}

// Verify streams the object at key through SHA-256 and compares it with
// the sidecar. A mismatch is Corruption, never retried.
func Verify(ctx context.Context, t Transport, key string) error {
	want, err := ReadChecksum(ctx, t, key)
	if err != nil {
		return err
	}

	rc, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	got, _, err := HashReader(rc)
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "failed to hash archived object", err)
	}
	if got != want {
		return faults.Newf(faults.KindCorruption, "checksum mismatch for %s: sidecar %s, actual %s", key, want, got)
	}
	return nil
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
