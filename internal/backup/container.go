// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
container.go - Backup Container Format

Artifacts are tar streams compressed with gzip or zstd. Entry order is a
structural invariant the validator checks:

	manifest.json          first entry, describes everything that follows
	data/{collection}      one entry per collection, snapshot order
	_complete              last entry, body is the artifact ID

A truncated upload loses the _complete trailer, and a manifest that does
not match the data entries means the container was assembled wrong. Both
are detectable without domain knowledge of the payload.
*/

package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/faults"
)

const (
	manifestEntry = "manifest.json"
	completeEntry = "_complete"
	dataPrefix    = "data/"

	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// CollectionEntry describes one collection inside the container.
type CollectionEntry struct {
	Name      string `json:"name"`
	Records   int64  `json:"records"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manifest is the container's self-description.
type Manifest struct {
	ArtifactID     string               `json:"artifact_id"`
	Store          string               `json:"store"`
	Type           catalog.ArtifactType `json:"type"`
	BaseArtifactID string               `json:"base_artifact_id,omitempty"`
	Marker         uint64               `json:"marker"`
	CreatedAt      time.Time            `json:"created_at"`
	Compression    string               `json:"compression"`
	Collections    []CollectionEntry    `json:"collections"`
}

// Ext returns the artifact filename extension for a compression algorithm.
func Ext(compression string) string {
	if compression == CompressionZstd {
		return "tar.zst"
	}
	return "tar.gz"
}

func newCompressor(w io.Writer, algo string, level int) (io.WriteCloser, error) {
	switch algo {
	case CompressionGzip:
		zw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, "gzip writer", err)
		}
		return zw, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, "zstd writer", err)
		}
		return zw, nil
	default:
		return nil, faults.New(faults.KindInternal, fmt.Sprintf("unknown compression %q", algo))
	}
}

func newDecompressor(r io.Reader, algo string) (io.ReadCloser, error) {
	switch algo {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, faults.Wrap(faults.KindCorruption, "gzip header", err)
		}
		return zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, faults.Wrap(faults.KindCorruption, "zstd header", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, faults.New(faults.KindInternal, fmt.Sprintf("unknown compression %q", algo))
	}
}

// WriteContainer assembles a container from a snapshot into w and returns
// the finished manifest. Collections are spooled to disk first because tar
// headers need sizes up front and the manifest must precede the data.
func WriteContainer(ctx context.Context, w io.Writer, m Manifest, snap Snapshot, level int) (Manifest, error) {
	spoolDir, err := os.MkdirTemp("", "walvault-spool-*")
	if err != nil {
		return Manifest{}, faults.Wrap(faults.KindTransientIO, "create spool dir", err)
	}
	defer os.RemoveAll(spoolDir) //nolint:errcheck // Spool cleanup is best-effort

	counts := snap.Counts()
	m.Collections = m.Collections[:0]
	for _, name := range snap.Collections() {
		size, err := spoolCollection(ctx, snap, spoolDir, name)
		if err != nil {
			return Manifest{}, err
		}
		m.Collections = append(m.Collections, CollectionEntry{
			Name:      name,
			Records:   counts[name],
			SizeBytes: size,
		})
	}

	zw, err := newCompressor(w, m.Compression, level)
	if err != nil {
		return Manifest{}, err
	}
	tw := tar.NewWriter(zw)

	manifestData, err := json.Marshal(m)
	if err != nil {
		return Manifest{}, faults.Wrap(faults.KindInternal, "marshal manifest", err)
	}
	if err := writeEntry(tw, manifestEntry, manifestData, m.CreatedAt); err != nil {
		return Manifest{}, err
	}

	for _, ce := range m.Collections {
		if err := copySpooled(tw, spoolDir, ce, m.CreatedAt); err != nil {
			return Manifest{}, err
		}
	}

	if err := writeEntry(tw, completeEntry, []byte(m.ArtifactID), m.CreatedAt); err != nil {
		return Manifest{}, err
	}

	if err := tw.Close(); err != nil {
		return Manifest{}, faults.Wrap(faults.KindTransientIO, "close tar", err)
	}
	if err := zw.Close(); err != nil {
		return Manifest{}, faults.Wrap(faults.KindTransientIO, "close compressor", err)
	}
	return m, nil
}

func spoolCollection(ctx context.Context, snap Snapshot, dir, name string) (int64, error) {
	rc, err := snap.Open(ctx, name)
	if err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, fmt.Sprintf("open collection %s", name), err)
	}
	defer rc.Close() //nolint:errcheck // Read side, drained below

	f, err := os.Create(filepath.Join(dir, name)) //nolint:gosec // Collection names come from the validated source, dir is a fresh temp dir
	if err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, "create spool file", err)
	}
	defer f.Close() //nolint:errcheck // Write errors surface via Copy

	size, err := io.Copy(f, rc)
	if err != nil {
		return 0, faults.Wrap(faults.KindTransientIO, fmt.Sprintf("spool collection %s", name), err)
	}
	return size, nil
}

func copySpooled(tw *tar.Writer, dir string, ce CollectionEntry, modTime time.Time) error {
	f, err := os.Open(filepath.Join(dir, ce.Name)) //nolint:gosec // Reading back our own spool file
	if err != nil {
		return faults.Wrap(faults.KindTransientIO, "open spool file", err)
	}
	defer f.Close() //nolint:errcheck // Read side

	hdr := &tar.Header{
		Name:    dataPrefix + ce.Name,
		Mode:    0o600,
		Size:    ce.SizeBytes,
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return faults.Wrap(faults.KindTransientIO, "write tar header", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return faults.Wrap(faults.KindTransientIO, "write tar entry", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, body []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(body)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return faults.Wrap(faults.KindTransientIO, "write tar header", err)
	}
	if _, err := tw.Write(body); err != nil {
		return faults.Wrap(faults.KindTransientIO, "write tar entry", err)
	}
	return nil
}

// ContainerInfo is what a full decode pass learns about a container.
type ContainerInfo struct {
	Manifest  Manifest
	Entries   []string
	DataSizes map[string]int64
	Complete  bool
}

// ReadContainer decodes the full container stream without keeping payload
// data. It reports structural facts; judging them is the validator's job.
// A stream that cannot be decoded end to end is a corruption fault.
func ReadContainer(ctx context.Context, r io.Reader, algo string) (*ContainerInfo, error) {
	info := &ContainerInfo{DataSizes: make(map[string]int64)}
	_, err := walkContainer(ctx, r, algo, info, nil)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ExtractContainer streams each data entry to fn in container order and
// returns the manifest. Used by restores and rehearsals.
func ExtractContainer(ctx context.Context, r io.Reader, algo string, fn func(collection string, data io.Reader) error) (Manifest, error) {
	info := &ContainerInfo{DataSizes: make(map[string]int64)}
	m, err := walkContainer(ctx, r, algo, info, fn)
	if err != nil {
		return Manifest{}, err
	}
	if !info.Complete {
		return Manifest{}, faults.Wrap(faults.KindCorruption, "container missing completion trailer", faults.ErrCorruption)
	}
	return m, nil
}

func walkContainer(ctx context.Context, r io.Reader, algo string, info *ContainerInfo, fn func(string, io.Reader) error) (Manifest, error) {
	zr, err := newDecompressor(r, algo)
	if err != nil {
		return Manifest{}, err
	}
	defer zr.Close() //nolint:errcheck // Read side

	tr := tar.NewReader(zr)
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, faults.Wrap(faults.KindCorruption, "decode container", err)
		}

		info.Entries = append(info.Entries, hdr.Name)
		switch {
		case hdr.Name == manifestEntry:
			if !first {
				return Manifest{}, faults.Wrap(faults.KindCorruption, "manifest is not the first entry", faults.ErrCorruption)
			}
			if err := json.NewDecoder(tr).Decode(&info.Manifest); err != nil {
				return Manifest{}, faults.Wrap(faults.KindCorruption, "decode manifest", err)
			}
		case hdr.Name == completeEntry:
			body, err := io.ReadAll(tr)
			if err != nil {
				return Manifest{}, faults.Wrap(faults.KindCorruption, "read completion trailer", err)
			}
			if string(body) == info.Manifest.ArtifactID {
				info.Complete = true
			}
		case len(hdr.Name) > len(dataPrefix) && hdr.Name[:len(dataPrefix)] == dataPrefix:
			name := hdr.Name[len(dataPrefix):]
			if fn != nil {
				if err := fn(name, tr); err != nil {
					return Manifest{}, err
				}
				info.DataSizes[name] = hdr.Size
			} else {
				n, err := io.Copy(io.Discard, tr)
				if err != nil {
					return Manifest{}, faults.Wrap(faults.KindCorruption, "decode container entry", err)
				}
				info.DataSizes[name] = n
			}
		default:
			return Manifest{}, faults.Wrap(faults.KindCorruption, fmt.Sprintf("unexpected container entry %q", hdr.Name), faults.ErrCorruption)
		}
		first = false
	}
	return info.Manifest, nil
}
