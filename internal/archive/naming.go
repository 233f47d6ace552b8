// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Artifact and segment key layout inside the archive:
//
//	backups/{store}/{store}_{type}_{iso8601}_{id8}.tar.{gz|zst}
//	backups/{store}/{store}_{type}_{iso8601}_{id8}.tar.{gz|zst}.sha256
//	wal/{store}/{seq:016d}.seg
//	wal/{store}/{seq:016d}.seg.sha256
//
// The id8 component disambiguates artifacts created within the same
// second. Every payload object carries a co-located checksum sidecar.

// timestampLayout is a filesystem-safe ISO 8601 basic format.
const timestampLayout = "20060102T150405Z"

// segWidth is the fixed width of the monotonic segment counter.
const segWidth = 16

// ChecksumSuffix is appended to a payload key to name its sidecar.
const ChecksumSuffix = ".sha256"

// ArtifactKey builds the archive key for a backup artifact. The first
// eight characters of the artifact ID keep keys unique when two backups
// start within one second.
func ArtifactKey(store, artifactType, artifactID string, createdAt time.Time, ext string) string {
	id8 := artifactID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	name := fmt.Sprintf("%s_%s_%s_%s.%s", store, artifactType, createdAt.UTC().Format(timestampLayout), id8, ext)
	return fmt.Sprintf("backups/%s/%s", store, name)
}

// ArtifactPrefix returns the listing prefix for a store's artifacts.
func ArtifactPrefix(store string) string {
	return fmt.Sprintf("backups/%s/", store)
}

// SegmentKey builds the archive key for a log segment.
func SegmentKey(store string, seq uint64) string {
	return fmt.Sprintf("wal/%s/%0*d.seg", store, segWidth, seq)
}

// SegmentPrefix returns the listing prefix for a store's log segments.
func SegmentPrefix(store string) string {
	return fmt.Sprintf("wal/%s/", store)
}

// ChecksumKey names the sidecar for a payload key.
func ChecksumKey(key string) string {
	return key + ChecksumSuffix
}

// IsChecksumKey reports whether the key names a sidecar.
func IsChecksumKey(key string) bool {
	return strings.HasSuffix(key, ChecksumSuffix)
}

// ParseSegmentKey extracts the sequence id from a segment key. It
// tolerates the full key or just the object name.
func ParseSegmentKey(key string) (uint64, bool) {
	if IsChecksumKey(key) {
		return 0, false
	}
	name := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		name = key[i+1:]
	}
	name, ok := strings.CutSuffix(name, ".seg")
	if !ok || len(name) != segWidth {
		return 0, false
	}
	seq, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
