// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

//go:build unix

package archive

import "syscall"

// AvailableBytes reports the free space on the volume holding the
// archive directory. The second return is false when the measurement
// is unavailable.
func (l *LocalTransport) AvailableBytes() (uint64, bool) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(l.basePath, &st); err != nil {
		return 0, false
	}
	return st.Bavail * uint64(st.Bsize), true //nolint:gosec // Bsize is a positive block size
}
