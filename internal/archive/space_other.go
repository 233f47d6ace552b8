// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

//go:build !unix

package archive

// AvailableBytes is not measured on non-unix platforms.
func (l *LocalTransport) AvailableBytes() (uint64, bool) {
	return 0, false
}
