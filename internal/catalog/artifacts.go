// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
artifacts.go - Artifact Records

Artifact registration, trust-state transitions, and the recovery queries
that pick restore candidates. Ordering is always newest-first by
completion time with artifact ID descending as the tie-break, so repeated
queries over the same catalog return the same candidate.
*/

package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
)

func artifactKey(store, id string) string {
	return prefixArtifact + store + ":" + id
}

// PutArtifact registers or updates an artifact record.
func (c *Catalog) PutArtifact(ctx context.Context, a Artifact) error {
	if a.ID == "" || a.Store == "" {
		return faults.New(faults.KindInternal, "artifact requires id and store")
	}
	if a.Trust == "" {
		a.Trust = TrustUntested
	}
	return c.put(artifactKey(a.Store, a.ID), a)
}

// GetArtifact fetches one artifact by store and ID.
func (c *Catalog) GetArtifact(ctx context.Context, store, id string) (Artifact, error) {
	var a Artifact
	if err := c.get(artifactKey(store, id), &a); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// FindArtifact locates an artifact by ID alone, scanning across stores.
// Used by the CLI, where operators identify artifacts by ID only.
func (c *Catalog) FindArtifact(ctx context.Context, id string) (Artifact, error) {
	var found *Artifact
	err := scan(c, prefixArtifact, func(_ string, a Artifact) error {
		if a.ID == id {
			found = &a
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	if found == nil {
		return Artifact{}, faults.Wrap(faults.KindNotFound, fmt.Sprintf("artifact %s", id), faults.ErrNotFound)
	}
	return *found, nil
}

// SetTrust transitions an artifact's trust state. Transitions are
// restricted to the validation lifecycle: untested may move to passed or
// failed, passed may be demoted to failed on a later sweep, and failed is
// terminal until a fresh validation run passes it again.
func (c *Catalog) SetTrust(ctx context.Context, store, id string, next TrustState) error {
	a, err := c.GetArtifact(ctx, store, id)
	if err != nil {
		return err
	}
	if next != TrustPassed && next != TrustFailed {
		return faults.New(faults.KindInternal, fmt.Sprintf("invalid trust transition target %q", next))
	}

	prev := a.Trust
	a.Trust = next
	if err := c.put(artifactKey(store, id), a); err != nil {
		return err
	}

	logging.Info().
		Str("store", store).
		Str("artifact_id", id).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("Artifact trust state changed")
	return nil
}

// DeleteArtifact removes an artifact record. Retention only.
func (c *Catalog) DeleteArtifact(ctx context.Context, store, id string) error {
	return c.delete(artifactKey(store, id))
}

// ArtifactFilter selects artifacts in ListArtifacts. Zero values match all.
type ArtifactFilter struct {
	Type  ArtifactType
	Trust TrustState
}

func (f ArtifactFilter) matches(a Artifact) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Trust != "" && a.Trust != f.Trust {
		return false
	}
	return true
}

// ListArtifacts returns a store's artifacts newest-first.
func (c *Catalog) ListArtifacts(ctx context.Context, store string, filter ArtifactFilter) ([]Artifact, error) {
	var out []Artifact
	err := scan(c, prefixArtifact+store+":", func(_ string, a Artifact) error {
		if filter.matches(a) {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst orders by completion time descending, artifact ID
// descending on equal timestamps. The tie-break keeps candidate selection
// deterministic when two backups complete in the same instant.
func sortNewestFirst(artifacts []Artifact) {
	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].CompletedAt.Equal(artifacts[j].CompletedAt) {
			return artifacts[i].CompletedAt.After(artifacts[j].CompletedAt)
		}
		return artifacts[i].ID > artifacts[j].ID
	})
}

// NewestPassedFull returns the most recent full artifact that has passed
// validation. This is the only class of artifact a restore may start from.
func (c *Catalog) NewestPassedFull(ctx context.Context, store string) (Artifact, error) {
	return c.newestPassedFull(ctx, store, func(Artifact) bool { return true })
}

// NewestPassedFullBefore returns the newest passed full artifact whose
// consistency marker was captured at or before t.
func (c *Catalog) NewestPassedFullBefore(ctx context.Context, store string, t time.Time) (Artifact, error) {
	return c.newestPassedFull(ctx, store, func(a Artifact) bool {
		return !a.CompletedAt.After(t)
	})
}

// NewestPassedFullWithMarkerAtMost returns the newest passed full artifact
// whose consistency marker does not exceed seq.
func (c *Catalog) NewestPassedFullWithMarkerAtMost(ctx context.Context, store string, seq uint64) (Artifact, error) {
	return c.newestPassedFull(ctx, store, func(a Artifact) bool {
		return a.Marker <= seq
	})
}

func (c *Catalog) newestPassedFull(ctx context.Context, store string, accept func(Artifact) bool) (Artifact, error) {
	candidates, err := c.ListArtifacts(ctx, store, ArtifactFilter{Type: ArtifactFull, Trust: TrustPassed})
	if err != nil {
		return Artifact{}, err
	}
	for _, a := range candidates {
		if accept(a) {
			return a, nil
		}
	}
	return Artifact{}, faults.Wrap(faults.KindNotFound,
		fmt.Sprintf("no validated full backup for store %s", store), faults.ErrNoSuitableBackup)
}

// NewestArtifact returns the most recent artifact of any type and trust
// state. Incremental backups base themselves on it.
func (c *Catalog) NewestArtifact(ctx context.Context, store string) (Artifact, error) {
	all, err := c.ListArtifacts(ctx, store, ArtifactFilter{})
	if err != nil {
		return Artifact{}, err
	}
	if len(all) == 0 {
		return Artifact{}, faults.Wrap(faults.KindNotFound,
			fmt.Sprintf("no artifacts for store %s", store), faults.ErrNotFound)
	}
	return all[0], nil
}
