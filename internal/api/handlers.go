// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
handlers.go - Read-only catalog and compliance handlers

Every handler reads from the catalog or the compliance monitor and
writes the standard JSON envelope. Store names come from the URL and
are checked against the configuration before touching the catalog, so a
typo returns 404 instead of an empty listing.
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/compliance"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
)

// Handler serves the inspection API.
type Handler struct {
	cfg     *config.Config
	cat     *catalog.Catalog
	monitor *compliance.Monitor
}

// NewHandler wires the handler to its data sources.
func NewHandler(cfg *config.Config, cat *catalog.Catalog, monitor *compliance.Monitor) *Handler {
	return &Handler{cfg: cfg, cat: cat, monitor: monitor}
}

// storeInfo is the /stores listing entry.
type storeInfo struct {
	Name  string             `json:"name"`
	Tier  config.Tier        `json:"tier"`
	Stats catalog.StoreStats `json:"stats"`
}

// HealthLive answers liveness probes.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}

// HealthReady answers readiness probes with a catalog round trip.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	for _, store := range h.cfg.Stores {
		if _, err := h.cat.Stats(r.Context(), store.Name); err != nil {
			writeError(w, err)
			return
		}
	}
	writeData(w, map[string]string{"status": "ready"})
}

// Stores lists configured stores with their catalog statistics.
func (h *Handler) Stores(w http.ResponseWriter, r *http.Request) {
	out := make([]storeInfo, 0, len(h.cfg.Stores))
	for _, store := range h.cfg.Stores {
		stats, err := h.cat.Stats(r.Context(), store.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, storeInfo{Name: store.Name, Tier: store.Tier, Stats: stats})
	}
	writeData(w, out)
}

// Artifacts lists a store's artifacts, newest first. Supports ?type=
// and ?trust= filters.
func (h *Handler) Artifacts(w http.ResponseWriter, r *http.Request) {
	store, err := h.storeName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := catalog.ArtifactFilter{
		Type:  catalog.ArtifactType(r.URL.Query().Get("type")),
		Trust: catalog.TrustState(r.URL.Query().Get("trust")),
	}
	artifacts, err := h.cat.ListArtifacts(r.Context(), store, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, artifacts)
}

// Artifact returns one artifact with its validation history.
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	store, err := h.storeName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	artifact, err := h.cat.GetArtifact(r.Context(), store, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	reports, err := h.cat.ReportsForArtifact(r.Context(), artifact.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, struct {
		Artifact catalog.Artifact           `json:"artifact"`
		Reports  []catalog.ValidationReport `json:"reports"`
	}{artifact, reports})
}

// Segments lists the archived segment sequence numbers for a store.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	store, err := h.storeName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	seqs, err := h.cat.SegmentSeqs(r.Context(), store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, seqs)
}

// Restores lists a store's restore history.
func (h *Handler) Restores(w http.ResponseWriter, r *http.Request) {
	store, err := h.storeName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.cat.ListRestoreRecords(r.Context(), store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, records)
}

// Compliance returns the current compliance report, optionally filtered
// with ?tier=.
func (h *Handler) Compliance(w http.ResponseWriter, r *http.Request) {
	tier := config.Tier(r.URL.Query().Get("tier"))
	report, err := h.monitor.ReportAll(r.Context(), tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, report)
}

// storeName extracts and validates the {store} URL parameter.
func (h *Handler) storeName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "store")
	if _, err := h.cfg.StoreByName(name); err != nil {
		return "", faults.Wrap(faults.KindNotFound, "unknown store", err)
	}
	return name, nil
}
