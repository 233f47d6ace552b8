// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package api exposes the read-only inspection surface: health probes,
// Prometheus metrics and a JSON view of the catalog and compliance
// posture. All mutation goes through the CLI and the scheduler; the
// HTTP surface never triggers backups or restores.
package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
)

// APIResponse is the envelope for every JSON endpoint.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// writeError maps fault kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch faults.KindOf(err) {
	case faults.KindNotFound:
		status = http.StatusNotFound
		code = "not_found"
	case faults.KindPolicyViolation:
		status = http.StatusBadRequest
		code = "policy_violation"
	case faults.KindBusy:
		status = http.StatusConflict
		code = "busy"
	case faults.KindCorruption:
		code = "corruption"
	}

	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: err.Error()},
	})
}
