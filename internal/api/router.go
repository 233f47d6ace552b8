// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomtom215/walvault/internal/logging"
)

// NewRouter builds the HTTP surface.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.HealthLive)
	r.Get("/readyz", h.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Liveness probes and the Prometheus scraper stay unthrottled;
		// only the inspection surface is rate limited.
		if limit := h.cfg.Server.RateLimit; limit > 0 {
			r.Use(httprate.LimitByRealIP(limit, h.cfg.Server.RateLimitWindow))
		}
		r.Get("/stores", h.Stores)
		r.Route("/stores/{store}", func(r chi.Router) {
			r.Get("/artifacts", h.Artifacts)
			r.Get("/artifacts/{id}", h.Artifact)
			r.Get("/segments", h.Segments)
			r.Get("/restores", h.Restores)
		})
		r.Get("/compliance", h.Compliance)
	})

	return r
}

// requestLogging logs one line per request with the chi request ID.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}
