// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingSink captures delivered events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestDispatchFansOutToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	d := NewDispatcher(time.Second, a, b)

	d.Dispatch(context.Background(), Event{Type: "wal.gap_detected", Severity: SeverityCritical, Message: "gap"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected one event per sink, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].Timestamp.IsZero() {
		t.Error("dispatcher should stamp missing timestamps")
	}
}

func TestDispatchSinkFailureDoesNotBlockOthers(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink down")}
	ok := &recordingSink{}
	d := NewDispatcher(time.Second, failing, ok)

	d.Dispatch(context.Background(), Event{Type: "backup.failed", Severity: SeverityWarning, Message: "x"})

	if len(ok.events) != 1 {
		t.Error("healthy sink should still receive the event")
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var body string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), Event{
		Type:      "compliance.rpo_breach",
		Severity:  SeverityCritical,
		Store:     "orders",
		Message:   "rpo exceeded",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %s", contentType)
	}
	if !strings.Contains(body, `"compliance.rpo_breach"`) {
		t.Errorf("payload missing event type: %s", body)
	}
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Send(context.Background(), Event{Type: "t", Message: "m"}); err == nil {
		t.Error("expected error for 500 response")
	}
}
