// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package notify fans alerts and lifecycle events out to external
// channels. Sinks are a thin interface; delivery detail beyond the
// webhook sink is deliberately out of scope for the engine.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/walvault/internal/logging"
)

// Severity grades an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the payload delivered to every sink.
type Event struct {
	// Type names the event class, e.g. "backup.completed",
	// "wal.gap_detected", "compliance.rpo_breach", "restore.rolled_back".
	Type string `json:"type"`

	Severity Severity `json:"severity"`

	// Store is the affected data store, when applicable.
	Store string `json:"store,omitempty"`

	// ArtifactID is the affected backup artifact, when applicable.
	ArtifactID string `json:"artifact_id,omitempty"`

	// Message is the human-readable summary.
	Message string `json:"message"`

	// Detail carries event-specific context beyond the message.
	Detail string `json:"detail,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Send delivers one event. Errors are logged by the dispatcher,
	// never propagated to the component that raised the event.
	Send(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to all registered sinks. Delivery failures
// are logged and counted but never block or fail the calling operation.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
}

// NewDispatcher creates a dispatcher with a per-delivery timeout.
func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Dispatch delivers ev to every sink. The event timestamp is stamped
// here if the caller left it zero.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Send(sendCtx, ev)
		cancel()
		if err != nil {
			logging.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_type", ev.Type).
				Msg("event delivery failed")
		}
	}
}

// WebhookSink posts events as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink. The client timeout is left to
// the dispatcher's per-delivery context.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes events to the application log. Always registered so
// alerts are visible even without an external channel.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, ev Event) error {
	entry := logging.Info()
	switch ev.Severity {
	case SeverityWarning:
		entry = logging.Warn()
	case SeverityCritical:
		entry = logging.Error()
	}
	entry.
		Str("event_type", ev.Type).
		Str("store", ev.Store).
		Str("artifact_id", ev.ArtifactID).
		Msg(ev.Message)
	return nil
}
