// Package observability records an audit trail of plugin lifecycle events.
package observability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/pluginhost/internal/tracing"
	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`  // manager id
	Plugin    string                 `json:"plugin,omitempty"` // plugin id
	Action    string                 `json:"action"`           // e.g. "state:active", "scan", "hook:initialize"
	Status    string                 `json:"status"`           // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger handles recording and persisting audit events
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLogger writes audit events to logger
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// OpenAuditLog appends audit events to the file at path
func OpenAuditLog(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// Record emits an audit event to the log and, when a span is recording,
// as a span event
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.plugin", event.Plugin),
		))
	} else if id := tracing.GetTraceID(ctx); id != "" {
		event.TraceID = id
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("plugin", event.Plugin).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if trigger := tracing.GetTrigger(ctx); trigger != "" {
		entry.Str("trigger", trigger)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// AuditObserver turns Manager notifications into audit events
type AuditObserver struct {
	audit *AuditLogger
	actor string
}

var _ plugin.Observer = (*AuditObserver)(nil)

// NewAuditObserver records events for the manager with id actor
func NewAuditObserver(audit *AuditLogger, actor string) *AuditObserver {
	return &AuditObserver{audit: audit, actor: actor}
}

func (o *AuditObserver) ScanCompleted(ctx context.Context, s plugin.ScanSummary) {
	status := "success"
	if s.RootErrors > 0 {
		status = "failure"
	}
	o.audit.Record(ctx, AuditEvent{
		Type:   "discovery",
		Actor:  o.actor,
		Action: "scan",
		Status: status,
		Metadata: map[string]interface{}{
			"scan_id":     s.ScanID,
			"force":       s.Force,
			"duration_ms": s.Duration.Milliseconds(),
			"candidates":  s.Candidates,
			"activated":   s.Activated,
			"failed":      s.Failed,
			"removed":     s.Removed,
			"shadowed":    s.Shadowed,
			"invalid":     s.Invalid,
			"root_errors": s.RootErrors,
		},
	})
}

func (o *AuditObserver) StateChanged(ctx context.Context, rec plugin.Record, from plugin.State) {
	status := "success"
	metadata := map[string]interface{}{
		"from": string(from),
		"tier": rec.Tier.String(),
	}
	if rec.Manifest != nil {
		metadata["version"] = rec.Manifest.Version
	}
	if rec.Status == plugin.StateFailed {
		status = "failure"
		metadata["error"] = rec.ErrorMessage()
	}
	o.audit.Record(ctx, AuditEvent{
		Type:     "lifecycle",
		Actor:    o.actor,
		Plugin:   rec.ID,
		Action:   "state:" + string(rec.Status),
		Status:   status,
		Metadata: metadata,
	})
}

func (o *AuditObserver) HookCompleted(ctx context.Context, pluginID, hook string, elapsed time.Duration, err error) {
	// successful event hooks are too frequent to audit
	if err == nil && hook == plugin.HookHandleEvent {
		return
	}
	status := "success"
	metadata := map[string]interface{}{"duration_ms": elapsed.Milliseconds()}
	if err != nil {
		status = "failure"
		metadata["error"] = err.Error()
	}
	o.audit.Record(ctx, AuditEvent{
		Type:     "hook",
		Actor:    o.actor,
		Plugin:   pluginID,
		Action:   "hook:" + hook,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordConfigAudit records a configuration change made through the host
func (a *AuditLogger) RecordConfigAudit(ctx context.Context, pluginID, action string, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     "config",
		Plugin:   pluginID,
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}
