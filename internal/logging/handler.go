// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging provides structured logging with OpenTelemetry trace
// context and redaction of sensitive attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces the value of every redacted attribute.
const Redacted = "***"

// DefaultRedactKeys are the attributes that carry credentials or PII.
var DefaultRedactKeys = []string{"email", "password", "new_password", "reset_token", "session_token"}

// traceHandler wraps a slog.Handler to add service identity and trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds trace context to the log record.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// redactor replaces the values of sensitive attributes. Maps logged as a
// single attribute (such as oops error context) are redacted one level deep.
type redactor map[string]struct{}

func newRedactor(keys []string) redactor {
	r := make(redactor, len(keys))
	for _, k := range keys {
		r[k] = struct{}{}
	}
	return r
}

func (r redactor) replace(_ []string, a slog.Attr) slog.Attr {
	if _, ok := r[a.Key]; ok {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	m, ok := a.Value.Any().(map[string]any)
	if !ok {
		return a
	}
	var copied map[string]any
	for k := range m {
		if _, sensitive := r[k]; !sensitive {
			continue
		}
		if copied == nil {
			copied = make(map[string]any, len(m))
			for k2, v := range m {
				copied[k2] = v
			}
		}
		copied[k] = Redacted
	}
	if copied == nil {
		return a
	}
	return slog.Any(a.Key, copied)
}

// Setup creates a configured slog.Logger.
// format: "json" or "text" (defaults to "json" if empty)
// If w is nil, writes to os.Stderr. Attributes named in redactKeys are
// written as "***".
func Setup(service, version, format string, w io.Writer, redactKeys []string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	if len(redactKeys) > 0 {
		opts.ReplaceAttr = newRedactor(redactKeys).replace
	}

	var baseHandler slog.Handler
	if format == "text" {
		baseHandler = slog.NewTextHandler(w, opts)
	} else {
		baseHandler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&traceHandler{
		handler: baseHandler,
		service: service,
		version: version,
	})
}

// SetDefault sets up and configures the default logger.
func SetDefault(service, version, format string, redactKeys []string) *slog.Logger {
	logger := Setup(service, version, format, nil, redactKeys)
	slog.SetDefault(logger)
	return logger
}
