// Package telemetry wraps the OpenTelemetry trace API down to the narrow
// Tracer/Span contract the runtime needs. It never constructs an exporter;
// wiring a concrete provider (OTLP or otherwise) is the embedding
// application's concern.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans. A nil *Tracer is valid and produces no-op spans, so
// components may be constructed without tracing wired in.
type Tracer struct {
	otel trace.Tracer
}

// New wraps the named tracer obtained from the global otel TracerProvider.
// Callers that want real export configure the global provider themselves
// before calling New; that wiring lives outside this module.
func New(name string) *Tracer {
	return &Tracer{otel: otel.Tracer(name)}
}

// Span is the subset of trace.Span the runtime annotates.
type Span struct {
	span trace.Span
}

func (t *Tracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	if t == nil || t.otel == nil {
		return ctx, &Span{}
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	ctx, sp := t.otel.Start(ctx, name, trace.WithAttributes(kvs...))
	return ctx, &Span{span: sp}
}

func (s *Span) SetAttribute(key, value string) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.String(key, value))
}

func (s *Span) AddEvent(name string, attrs map[string]string) {
	if s == nil || s.span == nil {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(kvs...))
}

func (s *Span) SetStatusError(err error) {
	if s == nil || s.span == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *Span) SetStatusCancelled() {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetStatus(codes.Error, "cancelled")
}

func (s *Span) End() {
	if s == nil || s.span == nil {
		return
	}
	s.span.End()
}
