package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and records the terminal error, tagging it
// with the atlas error key so traces can be filtered on engine failures.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("atlas.error", true))
	span.RecordError(err, trace.WithAttributes(attrs...))
}
