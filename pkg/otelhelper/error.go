package otelhelper

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const errorTypeKey = "error.type"

// SetError marks span as failed. Cancellation is recorded as an event only,
// so aborted runs do not show up as errors. A nil err is ignored.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		span.AddEvent("cancelled", trace.WithAttributes(attrs...))

		return
	}

	span.SetAttributes(append(attrs, attribute.String(errorTypeKey, fmt.Sprintf("%T", err)))...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
