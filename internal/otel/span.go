// Package otel provides span helpers and shared attribute keys for tag-sync tracing.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span tag-sync records.
const (
	AttrRunID           = attribute.Key("tag_sync.run_id")
	AttrRepository      = attribute.Key("vcs.repository.name")
	AttrTagName         = attribute.Key("vcs.ref.name")
	AttrTagCount        = attribute.Key("tag_sync.tags.count")
	AttrAnnotationCount = attribute.Key("tag_sync.annotations.count")
	AttrNewTagCount     = attribute.Key("tag_sync.new_tags.count")
	AttrCreatedCount    = attribute.Key("tag_sync.created.count")
	AttrPageCount       = attribute.Key("pagination.pages")
	AttrSkipped         = attribute.Key("tag_sync.skipped")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already carried by ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on the span and marks it failed. Nil spans and nil
// errors are ignored. The status description stays generic so tokens embedded
// in URLs or response bodies never reach the span status; the full error is
// kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
