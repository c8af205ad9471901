package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the reconciliation metrics meter
	SyncMetricsMeterName = "github.com/stacklok/tag-sync/sync"

	// OutcomeSuccess marks a pass that completed
	OutcomeSuccess = "success"
	// OutcomeFailed marks a pass that returned an error
	OutcomeFailed = "failed"
	// OutcomeSkipped marks a pass short-circuited by the run guard
	OutcomeSkipped = "skipped"
)

// SyncMetrics holds the OpenTelemetry instruments for reconciliation passes
type SyncMetrics struct {
	passDuration       metric.Float64Histogram
	annotationsCreated metric.Int64Counter
	annotationFailures metric.Int64Counter
	tagsTotal          metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"tag_sync_pass_duration_seconds",
		metric.WithDescription("Duration of reconciliation passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	annotationsCreated, err := meter.Int64Counter(
		"tag_sync_annotations_created_total",
		metric.WithDescription("Number of annotations created for new tags"),
		metric.WithUnit("{annotation}"),
	)
	if err != nil {
		return nil, err
	}

	annotationFailures, err := meter.Int64Counter(
		"tag_sync_annotation_failures_total",
		metric.WithDescription("Number of tags whose annotation could not be created"),
		metric.WithUnit("{annotation}"),
	)
	if err != nil {
		return nil, err
	}

	tagsTotal, err := meter.Int64Gauge(
		"tag_sync_repository_tags",
		metric.WithDescription("Number of tags seen in the repository during the last pass"),
		metric.WithUnit("{tag}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passDuration:       passDuration,
		annotationsCreated: annotationsCreated,
		annotationFailures: annotationFailures,
		tagsTotal:          tagsTotal,
	}, nil
}

// RecordPassDuration records the duration of a pass for a repository
func (m *SyncMetrics) RecordPassDuration(ctx context.Context, repository string, duration time.Duration, outcome string) {
	if m == nil || m.passDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("repository", repository),
		attribute.String("outcome", outcome),
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAnnotations records how many annotations were created and how many failed
func (m *SyncMetrics) RecordAnnotations(ctx context.Context, repository string, created, failed int) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("repository", repository))
	if m.annotationsCreated != nil && created > 0 {
		m.annotationsCreated.Add(ctx, int64(created), attrs)
	}
	if m.annotationFailures != nil && failed > 0 {
		m.annotationFailures.Add(ctx, int64(failed), attrs)
	}
}

// RecordTagsTotal records the number of tags the repository currently has
func (m *SyncMetrics) RecordTagsTotal(ctx context.Context, repository string, count int64) {
	if m == nil || m.tagsTotal == nil {
		return
	}

	m.tagsTotal.Record(ctx, count, metric.WithAttributes(attribute.String("repository", repository)))
}
