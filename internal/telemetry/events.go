package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/posthog/posthog-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// EventCreatedTagAnnotation is captured after an annotation is created for a tag
	EventCreatedTagAnnotation = "created_tag_annotation"

	// EventsMeterName is the name used for the captured events meter
	EventsMeterName = "github.com/stacklok/tag-sync/events"
)

// posthogEnqueuer is the subset of posthog.Client used by PostHogSink
type posthogEnqueuer interface {
	Enqueue(posthog.Message) error
	Close() error
}

// PostHogSink forwards events to PostHog through the batching posthog-go client
type PostHogSink struct {
	client     posthogEnqueuer
	distinctID string
}

// NewPostHogSink creates a sink that captures events in the PostHog project
// identified by apiKey. endpoint is the PostHog host the events are sent to.
func NewPostHogSink(apiKey, endpoint, distinctID string) (*PostHogSink, error) {
	if apiKey == "" {
		return nil, errors.New("posthog capture requires an api key")
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create posthog client: %w", err)
	}

	return newPostHogSink(client, distinctID), nil
}

func newPostHogSink(client posthogEnqueuer, distinctID string) *PostHogSink {
	return &PostHogSink{client: client, distinctID: distinctID}
}

// Capture enqueues the event. Delivery is asynchronous; Close flushes the queue.
func (s *PostHogSink) Capture(_ context.Context, event string, properties map[string]any) error {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	if err := s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", event, err)
	}
	return nil
}

// Close flushes pending events and releases the client
func (s *PostHogSink) Close() error {
	return s.client.Close()
}

// MetricsSink counts captured events by name
type MetricsSink struct {
	events metric.Int64Counter
}

// NewMetricsSink creates a sink backed by the tag_sync_events_total counter.
// If provider is nil, the returned sink discards events.
func NewMetricsSink(provider metric.MeterProvider) (*MetricsSink, error) {
	if provider == nil {
		return &MetricsSink{}, nil
	}

	events, err := provider.Meter(EventsMeterName).Int64Counter(
		"tag_sync_events_total",
		metric.WithDescription("Number of product events captured by name"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsSink{events: events}, nil
}

// Capture increments the counter for the event
func (s *MetricsSink) Capture(ctx context.Context, event string, _ map[string]any) error {
	if s == nil || s.events == nil {
		return nil
	}
	s.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	return nil
}

// LogSink writes every event to the default logger at debug level
type LogSink struct{}

// Capture logs the event
func (LogSink) Capture(ctx context.Context, event string, properties map[string]any) error {
	attrs := make([]any, 0, len(properties)*2+2)
	attrs = append(attrs, "event", event)
	for k, v := range properties {
		attrs = append(attrs, k, v)
	}
	slog.DebugContext(ctx, "Captured event", attrs...)
	return nil
}

// MultiSink delivers each event to every wrapped sink
type MultiSink []Sink

// Capture forwards the event to all sinks and joins their errors.
// A failing sink does not prevent delivery to the others.
func (m MultiSink) Capture(ctx context.Context, event string, properties map[string]any) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Capture(ctx, event, properties); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
