package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPClientMeterName is the name used for the outbound HTTP metrics meter
	HTTPClientMeterName = "github.com/stacklok/tag-sync/http"

	// TracerName is the name used for the outbound HTTP tracer
	TracerName = "github.com/stacklok/tag-sync/http"

	statusTransportError = "transport_error"
)

// clientMetrics holds the OpenTelemetry instruments for outbound requests
type clientMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
}

func newClientMetrics(provider metric.MeterProvider) (*clientMetrics, error) {
	meter := provider.Meter(HTTPClientMeterName)

	requestDuration, err := meter.Float64Histogram(
		"tag_sync_http_client_request_duration_seconds",
		metric.WithDescription("Duration of outbound HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"tag_sync_http_client_requests_total",
		metric.WithDescription("Total number of outbound HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &clientMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
	}, nil
}

// instrumentedTransport records a client span and request metrics around every round trip
type instrumentedTransport struct {
	base       http.RoundTripper
	metrics    *clientMetrics
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewInstrumentedTransport wraps base so that each outbound request produces a
// client span and duration/count metrics labelled by method, host and status.
// Nil providers disable the corresponding instrumentation.
func NewInstrumentedTransport(
	base http.RoundTripper,
	meterProvider metric.MeterProvider,
	tracerProvider trace.TracerProvider,
) (http.RoundTripper, error) {
	if base == nil {
		base = http.DefaultTransport
	}

	t := &instrumentedTransport{
		base:       base,
		propagator: otel.GetTextMapPropagator(),
	}

	if meterProvider != nil {
		m, err := newClientMetrics(meterProvider)
		if err != nil {
			return nil, err
		}
		t.metrics = m
	}
	if tracerProvider != nil {
		t.tracer = tracerProvider.Tracer(TracerName)
	}

	return t, nil
}

// RoundTrip implements http.RoundTripper
func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()

	var span trace.Span
	if t.tracer != nil {
		ctx, span = t.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Host),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.ServerAddress(req.URL.Hostname()),
				semconv.URLPath(req.URL.Path),
			),
		)
		defer span.End()

		req = req.Clone(ctx)
		t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	resp, err := t.base.RoundTrip(req)

	status := statusTransportError
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport error")
		} else {
			span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
			if resp.StatusCode >= 400 {
				span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
			}
		}
	}

	if t.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("host", req.URL.Host),
			attribute.String("status_code", status),
		)
		t.metrics.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		t.metrics.requestsTotal.Add(ctx, 1, attrs)
	}

	return resp, err
}
