package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tag-sync/internal/api"
	"github.com/stacklok/tag-sync/internal/config"
	"github.com/stacklok/tag-sync/internal/httpclient"
	"github.com/stacklok/tag-sync/internal/session"
	"github.com/stacklok/tag-sync/internal/status"
	pkgsync "github.com/stacklok/tag-sync/internal/sync"
	"github.com/stacklok/tag-sync/internal/sync/coordinator"
	"github.com/stacklok/tag-sync/internal/sync/state"
	"github.com/stacklok/tag-sync/internal/telemetry"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// TagSyncAppOptions is a function that configures the app builder
type TagSyncAppOptions func(*tagSyncAppConfig) error

// tagSyncAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing sensible defaults for production.
type tagSyncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	httpClient httpclient.Client
	store      state.Store
	sinks      []telemetry.Sink

	// HTTP server options; the server is only built when address is set
	address         string
	middlewares     []func(http.Handler) http.Handler
	metricsHandler  http.Handler
	requestTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func baseConfig(opts ...TagSyncAppOptions) (*tagSyncAppConfig, error) {
	cfg := &tagSyncAppConfig{
		requestTimeout:  defaultRequestTimeout,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return cfg, nil
}

// NewTagSyncApp initializes the session (probing both APIs) and builds every
// component. A failed probe is returned as a *session.Error.
func NewTagSyncApp(ctx context.Context, opts ...TagSyncAppOptions) (*TagSyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.httpClient == nil {
		cfg.httpClient, err = buildHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
	}

	sess, err := session.New(ctx, cfg.config, cfg.httpClient)
	if err != nil {
		return nil, err
	}
	slog.Info("Session initialized",
		"posthog", sess.PostHogURL(),
		"repository", sess.Repository(),
		"authenticated", sess.BitbucketHeaders().Get("Authorization") != "")

	components, closers, err := buildSyncComponents(cfg, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	var httpServer *http.Server
	if cfg.address != "" {
		httpServer = buildHTTPServer(cfg, components.SyncCoordinator)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &TagSyncApp{
		config:          cfg.config,
		components:      components,
		httpServer:      httpServer,
		closers:         closers,
		ctx:             appCtx,
		cancelFunc:      cancel,
		done:            make(chan struct{}),
		shutdownTimeout: cfg.shutdownTimeout,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress enables the HTTP server on addr
func WithAddress(addr string) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithMetricsHandler serves handler on /metrics
func WithMetricsHandler(handler http.Handler) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.metricsHandler = handler
		return nil
	}
}

// WithHTTPClient allows injecting the client used for PostHog and Bitbucket (for testing)
func WithHTTPClient(client httpclient.Client) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.httpClient = client
		return nil
	}
}

// WithStore sets the run guard store. The default is a FileStore in the configured state dir.
func WithStore(store state.Store) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.store = store
		return nil
	}
}

// WithSink adds a sink receiving captured events
func WithSink(sink telemetry.Sink) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.sinks = append(cfg.sinks, sink)
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for pass and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for pass and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithShutdownTimeout bounds the HTTP server shutdown
func WithShutdownTimeout(timeout time.Duration) TagSyncAppOptions {
	return func(cfg *tagSyncAppConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive")
		}
		cfg.shutdownTimeout = timeout
		return nil
	}
}

// buildHTTPClient builds the retrying client over an instrumented transport
func buildHTTPClient(b *tagSyncAppConfig) (httpclient.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	transport, err := telemetry.NewInstrumentedTransport(base, b.meterProvider, b.tracerProvider)
	if err != nil {
		return nil, err
	}

	timeout := b.config.GetHTTPTimeout()
	return httpclient.NewDefaultClient(timeout,
		httpclient.WithRetryDelay(b.config.GetRetryDelay()),
		httpclient.WithHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: transport,
		}),
	), nil
}

// buildSyncComponents builds the guard, sinks, job and coordinator
func buildSyncComponents(b *tagSyncAppConfig, sess *session.Session) (*Components, []func() error, error) {
	slog.Info("Initializing sync components")

	var closers []func() error

	if b.store == nil {
		fileStore, err := state.NewFileStore(b.config.GetStateDir())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create state store: %w", err)
		}
		slog.Info("Using file state store", "path", fileStore.Path())
		b.store = fileStore
	}
	guard := state.NewGuard(b.store, b.config.GetGuardWindow())

	sink, sinkClosers, err := buildSinks(b, sess)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, sinkClosers...)

	jobOpts := []pkgsync.JobOption{pkgsync.WithSink(sink)}
	if b.tracerProvider != nil {
		jobOpts = append(jobOpts, pkgsync.WithTracer(b.tracerProvider.Tracer(pkgsync.TracerName)))
	}
	job := pkgsync.NewJob(sess, guard, jobOpts...)

	tracker := status.NewTracker(sess.Repository())
	coordOpts := []coordinator.Option{coordinator.WithStatusTracker(tracker)}

	syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	if syncMetrics != nil {
		coordOpts = append(coordOpts, coordinator.WithSyncMetrics(syncMetrics))
		slog.Info("Sync metrics enabled")
	}

	syncCoordinator := coordinator.New(job, b.config, coordOpts...)
	slog.Info("Sync components initialized successfully")

	return &Components{
		Session:         sess,
		SyncCoordinator: syncCoordinator,
		StatusTracker:   tracker,
		Store:           b.store,
		Sink:            sink,
	}, closers, nil
}

// buildSinks fans captured events out to metrics, logs, PostHog capture when
// configured, and any injected sinks.
func buildSinks(b *tagSyncAppConfig, sess *session.Session) (telemetry.Sink, []func() error, error) {
	metricsSink, err := telemetry.NewMetricsSink(b.meterProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics sink: %w", err)
	}

	sinks := telemetry.MultiSink{metricsSink, telemetry.LogSink{}}
	var closers []func() error

	if apiKey := b.config.Capture.APIKey; apiKey != "" {
		posthogSink, err := telemetry.NewPostHogSink(apiKey, sess.PostHogURL(), b.config.GetCaptureDistinctID())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create capture sink: %w", err)
		}
		sinks = append(sinks, posthogSink)
		closers = append(closers, posthogSink.Close)
		slog.Info("PostHog event capture enabled", "distinct_id", b.config.GetCaptureDistinctID())
	}

	sinks = append(sinks, b.sinks...)
	return sinks, closers, nil
}

// buildHTTPServer builds the health and metrics server
func buildHTTPServer(b *tagSyncAppConfig, provider api.StatusProvider) *http.Server {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	router := api.NewServer(provider,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
	)

	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadTimeout:       b.readTimeout,
		ReadHeaderTimeout: b.readTimeout,
		WriteTimeout:      b.writeTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server
}
