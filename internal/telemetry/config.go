// Package telemetry provides OpenTelemetry instrumentation and event capture for tag-sync.
// It supports configurable tracing and metrics with OTLP exporters, an optional
// Prometheus scrape endpoint, and the event sinks used to report created annotations.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "tag-sync"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate.
	// A pass produces a handful of spans once per hour, so everything is kept.
	DefaultSampling = 1.0

	// DefaultPrometheusAddress is the default listen address of the scrape endpoint
	DefaultPrometheusAddress = ":9090"
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled controls whether telemetry is enabled globally
	// When false, no telemetry providers are initialized
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is the name of the service for telemetry identification
	// Defaults to "tag-sync" if not specified
	ServiceName string `mapstructure:"serviceName" yaml:"serviceName,omitempty"`

	// ServiceVersion is the version of the service for telemetry identification
	// Defaults to the application version if not specified
	ServiceVersion string `mapstructure:"serviceVersion" yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector endpoint for telemetry
	// Format: "host:port" for HTTP (uses /v1/traces and /v1/metrics paths automatically)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Insecure allows HTTP connections instead of HTTPS
	// Should only be true for development/testing environments
	Insecure bool `mapstructure:"insecure" yaml:"insecure,omitempty"`

	// Tracing contains tracing-specific configuration
	Tracing *TracingConfig `mapstructure:"tracing" yaml:"tracing,omitempty"`

	// Metrics contains metrics-specific configuration
	Metrics *MetricsConfig `mapstructure:"metrics" yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	// Enabled controls whether tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Sampling controls the trace sampling rate (0.0 to 1.0)
	// A nil value means DefaultSampling; an explicit 0 disables sampling.
	Sampling *float64 `mapstructure:"sampling" yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// OTLP pushes metrics to the OTLP endpoint. Defaults to true when nil.
	OTLP *bool `mapstructure:"otlp" yaml:"otlp,omitempty"`

	// Prometheus exposes a scrape endpoint while tag-sync runs as a daemon
	Prometheus *PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus,omitempty"`
}

// PrometheusConfig configures the Prometheus scrape endpoint
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetInsecure returns the insecure flag
func (c *Config) GetInsecure() bool {
	return c.Insecure
}

// GetSampling returns the sampling ratio, or DefaultSampling when unset
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// OTLPEnabled reports whether metrics are pushed over OTLP
func (c *MetricsConfig) OTLPEnabled() bool {
	if c == nil || !c.Enabled {
		return false
	}
	return c.OTLP == nil || *c.OTLP
}

// PrometheusEnabled reports whether the scrape endpoint should be served
func (c *MetricsConfig) PrometheusEnabled() bool {
	return c != nil && c.Enabled && c.Prometheus != nil && c.Prometheus.Enabled
}

// GetAddress returns the listen address, using default if not specified
func (c *PrometheusConfig) GetAddress() string {
	if c == nil || c.Address == "" {
		return DefaultPrometheusAddress
	}
	return c.Address
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil {
		return nil // nil config is valid (telemetry disabled)
	}

	if !c.Enabled {
		return nil // disabled telemetry needs no further validation
	}

	var errs []error

	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate validates the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled || c.Sampling == nil {
		return nil
	}

	sampling := *c.Sampling
	if sampling < 0 || sampling > 1.0 {
		return fmt.Errorf("sampling must be between 0.0 and 1.0, got %f", sampling)
	}

	return nil
}

// Validate validates the metrics configuration
func (c *MetricsConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if c.OTLP != nil && !*c.OTLP && !c.PrometheusEnabled() {
		return errors.New("at least one of otlp or prometheus must be enabled")
	}

	return nil
}
