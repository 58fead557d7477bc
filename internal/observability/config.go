// Package observability wires OpenTelemetry tracing and metrics plus Server-Timing
// headers into odatalens. A nil or unconfigured Config yields no-op instruments, so
// callers never need to branch on whether telemetry is enabled.
package observability

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is reported when no service name is configured.
	DefaultServiceName = "odatalens"

	instrumentationName = "github.com/odatalens/odatalens"
)

// Config holds the telemetry providers and feature switches.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger
	serverTiming   bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider sets the tracer provider. Without it the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Without it the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.meterProvider = mp }
}

// WithServiceName sets the service name recorded on spans.
func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

// WithServiceVersion sets the service version recorded on spans.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

// WithLogger sets the logger used for telemetry setup problems.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithServerTiming enables the Server-Timing response header in the HTTP API.
func WithServerTiming() Option {
	return func(c *Config) { c.serverTiming = true }
}

// NewConfig builds a Config. Call Initialize before using Tracer or Metrics.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Initialize creates the tracer and the metric instruments.
func (c *Config) Initialize() error {
	tp := c.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := c.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	c.tracer = newTracer(tp.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(c.serviceVersion),
	), c.serviceName)

	m, err := newMetrics(mp.Meter(instrumentationName,
		metric.WithInstrumentationVersion(c.serviceVersion),
	))
	if err != nil {
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}
	c.metrics = m
	return nil
}

// Tracer returns the span helper. It is safe to call on a nil or uninitialized Config.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return newTracer(tracenoop.NewTracerProvider().Tracer(instrumentationName), DefaultServiceName)
	}
	return c.tracer
}

// Metrics returns the metric recorder. It is safe to call on a nil or uninitialized Config.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		m, _ := newMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName))
		return m
	}
	return c.metrics
}

// ServerTimingEnabled reports whether the Server-Timing header should be emitted.
func (c *Config) ServerTimingEnabled() bool {
	return c != nil && c.serverTiming
}

// ServiceName returns the configured service name.
func (c *Config) ServiceName() string {
	if c == nil {
		return DefaultServiceName
	}
	return c.serviceName
}
