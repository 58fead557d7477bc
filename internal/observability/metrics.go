package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records odatalens counters and histograms.
type Metrics struct {
	parseDuration metric.Float64Histogram
	probeCount    metric.Int64Counter
	requestCount  metric.Int64Counter
	requestFailed metric.Int64Counter
	cacheLookups  metric.Int64Counter
	planSize      metric.Int64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.parseDuration, err = meter.Float64Histogram("odatalens.parse.duration",
		metric.WithDescription("Time spent parsing metadata documents"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.probeCount, err = meter.Int64Counter("odatalens.detect.count",
		metric.WithDescription("Version detections by resulting version"),
	); err != nil {
		return nil, err
	}
	if m.requestCount, err = meter.Int64Counter("odatalens.mutation.requests",
		metric.WithDescription("Mutation requests sent to OData services"),
	); err != nil {
		return nil, err
	}
	if m.requestFailed, err = meter.Int64Counter("odatalens.mutation.failures",
		metric.WithDescription("Mutation requests that did not return 2xx"),
	); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("odatalens.cache.lookups",
		metric.WithDescription("Schema cache lookups by outcome"),
	); err != nil {
		return nil, err
	}
	if m.planSize, err = meter.Int64Histogram("odatalens.mutation.plan_size",
		metric.WithDescription("Number of requests per mutation plan"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordParse records one metadata parse.
func (m *Metrics) RecordParse(ctx context.Context, d time.Duration, ok bool) {
	m.parseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("success", ok)))
}

// RecordDetection records the outcome of a version detection.
func (m *Metrics) RecordDetection(ctx context.Context, version, strategy string) {
	m.probeCount.Add(ctx, 1, metric.WithAttributes(VersionAttr(version), AttrStrategy.String(strategy)))
}

// RecordRequest records one mutation request and whether it succeeded.
func (m *Metrics) RecordRequest(ctx context.Context, action string, ok bool) {
	attrs := metric.WithAttributes(AttrAction.String(action))
	m.requestCount.Add(ctx, 1, attrs)
	if !ok {
		m.requestFailed.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a schema cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordPlanSize records the number of requests in a plan.
func (m *Metrics) RecordPlanSize(ctx context.Context, action string, n int) {
	m.planSize.Record(ctx, int64(n), metric.WithAttributes(AttrAction.String(action)))
}
