package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric tracks one Server-Timing entry. The zero value and a nil
// pointer are no-ops, so callers can always defer Stop.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop ends the timed operation.
func (m *ServerTimingMetric) Stop() {
	if m == nil || m.metric == nil {
		return
	}
	m.metric.Stop()
}

// StartServerTiming starts a metric on the timing header stored in ctx.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return StartServerTimingWithDesc(ctx, name, "")
}

// StartServerTimingWithDesc starts a metric with a description shown by browser tools.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	header := servertiming.FromContext(ctx)
	if header == nil {
		return &ServerTimingMetric{}
	}
	m := header.NewMetric(name)
	if description != "" {
		m = m.WithDesc(description)
	}
	return &ServerTimingMetric{metric: m.Start()}
}

// ServerTimingMiddleware installs the Server-Timing header collector when enabled.
func (c *Config) ServerTimingMiddleware(next http.Handler) http.Handler {
	if !c.ServerTimingEnabled() {
		return next
	}
	return servertiming.Middleware(next, nil)
}
