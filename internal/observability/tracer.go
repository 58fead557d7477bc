package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by spans and metrics.
const (
	AttrServiceName   = attribute.Key("service.name")
	AttrODataVersion  = attribute.Key("odata.version")
	AttrEntitySet     = attribute.Key("odata.entity_set")
	AttrAction        = attribute.Key("odatalens.action")
	AttrRequestID     = attribute.Key("odatalens.request_id")
	AttrStrategy      = attribute.Key("odatalens.probe.strategy")
	AttrDocumentBytes = attribute.Key("odatalens.document.bytes")
	AttrEntityCount   = attribute.Key("odatalens.entity.count")
	AttrPlanSize      = attribute.Key("odatalens.plan.size")
)

// Tracer wraps an otel tracer with the span names odatalens uses.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

func newTracer(t trace.Tracer, serviceName string) *Tracer {
	return &Tracer{tracer: t, serviceName: serviceName}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrServiceName.String(t.serviceName))
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartParse starts a span around parsing one metadata document.
func (t *Tracer) StartParse(ctx context.Context, size int) (context.Context, trace.Span) {
	return t.start(ctx, "odatalens.parse", AttrDocumentBytes.Int(size))
}

// StartProbe starts a span around version detection of a URL.
func (t *Tracer) StartProbe(ctx context.Context, url string) (context.Context, trace.Span) {
	return t.start(ctx, "odatalens.detect", attribute.String("url.full", url))
}

// StartPlan starts a span around executing a mutation plan.
func (t *Tracer) StartPlan(ctx context.Context, action string, size int) (context.Context, trace.Span) {
	return t.start(ctx, "odatalens.mutation."+action, AttrAction.String(action), AttrPlanSize.Int(size))
}

// StartRequest starts a client span for one outgoing OData request.
func (t *Tracer) StartRequest(ctx context.Context, method, url, requestID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odatalens.request "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			AttrRequestID.String(requestID),
			AttrServiceName.String(t.serviceName),
		),
	)
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// VersionAttr returns the odata.version attribute.
func VersionAttr(v string) attribute.KeyValue {
	return AttrODataVersion.String(v)
}

// EntityCountAttr returns the entity count attribute.
func EntityCountAttr(n int) attribute.KeyValue {
	return AttrEntityCount.Int(n)
}
