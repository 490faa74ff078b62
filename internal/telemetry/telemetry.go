// Package telemetry provides a progressive-disclosure wrapper over
// OpenTelemetry: package-level Counter/Histogram/Span helpers that work
// against a no-op provider until Configure installs a real one, mirroring
// the teacher's telemetry.Counter/AddSpanEvent global API so call sites
// never have to thread a meter or tracer through every constructor.
package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracerName = "github.com/flowcore/agentrt"
	meter      atomic.Value // metric.Meter
	tracer     atomic.Value // trace.Tracer
	counters   = newCounterCache()
)

func init() {
	meter.Store(otel.GetMeterProvider().Meter(tracerName))
	tracer.Store(otel.GetTracerProvider().Tracer(tracerName))
}

// Configure installs real meter/tracer providers, typically called once at
// process startup after wiring an OTLP exporter. Tests never call this and
// get the global no-op providers instead.
func Configure(mp metric.MeterProvider, tp trace.TracerProvider) {
	meter.Store(mp.Meter(tracerName))
	tracer.Store(tp.Tracer(tracerName))
	counters.reset()
}

// Counter increments a named counter by 1, tagged with key-value label
// pairs (must be supplied in pairs; an odd count drops the trailing key).
func Counter(name string, labels ...string) {
	c := counters.get(name)
	c.Add(context.Background(), 1, metric.WithAttributes(attrsFromPairs(labels)...))
}

// Span starts a span named name and returns a function to end it; intended
// for `defer telemetry.Span(ctx, "executor.step")()`-style usage.
func Span(ctx context.Context, name string) (context.Context, func()) {
	t := tracer.Load().(trace.Tracer)
	spanCtx, span := t.Start(ctx, name)
	return spanCtx, func() { span.End() }
}

// AddSpanEvent annotates the span (if any) active on ctx.
func AddSpanEvent(ctx context.Context, name string, labels ...string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrsFromPairs(labels)...))
}

func attrsFromPairs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

// counterCache memoizes metric.Int64Counter instruments by name; creating
// one per call would be wasteful and otel instruments are meant to be
// long-lived.
type counterCache struct {
	cache atomic.Value // map[string]metric.Int64Counter
}

func newCounterCache() *counterCache {
	c := &counterCache{}
	c.reset()
	return c
}

func (c *counterCache) reset() {
	c.cache.Store(map[string]metric.Int64Counter{})
}

func (c *counterCache) get(name string) metric.Int64Counter {
	m := c.cache.Load().(map[string]metric.Int64Counter)
	if inst, ok := m[name]; ok {
		return inst
	}
	mtr := meter.Load().(metric.Meter)
	inst, err := mtr.Int64Counter(name)
	if err != nil {
		inst, _ = mtr.Int64Counter("telemetry.counter.fallback")
	}
	next := make(map[string]metric.Int64Counter, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	next[name] = inst
	c.cache.Store(next)
	return inst
}
