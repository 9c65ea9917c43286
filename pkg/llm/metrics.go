package llm

import (
	"context"
	"time"

	"github.com/dukex/contentflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names recorded around completions.
const (
	MetricRequests     = "contentflow.llm.requests"
	MetricDuration     = "contentflow.llm.duration"
	MetricActive       = "contentflow.llm.active"
	MetricCacheLookups = "contentflow.llm.cache.lookups"
)

// Metrics holds the completion instruments. A nil *Metrics records nothing.
type Metrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
	lookups  metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter(MetricRequests,
		metric.WithDescription("Completion calls sent to the model"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Latency of one completion call"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(MetricActive,
		metric.WithDescription("Completion calls in flight"))
	if err != nil {
		return nil, err
	}

	lookups, err := meter.Int64Counter(MetricCacheLookups,
		metric.WithDescription("Completion cache lookups by result"))
	if err != nil {
		return nil, err
	}

	return &Metrics{requests: requests, duration: duration, active: active, lookups: lookups}, nil
}

func (m *Metrics) cacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String(otelhelper.CacheResultKey, result)))
}

// Instrumented counts and times every call to the wrapped completer.
type Instrumented struct {
	next    Completer
	metrics *Metrics
	now     func() time.Time
}

func NewInstrumented(next Completer, metrics *Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics, now: time.Now}
}

func (i *Instrumented) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if i.metrics == nil {
		return i.next.Complete(ctx, prompt)
	}

	name := attribute.String(otelhelper.PromptNameKey, prompt.Name)

	i.metrics.active.Add(ctx, 1, metric.WithAttributes(name))
	defer i.metrics.active.Add(ctx, -1, metric.WithAttributes(name))

	started := i.now()
	out, err := i.next.Complete(ctx, prompt)

	attrs := metric.WithAttributes(name, attribute.String(otelhelper.OutcomeKey, otelhelper.Outcome(err)))
	i.metrics.requests.Add(ctx, 1, attrs)
	i.metrics.duration.Record(ctx, i.now().Sub(started).Seconds(), attrs)

	return out, err
}
