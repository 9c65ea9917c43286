package qc

import (
	"context"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names recorded by the QC service.
const (
	MetricRuns          = "contentflow.qc.runs"
	MetricAgentDuration = "contentflow.qc.agent.duration"
	MetricActiveAgents  = "contentflow.qc.agents.active"
)

// Metrics holds the QC instruments. A nil *Metrics records nothing.
type Metrics struct {
	runs          metric.Int64Counter
	agentDuration metric.Float64Histogram
	activeAgents  metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	runs, err := meter.Int64Counter(MetricRuns,
		metric.WithDescription("QC invocations by review outcome"))
	if err != nil {
		return nil, err
	}

	agentDuration, err := meter.Float64Histogram(MetricAgentDuration,
		metric.WithDescription("Time one agent spent reviewing content"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	activeAgents, err := meter.Int64UpDownCounter(MetricActiveAgents,
		metric.WithDescription("Agents reviewing content right now"))
	if err != nil {
		return nil, err
	}

	return &Metrics{runs: runs, agentDuration: agentDuration, activeAgents: activeAgents}, nil
}

// agentStarted marks an agent as running and returns the function that
// records its duration.
func (m *Metrics) agentStarted(ctx context.Context, agent models.AgentType, now func() time.Time) func(err error) {
	if m == nil {
		return func(error) {}
	}

	name := attribute.String(otelhelper.AgentTypeKey, string(agent))
	started := now()

	m.activeAgents.Add(ctx, 1, metric.WithAttributes(name))

	return func(err error) {
		m.activeAgents.Add(ctx, -1, metric.WithAttributes(name))
		m.agentDuration.Record(ctx, now().Sub(started).Seconds(),
			metric.WithAttributes(name, attribute.String(otelhelper.OutcomeKey, otelhelper.Outcome(err))))
	}
}

func (m *Metrics) runFinished(ctx context.Context, result *models.QCState) {
	if m == nil {
		return
	}

	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("contentflow.qc.requires_human_review", result.RequiresHumanReview)))
}
