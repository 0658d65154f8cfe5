package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "onboardforge"

// Metrics holds all OnboardForge metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	OrchestrationRuns metric.Int64Counter
	AgentCalls        metric.Int64Counter
	AgentDuration     metric.Float64Histogram
	EntriesAppended   metric.Int64Counter
	StreamSessions    metric.Int64UpDownCounter
	StreamDropped     metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.Meter(meterName))
}

// NewMetricsWith creates all metric instruments on meter.
func NewMetricsWith(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OrchestrationRuns, err = meter.Int64Counter("onboardforge.orchestration.runs",
		metric.WithDescription("Orchestrator runs by resulting state"))
	if err != nil {
		return nil, err
	}

	m.AgentCalls, err = meter.Int64Counter("onboardforge.agent.calls",
		metric.WithDescription("Agent calls by role and outcome"))
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("onboardforge.agent.duration_seconds",
		metric.WithDescription("Agent call duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.EntriesAppended, err = meter.Int64Counter("onboardforge.context.entries",
		metric.WithDescription("History entries appended by operation"))
	if err != nil {
		return nil, err
	}

	m.StreamSessions, err = meter.Int64UpDownCounter("onboardforge.stream.sessions",
		metric.WithDescription("Open SSE and WebSocket sessions"))
	if err != nil {
		return nil, err
	}

	m.StreamDropped, err = meter.Int64Counter("onboardforge.stream.dropped",
		metric.WithDescription("Events dropped for slow stream clients"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun counts one orchestrator run ending in state.
func (m *Metrics) RecordRun(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.OrchestrationRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordAgentCall counts an agent call and its latency.
func (m *Metrics) RecordAgentCall(ctx context.Context, role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("role", role), attribute.String("outcome", outcome))
	m.AgentCalls.Add(ctx, 1, attrs)
	m.AgentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("role", role)))
}

// RecordAppend counts an appended history entry.
func (m *Metrics) RecordAppend(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.EntriesAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// StreamOpened adjusts the open session gauge by delta (+1 on open, -1 on close).
func (m *Metrics) StreamOpened(ctx context.Context, transport string, delta int64) {
	if m == nil {
		return
	}
	m.StreamSessions.Add(ctx, delta, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordDropped counts events dropped for one stream session.
func (m *Metrics) RecordDropped(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.StreamDropped.Add(ctx, n)
}
