package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentcore/agentcore/breaker"
	"github.com/agentcore/agentcore/watchdog"
)

// BreakerMetrics implements breaker.MetricsCollector with OpenTelemetry
// counters, the metrics half of the "CB transitions" integration point
// named in SPEC_FULL.md §3. Instruments are created against whatever
// Meter the Provider was given — the default global no-op Meter unless
// a concrete MeterProvider has been installed (see tracer.go's doc
// comment on the missing metrics-SDK module).
type BreakerMetrics struct {
	stateChanges metric.Int64Counter
	rejections   metric.Int64Counter
}

// NewBreakerMetrics builds a BreakerMetrics against meter.
func NewBreakerMetrics(meter metric.Meter) *BreakerMetrics {
	stateChanges, _ := meter.Int64Counter("agentcore.breaker.state_change",
		metric.WithDescription("circuit breaker state transitions"))
	rejections, _ := meter.Int64Counter("agentcore.breaker.rejection",
		metric.WithDescription("requests rejected by an open circuit breaker"))
	return &BreakerMetrics{stateChanges: stateChanges, rejections: rejections}
}

var _ breaker.MetricsCollector = (*BreakerMetrics)(nil)

func (m *BreakerMetrics) RecordStateChange(name string, from, to breaker.State) {
	m.stateChanges.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (m *BreakerMetrics) RecordRejection(name string) {
	m.rejections.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", name),
	))
}

// WatchdogMetrics records the system-wide DefenseLevel as a counter of
// level-change events, one of the Watchdog's named metric sources in
// SPEC_FULL.md §3.
type WatchdogMetrics struct {
	levelChanges metric.Int64Counter
}

// NewWatchdogMetrics builds a WatchdogMetrics against meter.
func NewWatchdogMetrics(meter metric.Meter) *WatchdogMetrics {
	levelChanges, _ := meter.Int64Counter("agentcore.watchdog.level_change",
		metric.WithDescription("watchdog per-metric classification changes"))
	return &WatchdogMetrics{levelChanges: levelChanges}
}

// Observe records one metric's classification change. Its signature
// matches watchdog.OnLevelChange, so it can be installed directly as
// watchdog.Config.OnLevelChange.
func (m *WatchdogMetrics) Observe(metricName string, from, to watchdog.Level) {
	m.levelChanges.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("metric", metricName),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}
