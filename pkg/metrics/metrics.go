// Package metrics contains a sink interface that callers implement to ship
// detector metrics elsewhere. It provides a NoopSink and a LogSink.
package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Metric types.
const (
	UNKNOWN byte = iota
	COUNTER
	GAUGE
)

const (
	SinkTimeout                = 1 * time.Second
	MismatchedTablesMetricName = "catchup_mismatched_tables"
	PollIterationsMetricName   = "catchup_poll_iterations"
	LockHeldSecondsMetricName  = "catchup_lock_held_seconds"
	SnapshotRowsMetricName     = "catchup_snapshot_rows"
)

// Metrics are collection of MetricValues.
type Metrics struct {
	Values []MetricValue
}

type MetricValue struct {
	Name  string
	Value float64
	// Type is GAUGE, COUNTER or UNKNOWN.
	Type byte
}

// Sink sends metrics to an external destination.
type Sink interface {
	// Send sends metrics to the sink. It must respect the context timeout, if any.
	Send(ctx context.Context, metrics *Metrics) error
}

// NoopSink is the default sink which does nothing
type NoopSink struct{}

func (s *NoopSink) Send(ctx context.Context, m *Metrics) error {
	return nil
}

var _ Sink = &NoopSink{}

// LogSink writes every metric value as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func (l *LogSink) Send(ctx context.Context, m *Metrics) error {
	for _, v := range m.Values {
		switch v.Type {
		case COUNTER:
			l.logger.DebugContext(ctx, "metric", "name", v.Name, "type", "counter", "value", v.Value)
		case GAUGE:
			l.logger.DebugContext(ctx, "metric", "name", v.Name, "type", "gauge", "value", v.Value)
		default:
			l.logger.ErrorContext(ctx, "received invalid metric type", "type", v.Type, "name", v.Name, "value", v.Value)
		}
	}
	return nil
}

var _ Sink = &LogSink{}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{
		logger: logger,
	}
}

// SendWithTimeout sends m to sink bounded by SinkTimeout. Sink errors are
// logged, never returned: metrics must not fail a detection run.
func SendWithTimeout(ctx context.Context, sink Sink, m *Metrics, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, SinkTimeout)
	defer cancel()
	if err := sink.Send(ctx, m); err != nil {
		logger.Warn("failed to send metrics", "error", err)
	}
}
