package metrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger)
	err := sink.Send(t.Context(), &Metrics{Values: []MetricValue{
		{Name: MismatchedTablesMetricName, Value: 2, Type: GAUGE},
		{Name: PollIterationsMetricName, Value: 1, Type: COUNTER},
		{Name: "bogus", Value: 1, Type: UNKNOWN},
	}})
	assert.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "name=catchup_mismatched_tables type=gauge value=2")
	assert.Contains(t, out, "name=catchup_poll_iterations type=counter value=1")
	assert.Contains(t, out, "received invalid metric type")
}

type failingSink struct {
	sawDeadline bool
}

func (f *failingSink) Send(ctx context.Context, m *Metrics) error {
	_, f.sawDeadline = ctx.Deadline()
	return errors.New("sink unavailable")
}

func TestSendWithTimeout(t *testing.T) {
	var buf bytes.Buffer
	sink := &failingSink{}
	SendWithTimeout(t.Context(), sink, &Metrics{}, slog.New(slog.NewTextHandler(&buf, nil)))
	assert.True(t, sink.sawDeadline)
	assert.Contains(t, buf.String(), "sink unavailable")

	assert.NotPanics(t, func() {
		SendWithTimeout(t.Context(), &NoopSink{}, &Metrics{}, slog.Default())
	})
}
