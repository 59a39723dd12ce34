package metrics

import (
	"testing"
	"time"

	"tablesync/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})

	SetScheduled(4)
	assert.Equal(t, float64(4), value(t, jobsScheduled))

	TrackRunning(func() int { return 2 })
	assert.Equal(t, float64(2), value(t, jobsRunning))
}

func TestObserveAttempt(t *testing.T) {
	before := value(t, recordsTotal.WithLabelValues("failed"))
	ObserveAttempt("success", 1500*time.Millisecond, 10, 7)
	assert.Equal(t, before+3, value(t, recordsTotal.WithLabelValues("failed")))
}

func TestEventsDriveCounters(t *testing.T) {
	bus := events.NewEventBus(nil)
	Attach(bus)

	succeeded := value(t, runsTotal.WithLabelValues("success"))
	exhausted := value(t, exhaustedTotal)

	require.NoError(t, bus.PublishJSON(events.EventJobSucceeded, events.JobEventPayload{
		JobID: "a", LogID: "l1", RecordsProcessed: 2, RecordsSucceeded: 2, DurationMs: 40,
	}))
	assert.Equal(t, succeeded+1, value(t, runsTotal.WithLabelValues("success")))

	require.NoError(t, bus.PublishJSON(events.EventJobExhausted, events.JobEventPayload{JobID: "a"}))
	assert.Equal(t, exhausted+1, value(t, exhaustedTotal))
}

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	m, ok := <-ch
	require.True(t, ok, "collector produced no metric")

	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric %v", &pb)
	return 0
}
