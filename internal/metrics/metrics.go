package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"tablesync/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tablesync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Finished job attempts by outcome.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Duration of finished job attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records handled by successful attempts.",
		},
		[]string{"outcome"},
	)

	exhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retry_chains_exhausted_total",
			Help:      "Retry chains that ended without a successful attempt.",
		},
	)

	runningSource atomic.Value

	jobsRunning = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently holding an execution slot.",
		},
		func() float64 {
			if fn, ok := runningSource.Load().(func() int); ok {
				return float64(fn())
			}
			return 0
		},
	)

	jobsScheduled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled",
			Help:      "Jobs with an active trigger.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, runsTotal, runDuration, recordsTotal,
			exhaustedTotal, jobsRunning, jobsScheduled)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// SetScheduled reports the number of active triggers.
func SetScheduled(n int) {
	jobsScheduled.Set(float64(n))
}

// TrackRunning sets the source of the jobs_running gauge.
func TrackRunning(count func() int) {
	runningSource.Store(count)
}

// ObserveAttempt records one finished attempt.
func ObserveAttempt(status string, d time.Duration, processed, succeeded int) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(d.Seconds())
	recordsTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	if failed := processed - succeeded; failed > 0 {
		recordsTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

// Attach keeps the collectors in step with job lifecycle events.
func Attach(bus *events.EventBus) {
	bus.SubscribeMany(events.JobEvents, HandleEvent)
}

func HandleEvent(event *events.Event) error {
	var p events.JobEventPayload
	if err := event.Decode(&p); err != nil {
		return err
	}
	d := time.Duration(p.DurationMs) * time.Millisecond
	switch event.Type {
	case events.EventJobSucceeded:
		ObserveAttempt("success", d, p.RecordsProcessed, p.RecordsSucceeded)
	case events.EventJobFailed:
		ObserveAttempt("failed", d, p.RecordsProcessed, p.RecordsSucceeded)
	case events.EventJobExhausted:
		exhaustedTotal.Inc()
	}
	return nil
}
