package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_dispatch_total",
			Help: "Total number of dispatched automation events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_dispatch_duration_seconds",
			Help:    "Automation event handler duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"event_type"},
	)

	DuplicateSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_duplicate_sends_total",
			Help: "Sends rejected because the same lead/email pair was already in flight",
		},
		[]string{"event_type"},
	)

	LockErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_lock_errors_total",
			Help: "Duplicate-send lock failures that were bypassed",
		},
	)

	RetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_event_retries_total",
			Help: "Total number of rescheduled automation events",
		},
		[]string{"event_type"},
	)

	RetriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_event_retries_exhausted_total",
			Help: "Automation events failed after the retry cap",
		},
		[]string{"event_type"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_event_queue_claimed",
			Help: "Events claimed by the last poll",
		},
	)

	StaleSaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_event_stale_saves_total",
			Help: "Dispatch results discarded because the event claim was lost",
		},
	)

	JobsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_outbox_jobs_published_total",
			Help: "Outbox jobs relayed to kafka by job type and status",
		},
		[]string{"job_type", "status"},
	)

	PostbackDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_postback_deliveries_total",
			Help: "Webhook postback attempts by result",
		},
		[]string{"result"},
	)
)

// Recorder is the slice of metrics the dispatcher reports into.
type Recorder interface {
	ObserveDispatch(eventType, outcome string, seconds float64)
	DuplicateSend(eventType string)
	LockError()
}

type Prometheus struct{}

func (Prometheus) ObserveDispatch(eventType, outcome string, seconds float64) {
	DispatchTotal.WithLabelValues(eventType, outcome).Inc()
	DispatchDuration.WithLabelValues(eventType).Observe(seconds)
}

func (Prometheus) DuplicateSend(eventType string) {
	DuplicateSends.WithLabelValues(eventType).Inc()
}

func (Prometheus) LockError() {
	LockErrors.Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveDispatch(string, string, float64) {}
func (Nop) DuplicateSend(string)                    {}
func (Nop) LockError()                              {}
