package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes settlement and webhook counters.
type Metrics struct {
	schedulerRuns    prometheus.Counter
	schedulerRunSecs prometheus.Histogram
	payoutOutcomes   *prometheus.CounterVec
	transferredTotal prometheus.Counter
	webhookEvents    *prometheus.CounterVec
}

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"

	WebhookResultProcessed = "processed"
	WebhookResultTerminal  = "terminal"
	WebhookResultRetryable = "retryable"
	WebhookResultIgnored   = "ignored"
)

// New registers the payout metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		schedulerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventpay_scheduler_runs_total",
			Help: "Number of scheduled payout runs started.",
		}),
		schedulerRunSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventpay_scheduler_run_duration_seconds",
			Help:    "Duration of scheduled payout runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		payoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpay_payouts_total",
			Help: "Payout attempts by outcome.",
		}, []string{"outcome"}),
		transferredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventpay_transferred_amount_total",
			Help: "Total amount transferred to connect accounts, minor units.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpay_webhook_events_total",
			Help: "Webhook deliveries by event type and result.",
		}, []string{"event_type", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.schedulerRuns,
			m.schedulerRunSecs,
			m.payoutOutcomes,
			m.transferredTotal,
			m.webhookEvents,
		)
	}
	return m
}

func (m *Metrics) IncSchedulerRun() {
	if m == nil {
		return
	}
	m.schedulerRuns.Inc()
}

func (m *Metrics) ObserveSchedulerRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.schedulerRunSecs.Observe(d.Seconds())
}

func (m *Metrics) IncPayoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.payoutOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddTransferred(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.transferredTotal.Add(float64(amount))
}

func (m *Metrics) IncWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}
