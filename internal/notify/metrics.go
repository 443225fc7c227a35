package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts scheduler activity. Label values are bounded: job is one of
// status, digest; kind is one of status, watch, digest.
type Metrics struct {
	runs    *prometheus.CounterVec
	skipped *prometheus.CounterVec
	sent    *prometheus.CounterVec
	failed  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrbot_scheduler_runs_total",
			Help: "Scheduler ticks that acquired their lock and ran.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrbot_scheduler_skipped_total",
			Help: "Scheduler ticks skipped because another replica held the lock.",
		}, []string{"job"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrbot_notifications_sent_total",
			Help: "Notifications delivered to Telegram.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrbot_notifications_failed_total",
			Help: "Notifications that failed to deliver and were dropped.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.skipped, m.sent, m.failed)
	}
	return m
}
