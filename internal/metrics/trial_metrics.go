package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TrialMetrics manages Prometheus instrumentation for the trial lifecycle.
type TrialMetrics struct {
	trialsStarted   prometheus.Counter
	startDenied     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	sweepErrors     prometheus.Counter
	remindersSent   prometheus.Counter
	reconcileErrors prometheus.Counter
	sweepDuration   prometheus.Histogram
}

var (
	trialMetricsInstance *TrialMetrics
	trialMetricsOnce     sync.Once
)

// Trial returns the process-wide trial metrics, registering them with the
// default registry on first use.
func Trial() *TrialMetrics {
	trialMetricsOnce.Do(func() {
		trialMetricsInstance = newTrialMetrics(prometheus.DefaultRegisterer)
	})
	return trialMetricsInstance
}

func newTrialMetrics(reg prometheus.Registerer) *TrialMetrics {
	m := &TrialMetrics{
		trialsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commentpilot",
			Name:      "trials_started_total",
			Help:      "Total trials granted.",
		}),
		startDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commentpilot",
			Name:      "trial_start_denied_total",
			Help:      "Trial start attempts that did not grant a trial, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commentpilot",
			Name:      "trial_transitions_total",
			Help:      "Plan transitions performed by the trial lifecycle.",
		}, []string{"from", "to"}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commentpilot",
			Name:      "sweep_errors_total",
			Help:      "Per-user failures during expiration sweeps.",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commentpilot",
			Name:      "reminders_sent_total",
			Help:      "Trial expiring-soon reminders delivered.",
		}),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commentpilot",
			Name:      "reconcile_errors_total",
			Help:      "Failures swallowed by the inline reconciler.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "commentpilot",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of expiration sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	reg.MustRegister(
		m.trialsStarted,
		m.startDenied,
		m.transitions,
		m.sweepErrors,
		m.remindersSent,
		m.reconcileErrors,
		m.sweepDuration,
	)
	return m
}

func (m *TrialMetrics) RecordTrialStarted() {
	m.trialsStarted.Inc()
}

func (m *TrialMetrics) RecordStartDenied(reason string) {
	m.startDenied.WithLabelValues(reason).Inc()
}

func (m *TrialMetrics) RecordTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *TrialMetrics) RecordSweepError() {
	m.sweepErrors.Inc()
}

func (m *TrialMetrics) RecordReminderSent() {
	m.remindersSent.Inc()
}

func (m *TrialMetrics) RecordReconcileError() {
	m.reconcileErrors.Inc()
}

func (m *TrialMetrics) ObserveSweep(d time.Duration) {
	m.sweepDuration.Observe(d.Seconds())
}
