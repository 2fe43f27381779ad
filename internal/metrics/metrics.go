package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ArticleReview/internal/domain"
)

// Metrics holds the review pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	decisions          *prometheus.CounterVec
	overrides          *prometheus.CounterVec
	evaluationFailures *prometheus.CounterVec
	deliveryFailures   prometheus.Counter
	invalidTransitions prometheus.Counter
	evaluationSeconds  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article_review_decisions_total",
			Help: "Committed review decisions by outcome.",
		}, []string{"outcome"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article_review_overrides_total",
			Help: "Decisions produced by a policy override.",
		}, []string{"override"}),
		evaluationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article_review_evaluation_failures_total",
			Help: "Review attempts that ended without a decision.",
		}, []string{"kind"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "article_review_feedback_delivery_failures_total",
			Help: "Feedback deliveries handed to the operator queue.",
		}),
		invalidTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "article_review_invalid_transitions_total",
			Help: "Decisions rejected by the state machine.",
		}),
		evaluationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "article_review_evaluation_duration_seconds",
			Help:    "Latency of evaluator calls including retries.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.overrides, m.evaluationFailures,
			m.deliveryFailures, m.invalidTransitions, m.evaluationSeconds)
	}
	return m
}

// ObserveDecision counts a committed decision.
func (m *Metrics) ObserveDecision(d domain.Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Outcome)).Inc()
	if d.Override != domain.OverrideNone {
		m.overrides.WithLabelValues(string(d.Override)).Inc()
	}
}

// ObserveEvaluation records how long an evaluation took.
func (m *Metrics) ObserveEvaluation(took time.Duration) {
	if m == nil {
		return
	}
	m.evaluationSeconds.Observe(took.Seconds())
}

// EvaluationFailed counts an attempt that ended with status.
func (m *Metrics) EvaluationFailed(status domain.AttemptStatus) {
	if m == nil {
		return
	}
	m.evaluationFailures.WithLabelValues(string(status)).Inc()
}

// DeliveryFailed counts a feedback message queued for operators.
func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// InvalidTransition counts a stale or conflicting decision.
func (m *Metrics) InvalidTransition() {
	if m == nil {
		return
	}
	m.invalidTransitions.Inc()
}
