package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters and histograms for the voice booking flow.
// A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	toolCalls        *prometheus.CounterVec
	toolLatency      *prometheus.HistogramVec
	hydrations       *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	rateLimited      prometheus.Counter
	profileRefreshes *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "voice",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "voice",
			Name:      "tool_latency_seconds",
			Help:      "Latency of tool invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		hydrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "voice",
			Name:      "hydrations_total",
			Help:      "Session hydrations by the tier that supplied the caller profile",
		}, []string{"tier"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking, reschedule and cancel transitions by result",
		}, []string{"kind", "result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "voice",
			Name:      "tool_rate_limited_total",
			Help:      "Tool invocations rejected by the per-call rate limit",
		}),
		profileRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "profile",
			Name:      "refresh_total",
			Help:      "Async caller profile refreshes by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.toolCalls, m.toolLatency, m.hydrations, m.transitions, m.rateLimited, m.profileRefreshes)
	return m
}

func (m *BookingMetrics) ObserveTool(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(seconds)
}

func (m *BookingMetrics) ObserveHydration(tier string) {
	if m == nil {
		return
	}
	m.hydrations.WithLabelValues(tier).Inc()
}

func (m *BookingMetrics) ObserveTransition(kind, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, result).Inc()
}

func (m *BookingMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *BookingMetrics) ObserveProfileRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.profileRefreshes.WithLabelValues(result).Inc()
}
