// Package metrics exposes the safety core's Prometheus metrics:
//   - guard_attempts_total{outcome}        – execution attempts by outcome
//   - guard_admission_wait_seconds{class}  – time spent blocked on admission
//   - guard_breaker_transitions_total{to}  – breaker state changes by target state
//   - guard_breaker_state                  – 0=CLOSED 1=OPEN 2=COOLING
//   - guard_limit_usage{class}             – sliding-window usage per class
//   - guard_limit_cap{class}               – effective cap per class
//   - guard_emergency_mode{class}          – 1 while throttled near the hard limit
//
// Registered in init() and served at /metrics by the ops server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_attempts_total",
			Help: "Execution attempts by outcome",
		},
		[]string{"outcome"}, // success|transient_error|fatal_error|reconciled|exhausted
	)

	admissionWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guard_admission_wait_seconds",
			Help:    "Time spent blocked waiting for sliding-window capacity",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4.4min
		},
		[]string{"class"}, // request-weight|order-count
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_breaker_transitions_total",
			Help: "Circuit breaker transitions by target state",
		},
		[]string{"to"}, // OPEN|COOLING|CLOSED
	)

	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_breaker_state",
			Help: "Current breaker state (0=CLOSED 1=OPEN 2=COOLING)",
		},
	)

	limitUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guard_limit_usage",
			Help: "Sliding-window usage per limit class",
		},
		[]string{"class"},
	)

	limitCap = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guard_limit_cap",
			Help: "Effective admission cap per limit class",
		},
		[]string{"class"},
	)

	emergencyMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guard_emergency_mode",
			Help: "1 while a class is throttled near the exchange hard limit",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(attempts, admissionWait)
	prometheus.MustRegister(breakerTransitions, breakerState)
	prometheus.MustRegister(limitUsage, limitCap, emergencyMode)
}

func IncAttempt(outcome string) { attempts.WithLabelValues(outcome).Inc() }

func ObserveAdmissionWait(class string, seconds float64) {
	admissionWait.WithLabelValues(class).Observe(seconds)
}

func IncBreakerTransition(to string) { breakerTransitions.WithLabelValues(to).Inc() }

func SetBreakerState(state int) { breakerState.Set(float64(state)) }

func SetLimitUsage(class string, usage, cap int64) {
	limitUsage.WithLabelValues(class).Set(float64(usage))
	limitCap.WithLabelValues(class).Set(float64(cap))
}

func SetEmergencyMode(class string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	emergencyMode.WithLabelValues(class).Set(v)
}
