package authkit

import (
	"maps"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Auth events are named auth.<flow>.<outcome>; logout has no outcome.
const (
	metricSignUpSuccess   = "auth.signup.success"
	metricSignUpFailure   = "auth.signup.failure"
	metricPasswordSuccess = "auth.password.success"
	metricPasswordFailure = "auth.password.failure"
	metricGoogleSuccess   = "auth.google.success"
	metricGoogleFailure   = "auth.google.failure"
	metricRefreshSuccess  = "auth.refresh.success"
	metricRefreshFailure  = "auth.refresh.failure"
	metricLogout          = "auth.logout"
)

// MetricsRecorder counts auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics tallies events in memory. The server uses it when metrics are disabled.
type CounterMetrics struct {
	mutex sync.Mutex
	tally map[string]int64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{tally: map[string]int64{}}
}

func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	recorder.tally[event]++
	recorder.mutex.Unlock()
}

func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.tally[event]
}

// Snapshot copies the tally.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return maps.Clone(recorder.tally)
}

// PrometheusMetrics exports events as labcommons_auth_events_total{flow,outcome}.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		events: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "labcommons",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Sign-up, sign-in, refresh, and logout attempts by flow and outcome.",
		}, []string{"flow", "outcome"}),
	}
}

func (recorder *PrometheusMetrics) Increment(event string) {
	flow, outcome := splitEvent(event)
	recorder.events.WithLabelValues(flow, outcome).Inc()
}

func splitEvent(event string) (string, string) {
	flowAndOutcome := strings.TrimPrefix(event, "auth.")
	flow, outcome, found := strings.Cut(flowAndOutcome, ".")
	if !found {
		return flow, "done"
	}
	return flow, outcome
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}
