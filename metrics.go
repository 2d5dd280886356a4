package tenantclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one or more clients.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	circuitState *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantclient_requests_total",
				Help: "Total number of logical calls by outcome",
			},
			[]string{"client", "method", "outcome", "code"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantclient_attempts_total",
				Help: "Total number of dispatched transport attempts",
			},
			[]string{"client", "method", "status"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantclient_retries_total",
				Help: "Total number of retries scheduled after a retryable failure",
			},
			[]string{"client", "method"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantclient_circuit_rejections_total",
				Help: "Total number of calls rejected locally by the circuit breaker",
			},
			[]string{"client"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantclient_request_duration_seconds",
				Help:    "Duration of logical calls including retries and backoff",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"client", "method"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenantclient_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
			},
			[]string{"client"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.attempts, m.retries, m.rejections, m.duration, m.circuitState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(client, method string, err *Error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome, code := "success", ""
	if err != nil {
		outcome, code = string(err.Kind), err.Code
	}
	m.requests.WithLabelValues(client, method, outcome, code).Inc()
	m.duration.WithLabelValues(client, method).Observe(elapsed.Seconds())
}

// observeAttempt records one dispatched attempt; status is 0 when no response arrived.
func (m *Metrics) observeAttempt(client, method string, status int) {
	if m == nil {
		return
	}
	label := "none"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.attempts.WithLabelValues(client, method, label).Inc()
}

func (m *Metrics) observeRetry(client, method string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(client, method).Inc()
}

func (m *Metrics) observeRejection(client string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(client).Inc()
}

func (m *Metrics) setCircuitState(client string, state CircuitState) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(client).Set(float64(state))
}
