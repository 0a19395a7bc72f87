package upstream

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	endpointScores = "scores"
	endpointToken  = "token"
)

// Metrics holds upstream request metrics. A nil *Metrics records nothing.
type Metrics struct {
	Requests          *prometheus.CounterVec
	Reauthorizations  prometheus.Counter
	Retries           prometheus.Counter
	RequestsInFlight  prometheus.Gauge
	CursorTooOldTotal prometheus.Counter
}

// NewMetrics creates and registers upstream metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream HTTP requests by endpoint and status (\"error\" for transport failures).",
		}, []string{"endpoint", "status"}),
		Reauthorizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "upstream",
			Name:      "reauthorizations_total",
			Help:      "Client-credentials token requests.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "upstream",
			Name:      "fetch_retries_total",
			Help:      "Failed fetch attempts that were retried after backoff.",
		}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoresws",
			Subsystem: "upstream",
			Name:      "requests_in_flight",
			Help:      "Upstream requests currently awaiting a response.",
		}),
		CursorTooOldTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "upstream",
			Name:      "cursor_too_old_total",
			Help:      "Responses rejecting the pagination cursor as too old.",
		}),
	}

	reg.MustRegister(m.Requests, m.Reauthorizations, m.Retries, m.RequestsInFlight, m.CursorTooOldTotal)
	return m
}

func (m *Metrics) request(endpoint string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(endpoint, label).Inc()
}

func (m *Metrics) inFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

func (m *Metrics) reauthorized() {
	if m == nil {
		return
	}
	m.Reauthorizations.Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) cursorTooOld() {
	if m == nil {
		return
	}
	m.CursorTooOldTotal.Inc()
}
