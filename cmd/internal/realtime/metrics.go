package realtime

import "github.com/prometheus/client_golang/prometheus"

// Tick results recorded by Metrics.EngineTicks.
const (
	tickOK      = "ok"
	tickSkipped = "skipped"
	tickAborted = "aborted"
)

// Metrics holds relay metrics. A nil *Metrics records nothing.
type Metrics struct {
	EngineTicks       *prometheus.CounterVec
	DeepenRounds      prometheus.Counter
	RecordsBroadcast  prometheus.Counter
	RecordsEvicted    prometheus.Counter
	HistoryRecords    prometheus.Gauge
	ActiveConnections prometheus.Gauge
	Sessions          *prometheus.CounterVec
	SlowClients       prometheus.Counter
}

// NewMetrics creates and registers relay metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EngineTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Polling ticks by result.",
		}, []string{"result"}),
		DeepenRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "engine",
			Name:      "deepen_rounds_total",
			Help:      "Extra fetches issued to close a pagination gap.",
		}),
		RecordsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Name:      "records_broadcast_total",
			Help:      "Records published to connected clients.",
		}),
		RecordsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Name:      "records_evicted_total",
			Help:      "Records dropped from history to respect its cap.",
		}),
		HistoryRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoresws",
			Name:      "history_records",
			Help:      "Records currently retained for resume.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoresws",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Open WebSocket connections.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "ws",
			Name:      "sessions_total",
			Help:      "WebSocket sessions by handshake mode (connect, resume, rejected).",
		}, []string{"mode"}),
		SlowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoresws",
			Subsystem: "ws",
			Name:      "slow_clients_total",
			Help:      "Connections closed for exceeding the outbound backlog.",
		}),
	}

	reg.MustRegister(
		m.EngineTicks,
		m.DeepenRounds,
		m.RecordsBroadcast,
		m.RecordsEvicted,
		m.HistoryRecords,
		m.ActiveConnections,
		m.Sessions,
		m.SlowClients,
	)
	return m
}

func (m *Metrics) tick(result string) {
	if m == nil {
		return
	}
	m.EngineTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) deepened() {
	if m == nil {
		return
	}
	m.DeepenRounds.Inc()
}

func (m *Metrics) committed(broadcast, evicted, retained int) {
	if m == nil {
		return
	}
	m.RecordsBroadcast.Add(float64(broadcast))
	m.RecordsEvicted.Add(float64(evicted))
	m.HistoryRecords.Set(float64(retained))
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) session(mode string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(mode).Inc()
}

func (m *Metrics) slowClient() {
	if m == nil {
		return
	}
	m.SlowClients.Inc()
}
