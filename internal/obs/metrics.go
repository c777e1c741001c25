package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intraday/internal/schema"
)

const namespace = "intraday"

// Metrics holds the engine's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	dataUnavailable *prometheus.CounterVec
	signals         *prometheus.CounterVec
	riskRejections  *prometheus.CounterVec
	riskEval        prometheus.Histogram
	trades          *prometheus.CounterVec
	persistence     prometheus.Counter
	equity          prometheus.Gauge
	drawdown        prometheus.Gauge
	halted          prometheus.Gauge
	openPositions   prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total", Help: "Completed cycles by timeframe and result.",
		}, []string{"timeframe", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds", Help: "Wall time of one cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"timeframe"}),
		dataUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "data_unavailable_total", Help: "Symbols skipped for missing feed data.",
		}, []string{"symbol"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total", Help: "Ranked candidates by decision.",
		}, []string{"decision"}),
		riskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_rejections_total", Help: "Risk rejections by reason.",
		}, []string{"reason"}),
		riskEval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "risk_eval_seconds", Help: "Latency of one risk evaluation.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 8),
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trade_transitions_total", Help: "Trade state machine transitions by kind.",
		}, []string{"kind"}),
		persistence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persistence_failures_total", Help: "Per-symbol commits rolled back.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "equity", Help: "Marked-to-market account equity.",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "drawdown_ratio", Help: "Session drawdown from the start equity.",
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_halted", Help: "1 when the drawdown halt is latched.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions", Help: "Symbols with open exposure.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.dataUnavailable, m.signals, m.riskRejections, m.riskEval,
		m.trades, m.persistence, m.equity, m.drawdown, m.halted, m.openPositions,
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(tf schema.Timeframe, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(tf), result).Inc()
	m.cycleDuration.WithLabelValues(string(tf)).Observe(d.Seconds())
}

// IncDataUnavailable records a symbol skipped for missing data.
func (m *Metrics) IncDataUnavailable(symbol string) {
	if m == nil {
		return
	}
	m.dataUnavailable.WithLabelValues(symbol).Inc()
}

// ObserveSignals counts ranked candidates by decision.
func (m *Metrics) ObserveSignals(cands []schema.Candidate) {
	if m == nil {
		return
	}
	for _, c := range cands {
		m.signals.WithLabelValues(string(c.Decision)).Inc()
	}
}

// IncRiskReason increments the risk reason counter.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	m.riskRejections.WithLabelValues(reason.String()).Inc()
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.riskEval.Observe(d.Seconds())
}

// IncTransition counts a state machine transition.
func (m *Metrics) IncTransition(kind string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(kind).Inc()
}

// IncPersistenceFailure counts a rolled back symbol commit.
func (m *Metrics) IncPersistenceFailure() {
	if m == nil {
		return
	}
	m.persistence.Inc()
}

// SetSession publishes the account gauges after a cycle.
func (m *Metrics) SetSession(equity, drawdown float64, halted bool, openPositions int) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.drawdown.Set(drawdown)
	if halted {
		m.halted.Set(1)
	} else {
		m.halted.Set(0)
	}
	m.openPositions.Set(float64(openPositions))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr in the background.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
