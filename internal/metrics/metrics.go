package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"orbitalEngine/internal/orbital"
)

// Metrics holds the Prometheus collectors for the engine and its host commands.
type Metrics struct {
	swapsTotal        *prometheus.CounterVec
	swapLegs          prometheus.Histogram
	solverIterations  *prometheus.HistogramVec
	liquidityOps      *prometheus.CounterVec
	depegTransitions  *prometheus.CounterVec
	isolatedAssets    prometheus.Gauge
	pricePolls        *prometheus.CounterVec
	operationsApplied *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbital_swaps_total",
			Help: "Swaps attempted, labeled by result class.",
		}, []string{"result"}),
		swapLegs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orbital_swap_legs",
			Help:    "Number of segments executed per successful swap.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		solverIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orbital_solver_iterations",
			Help:    "Solver iterations per swap leg, labeled by method.",
			Buckets: []float64{1, 2, 3, 5, 10, 32, 64, 128, 256},
		}, []string{"method"}),
		liquidityOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbital_liquidity_operations_total",
			Help: "Liquidity operations, labeled by kind and result class.",
		}, []string{"kind", "result"}),
		depegTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbital_depeg_transitions_total",
			Help: "Depeg monitor status changes, labeled by target status.",
		}, []string{"to"}),
		isolatedAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orbital_isolated_assets",
			Help: "Assets currently isolated by the depeg monitor.",
		}),
		pricePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbital_price_polls_total",
			Help: "Price feed polls, labeled by result.",
		}, []string{"result"}),
		operationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbital_replay_operations_total",
			Help: "Replayed operations, labeled by kind and status.",
		}, []string{"kind", "status"}),
	}
	reg.MustRegister(
		m.swapsTotal,
		m.swapLegs,
		m.solverIterations,
		m.liquidityOps,
		m.depegTransitions,
		m.isolatedAssets,
		m.pricePolls,
		m.operationsApplied,
	)
	return m
}

// ObserveSwap records a swap outcome. res is ignored when err is set.
func (m *Metrics) ObserveSwap(res *orbital.SwapResult, err error) {
	if err != nil {
		m.swapsTotal.WithLabelValues(orbital.ErrorClass(err)).Inc()
		return
	}
	m.swapsTotal.WithLabelValues("ok").Inc()
	m.swapLegs.Observe(float64(len(res.Legs)))
	for _, leg := range res.Legs {
		m.solverIterations.WithLabelValues(leg.Method).Observe(float64(leg.Iterations))
	}
}

// ObserveLiquidity records an add or remove outcome.
func (m *Metrics) ObserveLiquidity(kind string, err error) {
	m.liquidityOps.WithLabelValues(kind, resultLabel(err)).Inc()
}

// ObserveTransition records a depeg transition. It can be subscribed to a monitor directly.
func (m *Metrics) ObserveTransition(t orbital.Transition) {
	m.depegTransitions.WithLabelValues(t.To.String()).Inc()
	switch {
	case t.To == orbital.DepegIsolated:
		m.isolatedAssets.Inc()
	case t.From == orbital.DepegIsolated:
		m.isolatedAssets.Dec()
	}
}

// ObservePoll records a price feed poll.
func (m *Metrics) ObservePoll(err error) {
	if err != nil {
		m.pricePolls.WithLabelValues("error").Inc()
		return
	}
	m.pricePolls.WithLabelValues("ok").Inc()
}

// ObserveOperation records one replayed operation.
func (m *Metrics) ObserveOperation(kind, status string) {
	m.operationsApplied.WithLabelValues(kind, status).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return orbital.ErrorClass(err)
}
