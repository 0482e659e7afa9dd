package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	clientsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of clients awaiting a pairing",
			Name:      "clients_queued",
			Namespace: "timefuse",
		},
	)

	workersQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of workers awaiting a pairing",
			Name:      "workers_queued",
			Namespace: "timefuse",
		},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of live sessions",
			Name:      "sessions_active",
			Namespace: "timefuse",
		},
	)

	pairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Completed pairings",
			Name:      "pairs_total",
			Namespace: "timefuse",
		},
	)

	pairAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Pairings aborted on a pair-info write failure",
			Name:      "pair_aborts_total",
			Namespace: "timefuse",
		},
	)
)

func init() {
	prometheus.MustRegister(
		clientsQueued,
		workersQueued,
		sessionsActive,
		pairsTotal,
		pairAbortsTotal,
	)
}

func updateClientsQueuedMetric(l int) {
	clientsQueued.Set(float64(l))
}

func updateWorkersQueuedMetric(l int) {
	workersQueued.Set(float64(l))
}

func updateSessionsMetric(l int) {
	sessionsActive.Set(float64(l))
}
