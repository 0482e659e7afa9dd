package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	workerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Current lifecycle state of the worker",
			Name:      "worker_state",
			Namespace: "timefuse",
		},
	)

	jobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Clients this worker has been paired with",
			Name:      "jobs_total",
			Namespace: "timefuse",
		},
	)

	commandsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Requests dispatched to the store",
			Name:      "commands_total",
			Namespace: "timefuse",
		},
	)
)

func init() {
	prometheus.MustRegister(
		workerState,
		jobsTotal,
		commandsTotal,
	)
}

func updateStateMetric(s State) {
	workerState.Set(float64(s))
}
