// Package metrics declares counters exported by the controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	// SubmittedRuns counts engine pods created.
	SubmittedRuns prometheus.Counter

	// InterruptEventsProcessed counts interrupt events taken out of the queue.
	InterruptEventsProcessed prometheus.Counter

	// ResourceManagementRuns counts scans of the dead-heartbeat monitor.
	ResourceManagementRuns prometheus.Counter
}

// New creates counters on a dedicated registry, with go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SubmittedRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testpod",
			Subsystem: "controller",
			Name:      "submitted_runs_total",
			Help:      "Count of engine pods submitted to the cluster.",
		}),
		InterruptEventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testpod",
			Subsystem: "controller",
			Name:      "interrupt_events_processed_total",
			Help:      "Count of interrupted-run events processed.",
		}),
		ResourceManagementRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testpod",
			Subsystem: "resource_management",
			Name:      "successful_runs_total",
			Help:      "Count of completed dead-heartbeat scans.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SubmittedRuns,
		m.InterruptEventsProcessed,
		m.ResourceManagementRuns,
	)
	return m
}
