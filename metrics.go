package metasync

import "github.com/prometheus/client_golang/prometheus"

var PacketsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "replica",
	Name:      "packets_applied",
}, []string{"lit"})

var PacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "replica",
	Name:      "packets_dropped",
}, []string{"reason"})

var StaleEdits = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "replica",
	Name:      "stale_edits",
	Help:      "Edits from an authority epoch that already ended",
})

var TornBuffers = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "replica",
	Name:      "torn_buffers",
})

var AuthorityTransfers = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "authority",
	Name:      "transfers",
})

var ObjectsSpawned = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "replica",
	Name:      "objects_spawned",
})

var EditsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "tick",
	Name:      "edits_committed",
})

var TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "metasync",
	Subsystem: "tick",
	Name:      "duration_us",
	Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 20000},
})

var CommandsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "commands",
	Name:      "executed",
}, []string{"command", "origin"})

var SyncSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "metasync",
	Subsystem: "sync",
	Name:      "sessions",
})

// Metrics lists the package collectors for registration.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{
		PacketsApplied,
		PacketsDropped,
		StaleEdits,
		TornBuffers,
		AuthorityTransfers,
		ObjectsSpawned,
		EditsCommitted,
		TickDuration,
		CommandsExecuted,
		SyncSessions,
	}
}

// Collector exposes the pebble metrics of this replica.
func (r *Replica) Collector() prometheus.Collector {
	return NewPebbleCollector(r)
}
