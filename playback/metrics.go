package playback

import "github.com/prometheus/client_golang/prometheus"

var SnapshotsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "playback",
	Name:      "snapshots_evicted",
	Help:      "Snapshots dropped from a full playback buffer",
})

var SnapshotsApplied = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "playback",
	Name:      "snapshots_applied",
})

func Metrics() []prometheus.Collector {
	return []prometheus.Collector{SnapshotsEvicted, SnapshotsApplied}
}
