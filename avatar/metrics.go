package avatar

import "github.com/prometheus/client_golang/prometheus"

var PosesTruncated = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "avatar",
	Name:      "poses_truncated",
	Help:      "Captured poses cut to the pose buffer capacity",
})

func Metrics() []prometheus.Collector {
	return []prometheus.Collector{PosesTruncated}
}
