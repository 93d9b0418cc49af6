package network

import "github.com/prometheus/client_golang/prometheus"

var PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "metasync",
	Subsystem: "network",
	Name:      "peers",
})

var BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "network",
	Name:      "bytes_read",
})

var BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "metasync",
	Subsystem: "network",
	Name:      "bytes_written",
})

func Metrics() []prometheus.Collector {
	return []prometheus.Collector{PeersConnected, BytesRead, BytesWritten}
}
