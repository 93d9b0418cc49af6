package metasync

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type pebbleGauge struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(m *pebble.Metrics) float64
}

// PebbleCollector reports storage metrics of a replica. It reports
// nothing once the replica is closed.
type PebbleCollector struct {
	replica *Replica
	gauges  []pebbleGauge
}

func newPebbleDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc("metasync_pebble_"+name, help, nil, nil)
}

func NewPebbleCollector(r *Replica) *PebbleCollector {
	return &PebbleCollector{
		replica: r,
		gauges: []pebbleGauge{
			{newPebbleDesc("compaction_count_total", "Compactions performed"), prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) }},
			{newPebbleDesc("compaction_estimated_debt_bytes", "Bytes to compact to reach a stable state"), prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) }},
			{newPebbleDesc("compaction_in_progress_bytes", "Bytes being compacted"), prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.InProgressBytes) }},
			{newPebbleDesc("memtable_size_bytes", "Memtable size"), prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) }},
			{newPebbleDesc("memtable_count", "Memtables"), prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) }},
			{newPebbleDesc("wal_files", "Live WAL files"), prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) }},
			{newPebbleDesc("wal_size_bytes", "Live WAL data"), prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) }},
			{newPebbleDesc("wal_bytes_in_total", "Logical bytes written to the WAL"), prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesIn) }},
			{newPebbleDesc("wal_bytes_written_total", "Physical bytes written to the WAL"), prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) }},
		},
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range pc.gauges {
		ch <- g.desc
	}
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	pc.replica.lock.Lock()
	db := pc.replica.db
	var metrics *pebble.Metrics
	if db != nil {
		metrics = db.Metrics()
	}
	pc.replica.lock.Unlock()
	if metrics == nil {
		return
	}
	for _, g := range pc.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, g.kind, g.value(metrics))
	}
}
