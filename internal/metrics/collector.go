package metrics

import (
	"NetSpectra/internal/engine/capture"
	"NetSpectra/internal/export"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netspectra"

var (
	descPackets = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "capture", "packets_total"),
		"Packets read from all sources.", nil, nil)
	descBatches = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "capture", "batches_total"),
		"Packet batches dispatched to the classifiers.", nil, nil)
	descFlushes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "capture", "table_flushes_total"),
		"Flow tables flushed, by reason.", []string{"reason"}, nil)
	descHandOffs = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "capture", "handoffs_total"),
		"Batches of flushed tables handed to the exporter.", nil, nil)
	descSourceErrors = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "capture", "source_errors_total"),
		"Sources that failed to start or to read.", nil, nil)
	descSourcesLeft = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "capture", "sources_open"),
		"Sources still delivering packets.", nil, nil)

	descArenaUsage = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "arena", "usage_bytes"),
		"Bytes held by flow tables.", nil, nil)
	descArenaPeak = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "arena", "peak_bytes"),
		"Highest arena usage seen.", nil, nil)
	descArenaBudget = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "arena", "budget_bytes"),
		"Configured arena budget.", nil, nil)

	descRecords = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "classifier", "records"),
		"Flows in the current table of a classifier.", []string{"classifier", "status"}, nil)
	descLiveBuckets = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "classifier", "live_buckets"),
		"Non-empty buckets in the current table of a classifier.", []string{"classifier", "status"}, nil)

	descExported = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "export", "flows_total"),
		"Flow records passed to the writers.", nil, nil)
	descWriteErrors = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "export", "write_errors_total"),
		"Failed writer calls.", nil, nil)
)

type collector struct {
	stats    *capture.Stats
	arena    *capture.Arena
	exporter *export.Stats
}

var _ prometheus.Collector = &collector{}

// NewCollector exposes the capture and export counters. exporter may be nil.
func NewCollector(stats *capture.Stats, arena *capture.Arena, exporter *export.Stats) prometheus.Collector {
	return &collector{stats: stats, arena: arena, exporter: exporter}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descPackets, descBatches, descFlushes, descHandOffs, descSourceErrors, descSourcesLeft,
		descArenaUsage, descArenaPeak, descArenaBudget,
		descRecords, descLiveBuckets,
		descExported, descWriteErrors,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(descPackets, s.Packets.Load())
	counter(descBatches, s.Batches.Load())
	counter(descFlushes, s.IntervalFlushes.Load(), "interval")
	counter(descFlushes, s.PressureFlushes.Load(), "pressure")
	counter(descFlushes, s.FinalFlushes.Load(), "final")
	counter(descHandOffs, s.HandOffs.Load())
	counter(descSourceErrors, s.SourceErrors.Load())
	gauge(descSourcesLeft, float64(s.SourcesLeft()))

	gauge(descArenaUsage, float64(c.arena.Usage()))
	gauge(descArenaPeak, float64(c.arena.Peak()))
	gauge(descArenaBudget, float64(c.arena.Budget()))

	for _, cls := range s.Classifiers() {
		gauge(descRecords, float64(cls.Records), cls.Name, cls.Status)
		gauge(descLiveBuckets, float64(cls.LiveBuckets), cls.Name, cls.Status)
	}

	if c.exporter != nil {
		counter(descExported, c.exporter.Flows.Load())
		counter(descWriteErrors, c.exporter.WriteErrors.Load())
	}
}
