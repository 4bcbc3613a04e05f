package metrics

import (
	"testing"

	"NetSpectra/internal/engine/capture"
	"NetSpectra/internal/export"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gather(t *testing.T, c prometheus.Collector) map[string][]*dto.Metric {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string][]*dto.Metric, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf.GetMetric()
	}
	return out
}

func TestCollector(t *testing.T) {
	stats := &capture.Stats{}
	stats.Packets.Add(42)
	stats.IntervalFlushes.Add(3)
	stats.PressureFlushes.Add(1)
	arena := capture.NewArena(1<<20, zap.NewNop())
	region := arena.NewRegion()
	region.Allocate(100)

	exp := &export.Stats{}
	exp.Flows.Add(7)

	m := gather(t, NewCollector(stats, arena, exp))

	require.Len(t, m["netspectra_capture_packets_total"], 1)
	assert.Equal(t, float64(42), m["netspectra_capture_packets_total"][0].GetCounter().GetValue())

	flushes := map[string]float64{}
	for _, metric := range m["netspectra_capture_table_flushes_total"] {
		flushes[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"interval": 3, "pressure": 1, "final": 0}, flushes)

	assert.Equal(t, float64(1<<20), m["netspectra_arena_budget_bytes"][0].GetGauge().GetValue())
	assert.Greater(t, m["netspectra_arena_usage_bytes"][0].GetGauge().GetValue(), float64(0))
	assert.Equal(t, float64(7), m["netspectra_export_flows_total"][0].GetCounter().GetValue())
}

func TestCollector_WithoutExporter(t *testing.T) {
	m := gather(t, NewCollector(&capture.Stats{}, capture.NewArena(1024, zap.NewNop()), nil))
	assert.NotContains(t, m, "netspectra_export_flows_total")
	assert.Contains(t, m, "netspectra_capture_sources_open")
}
