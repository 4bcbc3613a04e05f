package capture

import (
	"go.uber.org/zap"
)

// Monitor flushes tables early when arena usage crosses the flush
// threshold, so the consumer can return memory before the budget runs out.
// Each classifier is flushed at most once per MinFlushInterval of packet time.
type Monitor struct {
	arena     *Arena
	threshold int64
	logger    *zap.Logger
}

// NewMonitor creates a monitor flushing above fraction of the arena budget.
func NewMonitor(arena *Arena, fraction float64, logger *zap.Logger) *Monitor {
	return &Monitor{
		arena:     arena,
		threshold: int64(float64(arena.Budget()) * fraction),
		logger:    logger,
	}
}

// Threshold returns the flush threshold in bytes.
func (m *Monitor) Threshold() int64 {
	return m.threshold
}

// UnderPressure reports whether usage is above the flush threshold.
func (m *Monitor) UnderPressure() bool {
	return m.arena.Usage() > m.threshold
}

// Check forces a flush of every non-empty table whose classifier has not
// been flushed for longer than its minimum flush interval. It returns the
// number of tables flushed.
func (m *Monitor) Check(d *Dispatcher) int {
	usage := m.arena.Usage()
	if usage <= m.threshold {
		return 0
	}

	lastTS := d.LastTimestamp()
	m.logger.Debug("Memory usage above threshold, looking for tables to flush",
		zap.Int64("usage", usage),
		zap.Int64("threshold", m.threshold))

	flushed := 0
	for _, cls := range d.classifiers {
		ct := cls.table
		if cls.status != StatusActive || ct == nil || ct.records == 0 {
			continue
		}
		if lastTS.Sub(cls.lastFlush) <= cls.minFlushInterval {
			continue
		}
		m.logger.Debug("Flushing table under memory pressure", zap.String("classifier", cls.name))
		d.flush(cls, flushPressure, lastTS)
		flushed++
	}
	return flushed
}
