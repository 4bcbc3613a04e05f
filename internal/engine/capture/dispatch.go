package capture

import (
	"time"

	"NetSpectra/internal/model"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type flushReason int

const (
	flushInterval flushReason = iota
	flushPressure
	flushFinal
)

func (r flushReason) String() string {
	switch r {
	case flushInterval:
		return "interval"
	case flushPressure:
		return "memory"
	default:
		return "final"
	}
}

// Dispatcher feeds packet batches into the flow tables of the classifiers
// interested in them and moves closed tables to the expired queue.
type Dispatcher struct {
	classifiers []*Classifier
	arena       *Arena
	expired     *ExpiredQueue
	oracle      model.Oracle
	logger      *zap.Logger
	stats       *Stats

	lastTS time.Time
	warnTS rate.Sometimes
}

// NewDispatcher creates a dispatcher over the given classifiers.
// A nil oracle means every classifier is interested in every packet.
func NewDispatcher(arena *Arena, classifiers []*Classifier, oracle model.Oracle, expired *ExpiredQueue, stats *Stats, logger *zap.Logger) *Dispatcher {
	if stats == nil {
		stats = &Stats{}
	}
	return &Dispatcher{
		classifiers: classifiers,
		arena:       arena,
		expired:     expired,
		oracle:      oracle,
		logger:      logger,
		stats:       stats,
		warnTS:      rate.Sometimes{Interval: time.Second},
	}
}

// Classifiers returns the classifiers in configuration order.
func (d *Dispatcher) Classifiers() []*Classifier {
	return d.classifiers
}

// LastTimestamp returns the highest packet timestamp dispatched so far.
func (d *Dispatcher) LastTimestamp() time.Time {
	return d.lastTS
}

// Dispatch runs one batch through every active classifier and returns the
// highest timestamp in the batch.
func (d *Dispatcher) Dispatch(batch []*model.Packet) time.Time {
	if len(batch) == 0 {
		return time.Time{}
	}
	d.stats.Packets.Add(uint64(len(batch)))
	d.stats.Batches.Add(1)

	var maxTS time.Time
	for i, pkt := range batch {
		if !pkt.Timestamp.Before(maxTS) {
			maxTS = pkt.Timestamp
			continue
		}
		d.warnTS.Do(func() {
			d.logger.Warn("Packet timestamps not increasing",
				zap.Int("index", i),
				zap.Time("previous", maxTS),
				zap.Time("current", pkt.Timestamp))
		})
	}

	var which [][]bool
	if d.oracle != nil {
		which = d.oracle.Classify(batch, len(d.classifiers))
	}

	for idx, cls := range d.classifiers {
		if cls.status != StatusActive {
			continue
		}
		var relevant []bool
		if which != nil {
			relevant = which[idx]
		}
		d.capture(cls, batch, relevant)
	}

	if maxTS.After(d.lastTS) {
		d.lastTS = maxTS
	}
	return maxTS
}

func (d *Dispatcher) capture(cls *Classifier, batch []*model.Packet, relevant []bool) {
	for i, pkt := range batch {
		if cls.table == nil {
			d.openTable(cls, pkt.Timestamp)
		}

		ct := cls.table
		if pkt.Timestamp.After(ct.IntervalEnd()) {
			d.flush(cls, flushInterval, pkt.Timestamp)
			d.openTable(cls, pkt.Timestamp)
			ct = cls.table
		}

		if relevant != nil && !relevant[i] {
			continue
		}
		if cls.cb.Check != nil && !cls.cb.Check(pkt) {
			continue
		}
		ct.LookupOrInsert(pkt)
	}
}

func (d *Dispatcher) openTable(cls *Classifier, ts time.Time) {
	cls.table = NewTable(cls, ts, d.arena.NewRegion())
	if cls.lastFlush.IsZero() {
		cls.lastFlush = ts
	}
}

// flush closes the current table of cls. Tables without records never
// reach the consumer; their memory goes straight back to the arena.
func (d *Dispatcher) flush(cls *Classifier, reason flushReason, ts time.Time) {
	ct := cls.table
	if ct == nil {
		return
	}
	cls.table = nil
	cls.lastFlush = ts

	if ct.records == 0 {
		d.arena.Release(ct.region)
		return
	}

	if ct.records > ct.width {
		d.logger.Warn("Flow table overfull, consider more buckets",
			zap.String("classifier", cls.name),
			zap.Int("records", ct.records),
			zap.Int("buckets", ct.width),
			zap.Int("live", ct.liveBuckets))
	}
	d.logger.Debug("Flushing table",
		zap.String("classifier", cls.name),
		zap.Stringer("reason", reason),
		zap.Time("interval", ct.intervalStart),
		zap.Int("records", ct.records),
		zap.Int("live", ct.liveBuckets))

	ct.Flush()
	d.expired.Append(ct)

	switch reason {
	case flushInterval:
		d.stats.IntervalFlushes.Add(1)
	case flushPressure:
		d.stats.PressureFlushes.Add(1)
	case flushFinal:
		d.stats.FinalFlushes.Add(1)
	}
}

// FlushAll closes every current table, e.g. once all sources are exhausted.
func (d *Dispatcher) FlushAll() {
	for _, cls := range d.classifiers {
		d.flush(cls, flushFinal, d.lastTS)
	}
}
