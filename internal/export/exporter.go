package export

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"NetSpectra/internal/engine/capture"
	"NetSpectra/internal/model"

	"go.uber.org/zap"
)

// Stats are the consumer-side counters.
type Stats struct {
	Batches     atomic.Uint64
	Tables      atomic.Uint64
	Flows       atomic.Uint64
	WriteErrors atomic.Uint64
}

// Exporter is the downstream consumer of the hand-off channel. It decodes
// every flushed table and passes it to the configured writers.
type Exporter struct {
	writers []model.Writer
	logger  *zap.Logger
	stats   Stats
}

// NewExporter creates an exporter writing to writers.
func NewExporter(writers []model.Writer, logger *zap.Logger) *Exporter {
	return &Exporter{writers: writers, logger: logger}
}

// Stats returns the live counters of the exporter.
func (e *Exporter) Stats() *Stats {
	return &e.stats
}

// Run consumes batches until the capture loop closes the channel. Every
// batch is acknowledged, whether or not the writers succeeded. Run keeps
// draining after ctx is cancelled so the capture loop can finish.
func (e *Exporter) Run(ctx context.Context, h *capture.HandOff) error {
	for batch := range h.Batches() {
		start := time.Now()
		flows := 0
		for _, t := range batch.Tables {
			set := Decode(t)
			flows += len(set.Flows)
			e.write(ctx, set)
		}
		e.stats.Batches.Add(1)
		e.stats.Tables.Add(uint64(len(batch.Tables)))
		e.stats.Flows.Add(uint64(flows))
		e.logger.Debug("Batch exported",
			zap.Stringer("batch", batch.ID),
			zap.Int("tables", len(batch.Tables)),
			zap.Int("flows", flows),
			zap.Duration("took", time.Since(start)))
		h.Ack(batch.Ack())
	}
	e.logger.Info("Exporter: hand-off closed",
		zap.Uint64("batches", e.stats.Batches.Load()),
		zap.Uint64("flows", e.stats.Flows.Load()))
	return nil
}

func (e *Exporter) write(ctx context.Context, set *model.FlowSet) {
	for _, w := range e.writers {
		if err := w.Write(ctx, set); err != nil {
			e.stats.WriteErrors.Add(1)
			e.logger.Warn("Failed to write flow set",
				zap.String("writer", w.Name()),
				zap.String("classifier", set.Classifier),
				zap.Time("interval_start", set.IntervalStart),
				zap.Error(err))
		}
	}
}

// Close closes every writer.
func (e *Exporter) Close() error {
	var errs []error
	for _, w := range e.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode converts a flushed table into a FlowSet in scan order.
func Decode(t *capture.Table) *model.FlowSet {
	cls := t.Classifier()
	impl := cls.Impl()
	set := &model.FlowSet{
		Classifier:    cls.Name(),
		IntervalStart: t.IntervalStart(),
		Interval:      cls.FlushInterval(),
		Buckets:       t.Buckets(),
		Records:       t.Records(),
		Flows:         make([]*model.Flow, 0, t.Records()),
	}
	t.Scan(func(id capture.RecordID, seq int) {
		f := impl.Decode(t.Payload(id))
		f.Seq = seq
		set.Flows = append(set.Flows, f)
	})
	return set
}
