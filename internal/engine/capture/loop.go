package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"NetSpectra/internal/model"

	"go.uber.org/zap"
)

const (
	defaultPollWait  = 500 * time.Millisecond
	defaultBatchSize = 1024
)

// Options tunes the capture loop.
type Options struct {
	BatchSize      int
	PollWait       time.Duration
	FlushThreshold float64
}

type feeder struct {
	src      model.PacketSource
	req      chan struct{}
	inflight bool
	closed   bool
}

type feed struct {
	f     *feeder
	batch []*model.Packet
	err   error
}

// Loop is the single goroutine that owns the arena, the flow tables, the
// expired queue and the producer side of the hand-off channel.
type Loop struct {
	arena      *Arena
	dispatcher *Dispatcher
	monitor    *Monitor
	handoff    *HandOff
	expired    *ExpiredQueue
	stats      *Stats
	logger     *zap.Logger
	opts       Options

	sources []model.PacketSource
	feeders []*feeder
	feeds   chan feed
	left    int
}

// NewLoop wires the capture stage together.
func NewLoop(arena *Arena, classifiers []*Classifier, oracle model.Oracle, handoff *HandOff, sources []model.PacketSource, opts Options, logger *zap.Logger) *Loop {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.PollWait <= 0 {
		opts.PollWait = defaultPollWait
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = 0.5
	}
	stats := &Stats{}
	expired := &ExpiredQueue{}
	return &Loop{
		arena:      arena,
		dispatcher: NewDispatcher(arena, classifiers, oracle, expired, stats, logger),
		monitor:    NewMonitor(arena, opts.FlushThreshold, logger),
		handoff:    handoff,
		expired:    expired,
		stats:      stats,
		logger:     logger,
		opts:       opts,
		sources:    sources,
		feeds:      make(chan feed, len(sources)), // a late read never blocks its feeder
	}
}

// Stats returns the live counters of the loop.
func (l *Loop) Stats() *Stats {
	return l.stats
}

// Arena returns the memory budget the loop allocates from.
func (l *Loop) Arena() *Arena {
	return l.arena
}

// Run captures until every source is exhausted and every flushed table has
// been acknowledged by the consumer. Cancelling ctx closes the sources; the
// remaining tables are still handed off. The consumer side of the hand-off
// is closed when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.handoff.Close()

	l.startSources()
	l.logger.Info("Capture configuration",
		zap.Int64("memory_bytes", l.arena.Budget()),
		zap.Int64("flush_threshold", l.monitor.Threshold()),
		zap.Int("sources", l.left),
		zap.Int("classifiers", len(l.dispatcher.classifiers)))
	if l.left == 0 {
		l.dispatcher.FlushAll()
	}

	ticker := time.NewTicker(l.opts.PollWait)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		l.grant()
		if l.left == 0 && !l.handoff.Outstanding() && l.expired.Len() == 0 {
			break
		}

		select {
		case f := <-l.feeds:
			l.handle(f)
		case ack := <-l.handoff.Acks():
			l.handoff.OnAck(ack)
		case <-ticker.C:
		case <-done:
			l.logger.Info("Capture cancelled, closing sources")
			done = nil
			l.closeAll()
		}

		l.monitor.Check(l.dispatcher)
		if l.handoff.Send(l.expired) {
			l.stats.HandOffs.Add(1)
		}
		l.stats.publish(l.dispatcher.classifiers, l.left, l.dispatcher.lastTS)
	}

	l.logger.Info("Capture: no sources left, terminating",
		zap.Uint64("packets", l.stats.Packets.Load()),
		zap.Uint64("handoffs", l.stats.HandOffs.Load()),
		zap.Int64("peak_memory", l.arena.Peak()))
	return nil
}

// startSources opens every source and marks classifiers that cannot
// understand a source's packets as incompatible.
func (l *Loop) startSources() {
	for _, src := range l.sources {
		if err := src.Start(); err != nil {
			l.logger.Warn("Failure to open capture source", zap.String("source", src.Name()), zap.Error(err))
			l.stats.SourceErrors.Add(1)
			continue
		}
		for _, cls := range l.dispatcher.classifiers {
			if cls.status == StatusActive && cls.impl.RequiresL4() && !src.ProvidesL4() {
				l.logger.Warn("Classifier does not get packets from source",
					zap.String("classifier", cls.name), zap.String("source", src.Name()))
				cls.status = StatusIncompatible
			}
		}

		f := &feeder{src: src, req: make(chan struct{}, 1)}
		l.feeders = append(l.feeders, f)
		l.left++
		go l.feed(f)
		l.logger.Info("Source started", zap.String("source", src.Name()))
	}
}

// feed reads one batch per granted request.
func (l *Loop) feed(f *feeder) {
	for range f.req {
		batch, err := f.src.Next(l.opts.BatchSize)
		l.feeds <- feed{f: f, batch: batch, err: err}
		if err != nil {
			return
		}
	}
}

// grant asks idle sources for their next batch. File sources are held back
// while memory is above the flush threshold and the consumer has work that
// will give memory back.
func (l *Loop) grant() {
	hold := l.monitor.UnderPressure() && (l.handoff.Outstanding() || l.expired.Len() > 0)
	for _, f := range l.feeders {
		if f.closed || f.inflight {
			continue
		}
		if hold && f.src.Kind() == model.SourceFile {
			continue
		}
		f.inflight = true
		f.req <- struct{}{}
	}
}

func (l *Loop) handle(fd feed) {
	f := fd.f
	f.inflight = false
	if f.closed {
		// read raced with close, nothing to report
		return
	}

	if len(fd.batch) > 0 {
		l.logger.Debug("Received packets from source", zap.String("source", f.src.Name()), zap.Int("count", len(fd.batch)))
		l.dispatcher.Dispatch(fd.batch)
	}

	if fd.err != nil {
		if !errors.Is(fd.err, io.EOF) {
			l.logger.Warn("Source failed, removing it", zap.String("source", f.src.Name()), zap.Error(fd.err))
			l.stats.SourceErrors.Add(1)
		} else {
			l.logger.Info("Source exhausted", zap.String("source", f.src.Name()))
		}
		l.close(f)
	}
}

func (l *Loop) closeAll() {
	for _, f := range l.feeders {
		l.close(f)
	}
}

// close removes f from the active set. Stop must unblock a pending Next;
// whatever that read returns is discarded.
func (l *Loop) close(f *feeder) {
	if f.closed {
		return
	}
	f.closed = true
	close(f.req)
	f.src.Stop()
	l.left--
	if l.left == 0 {
		l.dispatcher.FlushAll()
	}
}
