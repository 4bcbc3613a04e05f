package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats are the capture counters. Counters are written by the capture
// goroutine and may be read concurrently.
type Stats struct {
	Packets         atomic.Uint64
	Batches         atomic.Uint64
	IntervalFlushes atomic.Uint64
	PressureFlushes atomic.Uint64
	FinalFlushes    atomic.Uint64
	HandOffs        atomic.Uint64
	SourceErrors    atomic.Uint64

	mu          sync.RWMutex
	classifiers []ClassifierStat
	sourcesLeft int
	lastTS      time.Time
}

// ClassifierStat is a point-in-time view of one classifier.
type ClassifierStat struct {
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Buckets       int       `json:"buckets"`
	Records       int       `json:"records"`
	LiveBuckets   int       `json:"live_buckets"`
	IntervalStart time.Time `json:"interval_start,omitempty"`
	LastFlush     time.Time `json:"last_flush,omitempty"`
}

func (s *Stats) publish(classifiers []*Classifier, sourcesLeft int, lastTS time.Time) {
	view := make([]ClassifierStat, len(classifiers))
	for i, c := range classifiers {
		view[i] = ClassifierStat{
			Name:      c.name,
			Status:    c.status.String(),
			Buckets:   c.buckets,
			LastFlush: c.lastFlush,
		}
		if t := c.table; t != nil {
			view[i].Records = t.records
			view[i].LiveBuckets = t.liveBuckets
			view[i].IntervalStart = t.intervalStart
		}
	}
	s.mu.Lock()
	s.classifiers = view
	s.sourcesLeft = sourcesLeft
	s.lastTS = lastTS
	s.mu.Unlock()
}

// Classifiers returns the latest per-classifier view.
func (s *Stats) Classifiers() []ClassifierStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ClassifierStat(nil), s.classifiers...)
}

// SourcesLeft returns the number of sources still open.
func (s *Stats) SourcesLeft() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourcesLeft
}

// LastTimestamp returns the most recent packet timestamp seen.
func (s *Stats) LastTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTS
}
