package capture

import (
	"errors"
	"fmt"
	"time"

	"NetSpectra/internal/model"
)

// ErrNoUpdate is returned when a classifier does not provide an Update callback.
var ErrNoUpdate = errors.New("classifier misses update()")

// Status is the activity state of a classifier.
type Status int

const (
	StatusActive Status = iota
	StatusInactive
	// StatusIncompatible marks a classifier that cannot use the configured sources.
	StatusIncompatible
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusIncompatible:
		return "incompatible"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Classifier is the capture-side state of one classifier: its configuration,
// callbacks and the flow table of the current interval.
type Classifier struct {
	name             string
	buckets          int
	flushInterval    time.Duration
	minFlushInterval time.Duration

	impl   model.Classifier
	cb     model.Callbacks
	status Status

	table     *Table
	lastFlush time.Time
}

// NewClassifier activates impl with the given table width and intervals.
// A classifier without Update is rejected here, before the engine ever runs.
func NewClassifier(impl model.Classifier, buckets int, flushInterval, minFlushInterval time.Duration) (*Classifier, error) {
	cb := impl.Callbacks()
	if cb.Update == nil {
		return nil, fmt.Errorf("cannot activate classifier %s: %w", impl.Name(), ErrNoUpdate)
	}
	if buckets <= 0 {
		return nil, fmt.Errorf("cannot activate classifier %s: bucket count must be positive, got %d", impl.Name(), buckets)
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("cannot activate classifier %s: flush interval must be positive, got %s", impl.Name(), flushInterval)
	}
	if minFlushInterval < 0 {
		return nil, fmt.Errorf("cannot activate classifier %s: negative min flush interval %s", impl.Name(), minFlushInterval)
	}
	if cb.RecordSize < 0 {
		return nil, fmt.Errorf("cannot activate classifier %s: negative record size %d", impl.Name(), cb.RecordSize)
	}
	return &Classifier{
		name:             impl.Name(),
		buckets:          buckets,
		flushInterval:    flushInterval,
		minFlushInterval: minFlushInterval,
		impl:             impl,
		cb:               cb,
		status:           StatusActive,
	}, nil
}

func (c *Classifier) Name() string                    { return c.name }
func (c *Classifier) Buckets() int                    { return c.buckets }
func (c *Classifier) FlushInterval() time.Duration    { return c.flushInterval }
func (c *Classifier) MinFlushInterval() time.Duration { return c.minFlushInterval }
func (c *Classifier) Status() Status                  { return c.status }
func (c *Classifier) Impl() model.Classifier          { return c.impl }

// SetStatus changes the activity state. Only active classifiers see packets.
func (c *Classifier) SetStatus(s Status) {
	c.status = s
}

// Table returns the current, still open table, or nil.
func (c *Classifier) Table() *Table {
	return c.table
}

// alignInterval returns the start of the flush interval containing ts,
// aligned to multiples of ivl since the Unix epoch.
func alignInterval(ts time.Time, ivl time.Duration) time.Time {
	ns := ts.UnixNano()
	return time.Unix(0, ns-ns%int64(ivl)).UTC()
}
