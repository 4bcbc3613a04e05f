package capture

import (
	"encoding/binary"
	"time"

	"NetSpectra/internal/model"
)

// RecordID addresses a record inside its table.
type RecordID int32

// NoRecord is the nil record index.
const NoRecord RecordID = -1

const (
	// bucketSize is the arena footprint of one bucket head.
	bucketSize = 4
	// recordHeaderSize is the arena footprint of a record header, charged with its payload.
	recordHeaderSize = 16
)

type record struct {
	hash    uint32
	next    RecordID
	prev    RecordID
	full    bool
	payload []byte
}

// Table holds the aggregate records of one classifier for one interval.
//
// Bucket heads live in arena memory (zero means empty, otherwise index+1).
// Each bucket chain is ordered most recently matched first. A record that
// was superseded because it became full is reachable only through the prev
// link of its successor, and its own next link points forward in the flow
// history.
type Table struct {
	cls    *Classifier
	region *Region

	buckets []byte
	width   int
	recs    []record

	records       int
	liveBuckets   int
	firstFull     int
	intervalStart time.Time
	closed        bool
}

// NewTable creates an empty table for the interval containing ts.
func NewTable(cls *Classifier, ts time.Time, region *Region) *Table {
	return &Table{
		cls:           cls,
		region:        region,
		buckets:       region.Allocate(cls.buckets * bucketSize),
		width:         cls.buckets,
		firstFull:     cls.buckets, // all buckets empty
		intervalStart: alignInterval(ts, cls.flushInterval),
	}
}

func (t *Table) head(bucket int) RecordID {
	return RecordID(binary.LittleEndian.Uint32(t.buckets[bucket*bucketSize:])) - 1
}

func (t *Table) setHead(bucket int, id RecordID) {
	binary.LittleEndian.PutUint32(t.buckets[bucket*bucketSize:], uint32(id+1))
}

func (t *Table) newRecord(hash uint32) RecordID {
	size := t.cls.cb.RecordSize
	mem := t.region.Allocate(recordHeaderSize + size)
	t.recs = append(t.recs, record{
		hash:    hash,
		next:    NoRecord,
		prev:    NoRecord,
		payload: mem[recordHeaderSize:],
	})
	return RecordID(len(t.recs) - 1)
}

// LookupOrInsert finds or creates the record for pkt's flow, moves it to
// the front of its bucket and folds pkt into it with the classifier's Update.
func (t *Table) LookupOrInsert(pkt *model.Packet) (RecordID, bool) {
	if t.closed {
		panic("capture: insert into flushed table of classifier " + t.cls.name)
	}
	cb := &t.cls.cb

	var hash uint32
	if cb.Hash != nil {
		hash = cb.Hash(pkt)
	}
	bucket := int(hash % uint32(t.width))

	prev := NoRecord
	cand := t.head(bucket)
	for cand != NoRecord {
		if cb.Match == nil || cb.Match(pkt, t.recs[cand].payload) {
			break
		}
		prev = cand
		cand = t.recs[cand].next
	}

	if cand != NoRecord {
		// move to the front unless it already is the head
		if prev != NoRecord {
			t.recs[prev].next = t.recs[cand].next
			t.recs[cand].next = t.head(bucket)
			t.setHead(bucket, cand)
		}

		if t.recs[cand].full {
			// supersede: not a new flow, so records stays as is
			x := t.newRecord(t.recs[cand].hash)
			t.recs[x].next = t.recs[cand].next
			t.recs[x].prev = cand
			t.recs[cand].next = x
			t.setHead(bucket, x)
			t.recs[x].full = cb.Update(pkt, t.recs[x].payload, true)
			return x, true
		}

		t.recs[cand].full = cb.Update(pkt, t.recs[cand].payload, false)
		return cand, false
	}

	x := t.newRecord(hash)
	old := t.head(bucket)
	t.recs[x].next = old
	t.setHead(bucket, x)
	t.records++
	if old == NoRecord {
		t.liveBuckets++
	}
	if bucket < t.firstFull {
		t.firstFull = bucket
	}
	t.recs[x].full = cb.Update(pkt, t.recs[x].payload, true)
	return x, true
}

// Flush closes the table. It must not be mutated afterwards.
func (t *Table) Flush() {
	t.closed = true
}

// Closed reports whether the table has been flushed.
func (t *Table) Closed() bool { return t.closed }

// Classifier returns the classifier owning this table.
func (t *Table) Classifier() *Classifier { return t.cls }

// Region returns the arena region the table draws from.
func (t *Table) Region() *Region { return t.region }

// Records returns the number of distinct flows inserted.
func (t *Table) Records() int { return t.records }

// LiveBuckets returns the number of non-empty buckets.
func (t *Table) LiveBuckets() int { return t.liveBuckets }

// FirstFull returns the lowest non-empty bucket, or Buckets() if all are empty.
func (t *Table) FirstFull() int { return t.firstFull }

// Buckets returns the table width.
func (t *Table) Buckets() int { return t.width }

// IntervalStart returns the aligned start of the table's interval.
func (t *Table) IntervalStart() time.Time { return t.intervalStart }

// IntervalEnd returns the boundary after which a packet belongs to a new table.
func (t *Table) IntervalEnd() time.Time { return t.intervalStart.Add(t.cls.flushInterval) }

// Head returns the first record of a bucket chain.
func (t *Table) Head(bucket int) RecordID { return t.head(bucket) }

// Next returns the following record: the next flow in the bucket for a
// chain head, or the newer record in the history of a superseded one.
func (t *Table) Next(id RecordID) RecordID { return t.recs[id].next }

// Prev returns the older record of the same flow, or NoRecord.
func (t *Table) Prev(id RecordID) RecordID { return t.recs[id].prev }

// Full reports whether a record has been marked full.
func (t *Table) Full(id RecordID) bool { return t.recs[id].full }

// Payload returns the classifier bytes of a record.
func (t *Table) Payload(id RecordID) []byte { return t.recs[id].payload }

// Hash returns the flow hash of a record.
func (t *Table) Hash(id RecordID) uint32 { return t.recs[id].hash }

// Scan walks every record in the order the consumer stores them: buckets
// upward from FirstFull, each chain head first, each flow history from its
// oldest record to the newest. seq is the position inside the history.
func (t *Table) Scan(fn func(id RecordID, seq int)) {
	for b := t.firstFull; b < t.width; b++ {
		fh := t.head(b)
		for fh != NoRecord {
			end := t.recs[fh].next

			oldest := fh
			for t.recs[oldest].prev != NoRecord {
				oldest = t.recs[oldest].prev
			}
			seq := 0
			for r := oldest; r != end; r = t.recs[r].next {
				fn(r, seq)
				seq++
			}
			fh = end
		}
	}
}
