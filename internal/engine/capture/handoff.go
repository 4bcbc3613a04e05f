package capture

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrBadAck is reported when an acknowledgement does not match the outstanding batch.
var ErrBadAck = errors.New("bad acknowledgement from consumer")

// Batch transfers ownership of flushed tables to the consumer.
type Batch struct {
	ID     uuid.UUID
	Tables []*Table
}

// Ack returns the memory of every table in the batch.
func (b Batch) Ack() Ack {
	regions := make([]*Region, 0, len(b.Tables))
	for _, t := range b.Tables {
		regions = append(regions, t.Region())
	}
	return Ack{BatchID: b.ID, Regions: regions}
}

// Ack is the consumer's completion signal carrying reclaimable memory.
type Ack struct {
	BatchID uuid.UUID
	Regions []*Region
}

// HandOff is a single-credit channel to the downstream consumer: at most one
// batch is unacknowledged at any time. Send and OnAck belong to the capture
// goroutine; Batches and Ack belong to the consumer.
type HandOff struct {
	arena   *Arena
	batches chan Batch
	acks    chan Ack

	outstanding bool
	pending     uuid.UUID
	sent        uint64
}

// NewHandOff creates a hand-off channel whose acks are reclaimed into arena.
func NewHandOff(arena *Arena) *HandOff {
	return &HandOff{
		arena:   arena,
		batches: make(chan Batch, 1),
		acks:    make(chan Ack, 1),
	}
}

// Send moves the whole queue to the consumer. It refuses, without blocking,
// when a batch is still outstanding or the queue is empty.
func (h *HandOff) Send(q *ExpiredQueue) bool {
	if h.outstanding || q.Len() == 0 {
		return false
	}
	b := Batch{ID: uuid.New(), Tables: q.Drain()}
	h.batches <- b
	h.outstanding = true
	h.pending = b.ID
	h.sent++
	return true
}

// OnAck reclaims the memory carried by ack and returns the credit.
func (h *HandOff) OnAck(ack Ack) {
	if !h.outstanding || ack.BatchID != h.pending {
		h.arena.fail(fmt.Errorf("%w: got batch %s, outstanding %s", ErrBadAck, ack.BatchID, h.pending))
	}
	for _, r := range ack.Regions {
		h.arena.Release(r)
	}
	h.outstanding = false
}

// Outstanding reports whether a batch awaits acknowledgement.
func (h *HandOff) Outstanding() bool {
	return h.outstanding
}

// Sent returns the number of batches handed off.
func (h *HandOff) Sent() uint64 {
	return h.sent
}

// Acks is read by the capture loop.
func (h *HandOff) Acks() <-chan Ack {
	return h.acks
}

// Batches is read by the consumer. It is closed once capture is done.
func (h *HandOff) Batches() <-chan Batch {
	return h.batches
}

// Ack is called by the consumer when it has finished with a batch.
func (h *HandOff) Ack(ack Ack) {
	h.acks <- ack
}

// Close tells the consumer no more batches will follow.
func (h *HandOff) Close() {
	close(h.batches)
}
