package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func flushedTable(t *testing.T, arena *Arena, port uint16) *Table {
	t.Helper()
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, time.Second, 0)
	tbl := NewTable(cls, at(0), arena.NewRegion())
	tbl.LookupOrInsert(packet(port, at(0)))
	tbl.Flush()
	return tbl
}

func TestHandOff_SingleOutstanding(t *testing.T) {
	arena := NewArena(1<<20, zap.NewNop())
	h := NewHandOff(arena)
	q := &ExpiredQueue{}

	assert.False(t, h.Send(q), "empty queue is never handed off")

	q.Append(flushedTable(t, arena, 1))
	q.Append(flushedTable(t, arena, 2))
	require.True(t, h.Send(q))
	assert.True(t, h.Outstanding())
	assert.Zero(t, q.Len())

	q.Append(flushedTable(t, arena, 3))
	assert.False(t, h.Send(q), "second hand-off while one is outstanding")
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint64(1), h.Sent())

	b := <-h.Batches()
	require.Len(t, b.Tables, 2)
	assert.Equal(t, uint16(1), recPort(b.Tables[0].Payload(b.Tables[0].Head(1))))

	before := arena.Usage()
	h.Ack(b.Ack())
	h.OnAck(<-h.Acks())
	assert.False(t, h.Outstanding())
	assert.Less(t, arena.Usage(), before)

	assert.True(t, h.Send(q))
	assert.Equal(t, uint64(2), h.Sent())
}

func TestHandOff_BadAckIsFatal(t *testing.T) {
	var got error
	arena := NewArena(1<<20, zap.NewNop(), WithFatalHandler(func(err error) { got = err }))
	h := NewHandOff(arena)
	q := &ExpiredQueue{}
	q.Append(flushedTable(t, arena, 1))
	require.True(t, h.Send(q))
	<-h.Batches()

	assert.Panics(t, func() { h.OnAck(Ack{BatchID: uuid.New()}) })
	assert.True(t, errors.Is(got, ErrBadAck))
}

func TestHandOff_AckWithoutBatchIsFatal(t *testing.T) {
	var got error
	arena := NewArena(1<<20, zap.NewNop(), WithFatalHandler(func(err error) { got = err }))
	h := NewHandOff(arena)

	assert.Panics(t, func() { h.OnAck(Ack{}) })
	assert.ErrorIs(t, got, ErrBadAck)
}
