package capture

import (
	"testing"
	"time"

	"NetSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDispatcher(oracle model.Oracle, classifiers ...*Classifier) (*Dispatcher, *ExpiredQueue, *Arena) {
	arena := NewArena(1<<20, zap.NewNop())
	expired := &ExpiredQueue{}
	return NewDispatcher(arena, classifiers, oracle, expired, &Stats{}, zap.NewNop()), expired, arena
}

func newObservedDispatcher(classifiers ...*Classifier) (*Dispatcher, *ExpiredQueue, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	expired := &ExpiredQueue{}
	d := NewDispatcher(NewArena(1<<20, zap.NewNop()), classifiers, nil, expired, &Stats{}, zap.New(core))
	return d, expired, logs
}

func TestDispatch_IntervalFlush(t *testing.T) {
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, 10*time.Second, 0)
	d, expired, _ := newTestDispatcher(nil, cls)

	d.Dispatch([]*model.Packet{packet(42, at(1*time.Second)), packet(42, at(3*time.Second))})
	first := cls.Table()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Records())
	assert.True(t, at(0).Equal(first.IntervalStart()))
	assert.Zero(t, expired.Len())

	d.Dispatch([]*model.Packet{packet(42, at(12*time.Second))})
	require.Equal(t, 1, expired.Len())
	assert.Equal(t, uint64(1), d.stats.IntervalFlushes.Load())

	flushed := expired.Drain()[0]
	assert.Same(t, first, flushed)
	assert.True(t, flushed.Closed())
	assert.Equal(t, uint64(2), recPackets(flushed.Payload(flushed.Head(42%4))))

	second := cls.Table()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.True(t, at(10*time.Second).Equal(second.IntervalStart()))
	assert.Equal(t, 1, second.Records())
	assert.Equal(t, uint64(1), recPackets(second.Payload(second.Head(42%4))))
}

func TestDispatch_BoundaryBelongsToCurrentInterval(t *testing.T) {
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, 10*time.Second, 0)
	d, expired, _ := newTestDispatcher(nil, cls)

	d.Dispatch([]*model.Packet{packet(1, at(time.Second)), packet(1, at(10*time.Second))})
	assert.Zero(t, expired.Len())
	assert.Equal(t, uint64(2), recPackets(cls.Table().Payload(cls.Table().Head(1))))
}

func TestDispatch_EmptyTableIsReleased(t *testing.T) {
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, 10*time.Second, 0)
	d, expired, arena := newTestDispatcher(staticOracle{false}, cls)

	d.Dispatch([]*model.Packet{packet(1, at(time.Second))})
	require.NotNil(t, cls.Table())
	assert.Zero(t, cls.Table().Records())
	used := arena.Usage()

	d.Dispatch([]*model.Packet{packet(1, at(25*time.Second))})
	assert.Zero(t, expired.Len())
	assert.Equal(t, used, arena.Usage())
	assert.True(t, at(20*time.Second).Equal(cls.Table().IntervalStart()))
}

func TestDispatch_RelevanceOracle(t *testing.T) {
	wanted := mustClassifier(&portClassifier{name: "wanted"}, 4, 10*time.Second, 0)
	ignored := mustClassifier(&portClassifier{name: "ignored"}, 4, 10*time.Second, 0)
	d, _, _ := newTestDispatcher(staticOracle{true, false}, wanted, ignored)

	d.Dispatch([]*model.Packet{packet(1, at(time.Second)), packet(2, at(time.Second))})

	assert.Equal(t, 2, wanted.Table().Records())
	if tbl := ignored.Table(); tbl != nil {
		assert.Zero(t, tbl.Records())
		assert.Zero(t, tbl.LiveBuckets())
		assert.Equal(t, tbl.Buckets(), tbl.FirstFull())
	}
}

func TestDispatch_SkipsInactiveAndFailedCheck(t *testing.T) {
	inactive := mustClassifier(&portClassifier{name: "inactive"}, 4, 10*time.Second, 0)
	inactive.SetStatus(StatusInactive)
	checked := mustClassifier(&checkedClassifier{portClassifier{name: "even"}}, 4, 10*time.Second, 0)
	d, _, _ := newTestDispatcher(nil, inactive, checked)

	d.Dispatch([]*model.Packet{packet(1, at(time.Second)), packet(2, at(time.Second)), packet(3, at(time.Second))})

	assert.Nil(t, inactive.Table())
	assert.Equal(t, 1, checked.Table().Records())
}

func TestDispatch_NonMonotonicTimestamps(t *testing.T) {
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, 10*time.Second, 0)
	d, expired, logs := newObservedDispatcher(cls)

	maxTS := d.Dispatch([]*model.Packet{
		packet(1, at(5*time.Second)),
		packet(1, at(3*time.Second)),
		packet(1, at(4*time.Second)),
	})

	assert.True(t, at(5*time.Second).Equal(maxTS))
	assert.True(t, at(5*time.Second).Equal(d.LastTimestamp()))
	assert.Zero(t, expired.Len())
	assert.Equal(t, uint64(3), recPackets(cls.Table().Payload(cls.Table().Head(1))))
	assert.Equal(t, uint64(3), d.stats.Packets.Load())

	// two packets went backwards in the same second; the warning is throttled
	warnings := logs.FilterMessage("Packet timestamps not increasing").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, int64(1), warnings[0].ContextMap()["index"])
	assert.True(t, at(5*time.Second).Equal(warnings[0].ContextMap()["previous"].(time.Time)))
}

func TestDispatch_OverfullTableWarns(t *testing.T) {
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, 10*time.Second, 0)
	d, expired, logs := newObservedDispatcher(cls)

	var batch []*model.Packet
	for port := uint16(1); port <= 6; port++ {
		batch = append(batch, packet(port, at(time.Second)))
	}
	d.Dispatch(batch)
	require.Equal(t, 6, cls.Table().Records())
	d.FlushAll()
	require.Equal(t, 1, expired.Len())

	hints := logs.FilterMessage("Flow table overfull, consider more buckets").All()
	require.Len(t, hints, 1)
	fields := hints[0].ContextMap()
	assert.Equal(t, "flows", fields["classifier"])
	assert.Equal(t, int64(6), fields["records"])
	assert.Equal(t, int64(4), fields["buckets"])
	assert.Equal(t, int64(4), fields["live"])

	// a table within its bucket count flushes without the hint
	logs.TakeAll()
	d.Dispatch([]*model.Packet{packet(1, at(11*time.Second))})
	d.FlushAll()
	assert.Zero(t, logs.FilterMessage("Flow table overfull, consider more buckets").Len())
	assert.Equal(t, 1, logs.FilterMessage("Flushing table").Len())
}

func TestDispatch_FlushAll(t *testing.T) {
	a := mustClassifier(&portClassifier{name: "a"}, 4, 10*time.Second, 0)
	b := mustClassifier(&portClassifier{name: "b"}, 4, 10*time.Second, 0)
	d, expired, _ := newTestDispatcher(staticOracle{true, false}, a, b)

	d.Dispatch([]*model.Packet{packet(1, at(time.Second))})
	d.FlushAll()

	// only the table with records is handed on
	assert.Equal(t, 1, expired.Len())
	assert.Nil(t, a.Table())
	assert.Nil(t, b.Table())
	assert.Equal(t, uint64(1), d.stats.FinalFlushes.Load())
}

type checkedClassifier struct {
	portClassifier
}

func (c *checkedClassifier) Callbacks() model.Callbacks {
	cb := c.portClassifier.Callbacks()
	cb.Check = func(pkt *model.Packet) bool { return pkt.FiveTuple.SrcPort%2 == 0 }
	return cb
}
