package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"NetSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// consume acknowledges every batch and counts the packets it carried.
func consume(h *HandOff) (wait func() (packets uint64, tables int)) {
	var wg sync.WaitGroup
	var total uint64
	var n int
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := range h.Batches() {
			for _, tbl := range b.Tables {
				n++
				tbl.Scan(func(id RecordID, _ int) {
					total += recPackets(tbl.Payload(id))
				})
			}
			h.Ack(b.Ack())
		}
	}()
	return func() (uint64, int) {
		wg.Wait()
		return total, n
	}
}

func runLoop(t *testing.T, ctx context.Context, l *Loop) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not terminate")
	}
}

func TestLoop_FileSourceEndToEnd(t *testing.T) {
	arena := NewArena(1<<22, zap.NewNop())
	cls := mustClassifier(&portClassifier{name: "flows"}, 64, 10*time.Second, 0)

	var pkts []*model.Packet
	for i := 0; i < 300; i++ {
		pkts = append(pkts, packet(uint16(i%7), at(time.Duration(i)*100*time.Millisecond)))
	}
	src := &sliceSource{name: "file", kind: model.SourceFile, l4: true, packets: pkts}

	h := NewHandOff(arena)
	wait := consume(h)
	l := NewLoop(arena, []*Classifier{cls}, nil, h, []model.PacketSource{src},
		Options{BatchSize: 16, PollWait: 10 * time.Millisecond}, zap.NewNop())

	runLoop(t, context.Background(), l)
	packets, tables := wait()

	// 30 seconds of traffic over 10 second intervals
	assert.Equal(t, uint64(300), packets)
	assert.Equal(t, 3, tables)
	assert.Zero(t, arena.Usage(), "every table memory returned by the consumer")
	assert.True(t, src.isStopped())

	stats := l.Stats()
	assert.Equal(t, uint64(300), stats.Packets.Load())
	assert.Equal(t, uint64(2), stats.IntervalFlushes.Load())
	assert.Equal(t, uint64(1), stats.FinalFlushes.Load())
	assert.Zero(t, stats.SourcesLeft())
}

func TestLoop_MemoryPressureWithFileSource(t *testing.T) {
	// a tight budget only works if file reads pause while the consumer catches up
	arena := NewArena(64*1024, zap.NewNop(), WithChunkSize(1024))
	cls := mustClassifier(&portClassifier{name: "flows"}, 16, time.Hour, 0)

	var pkts []*model.Packet
	for i := 0; i < 4000; i++ {
		pkts = append(pkts, packet(uint16(i), at(time.Duration(i)*time.Millisecond)))
	}
	src := &sliceSource{name: "file", kind: model.SourceFile, l4: true, packets: pkts}

	h := NewHandOff(arena)
	wait := consume(h)
	l := NewLoop(arena, []*Classifier{cls}, nil, h, []model.PacketSource{src},
		Options{BatchSize: 32, PollWait: 5 * time.Millisecond, FlushThreshold: 0.25}, zap.NewNop())

	runLoop(t, context.Background(), l)
	packets, _ := wait()

	assert.Equal(t, uint64(4000), packets)
	assert.Positive(t, l.Stats().PressureFlushes.Load())
	assert.LessOrEqual(t, arena.Peak(), arena.Budget())
	assert.Zero(t, arena.Usage())
}

func TestLoop_IncompatibleClassifier(t *testing.T) {
	arena := NewArena(1<<20, zap.NewNop())
	needsPorts := mustClassifier(&portClassifier{name: "ports", needsL4: true}, 4, time.Second, 0)
	plain := mustClassifier(&portClassifier{name: "plain"}, 4, time.Second, 0)
	src := &sliceSource{name: "l2", kind: model.SourceFile, packets: []*model.Packet{packet(1, at(0))}}

	h := NewHandOff(arena)
	wait := consume(h)
	l := NewLoop(arena, []*Classifier{needsPorts, plain}, nil, h, []model.PacketSource{src},
		Options{PollWait: 10 * time.Millisecond}, zap.NewNop())

	runLoop(t, context.Background(), l)
	_, tables := wait()

	assert.Equal(t, StatusIncompatible, needsPorts.Status())
	assert.Equal(t, StatusActive, plain.Status())
	assert.Equal(t, 1, tables)
}

func TestLoop_CancelStopsLiveSource(t *testing.T) {
	arena := NewArena(1<<20, zap.NewNop())
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, time.Second, 0)
	src := newBlockingSource()

	h := NewHandOff(arena)
	wait := consume(h)
	l := NewLoop(arena, []*Classifier{cls}, nil, h, []model.PacketSource{src},
		Options{PollWait: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	runLoop(t, ctx, l)
	_, tables := wait()

	assert.Zero(t, tables)
	assert.Zero(t, arena.Usage())
}

func TestLoop_NoSources(t *testing.T) {
	arena := NewArena(1<<20, zap.NewNop())
	cls := mustClassifier(&portClassifier{name: "flows"}, 4, time.Second, 0)
	h := NewHandOff(arena)
	wait := consume(h)

	l := NewLoop(arena, []*Classifier{cls}, nil, h, nil, Options{}, zap.NewNop())
	runLoop(t, context.Background(), l)
	_, tables := wait()
	assert.Zero(t, tables)
}
