package capture

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"NetSpectra/internal/model"
)

var epoch = time.Unix(1_700_000_000, 0).UTC()

func at(d time.Duration) time.Time {
	return epoch.Add(d)
}

// portClassifier keys flows by source port. Its record is
// port(2) | packets(8) | bytes(8).
type portClassifier struct {
	name    string
	hash    func(port uint16) uint32
	full    func(packets uint64) bool
	needsL4 bool
	noHash  bool
}

const portRecordSize = 18

func (c *portClassifier) Name() string     { return c.name }
func (c *portClassifier) RequiresL4() bool { return c.needsL4 }

func (c *portClassifier) Callbacks() model.Callbacks {
	cb := model.Callbacks{
		Match: func(pkt *model.Packet, rec []byte) bool {
			return binary.BigEndian.Uint16(rec) == pkt.FiveTuple.SrcPort
		},
		Update: func(pkt *model.Packet, rec []byte, isNew bool) bool {
			if isNew {
				binary.BigEndian.PutUint16(rec, pkt.FiveTuple.SrcPort)
			}
			n := binary.BigEndian.Uint64(rec[2:]) + 1
			binary.BigEndian.PutUint64(rec[2:], n)
			binary.BigEndian.PutUint64(rec[10:], binary.BigEndian.Uint64(rec[10:])+uint64(pkt.Length))
			return c.full != nil && c.full(n)
		},
		RecordSize: portRecordSize,
	}
	if !c.noHash {
		cb.Hash = func(pkt *model.Packet) uint32 {
			if c.hash != nil {
				return c.hash(pkt.FiveTuple.SrcPort)
			}
			return uint32(pkt.FiveTuple.SrcPort)
		}
	}
	return cb
}

func (c *portClassifier) Decode(rec []byte) *model.Flow {
	return &model.Flow{
		Key:         strconv.Itoa(int(recPort(rec))),
		PacketCount: binary.BigEndian.Uint64(rec[2:]),
		ByteCount:   binary.BigEndian.Uint64(rec[10:]),
	}
}

func recPort(rec []byte) uint16    { return binary.BigEndian.Uint16(rec) }
func recPackets(rec []byte) uint64 { return binary.BigEndian.Uint64(rec[2:]) }

func packet(port uint16, ts time.Time) *model.Packet {
	return &model.Packet{
		Timestamp: ts,
		Length:    100,
		FiveTuple: model.FiveTuple{
			SrcIP:    net.ParseIP("10.0.0.1"),
			DstIP:    net.ParseIP("10.0.0.2"),
			SrcPort:  port,
			DstPort:  80,
			Protocol: 6,
		},
		HasL4: true,
	}
}

func mustClassifier(impl model.Classifier, buckets int, ivl, minIvl time.Duration) *Classifier {
	cls, err := NewClassifier(impl, buckets, ivl, minIvl)
	if err != nil {
		panic(err)
	}
	return cls
}

// staticOracle answers with a fixed per-classifier verdict.
type staticOracle []bool

func (o staticOracle) Classify(batch []*model.Packet, classifiers int) [][]bool {
	which := make([][]bool, classifiers)
	for i := range which {
		which[i] = make([]bool, len(batch))
		for j := range batch {
			which[i][j] = o[i]
		}
	}
	return which
}

// sliceSource replays packets in batches and then reports io.EOF.
type sliceSource struct {
	name    string
	kind    model.SourceKind
	l4      bool
	packets []*model.Packet

	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *sliceSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *sliceSource) Next(max int) ([]*model.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		return nil, io.EOF
	}
	n := min(max, len(s.packets))
	batch := s.packets[:n]
	s.packets = s.packets[n:]
	return batch, nil
}

func (s *sliceSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *sliceSource) Name() string           { return s.name }
func (s *sliceSource) Kind() model.SourceKind { return s.kind }
func (s *sliceSource) ProvidesL4() bool       { return s.l4 }

func (s *sliceSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// blockingSource never delivers packets; Next returns only once stopped.
type blockingSource struct {
	done chan struct{}
	once sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{done: make(chan struct{})}
}

func (s *blockingSource) Start() error { return nil }

func (s *blockingSource) Next(int) ([]*model.Packet, error) {
	<-s.done
	return nil, io.EOF
}

func (s *blockingSource) Stop()                  { s.once.Do(func() { close(s.done) }) }
func (s *blockingSource) Name() string           { return "blocking" }
func (s *blockingSource) Kind() model.SourceKind { return model.SourceLive }
func (s *blockingSource) ProvidesL4() bool       { return true }
