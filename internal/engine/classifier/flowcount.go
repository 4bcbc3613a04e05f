package classifier

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"NetSpectra/internal/config"
	"NetSpectra/internal/factory"
	"NetSpectra/internal/model"
)

func init() {
	factory.RegisterClassifier("flowcount", func(def config.ClassifierDef) (model.Classifier, error) {
		return NewFlowCount(def.Name, def.KeyFields, def.MaxPackets)
	})
}

// counters trails the key in every record: first seen, last seen, packets, bytes.
const countersSize = 32

// FlowCount counts packets and bytes per flow, where a flow is defined by
// the configured key fields. A record holding MaxPackets packets is full and
// the flow continues in a fresh record.
type FlowCount struct {
	name       string
	key        *KeyLayout
	maxPackets uint64
	scratch    [MaxKeySize]byte
}

// NewFlowCount creates a flow counter keyed by keyFields.
func NewFlowCount(name string, keyFields []string, maxPackets uint64) (*FlowCount, error) {
	key, err := NewKeyLayout(keyFields)
	if err != nil {
		return nil, fmt.Errorf("failed to create flowcount classifier '%s': %w", name, err)
	}
	return &FlowCount{name: name, key: key, maxPackets: maxPackets}, nil
}

func (c *FlowCount) Name() string { return c.name }

// RequiresL4 is true when a port is part of the key.
func (c *FlowCount) RequiresL4() bool { return c.key.HasPorts() }

// Callbacks are invoked from the capture goroutine only, so the scratch key
// buffer is never shared.
func (c *FlowCount) Callbacks() model.Callbacks {
	size := c.key.Size()
	return model.Callbacks{
		Check: func(pkt *model.Packet) bool {
			return pkt.HasL4 || !c.RequiresL4()
		},
		Hash: func(pkt *model.Packet) uint32 {
			k := c.scratch[:size]
			c.key.Encode(k, &pkt.FiveTuple)
			return MurmurHash3(k, 0)
		},
		Match: func(pkt *model.Packet, rec []byte) bool {
			k := c.scratch[:size]
			c.key.Encode(k, &pkt.FiveTuple)
			return bytes.Equal(rec[:size], k)
		},
		Update: func(pkt *model.Packet, rec []byte, isNew bool) bool {
			ctr := rec[size:]
			ts := uint64(pkt.Timestamp.UnixNano())
			if isNew {
				c.key.Encode(rec[:size], &pkt.FiveTuple)
				binary.LittleEndian.PutUint64(ctr[0:], ts)
			}
			binary.LittleEndian.PutUint64(ctr[8:], ts)
			packets := binary.LittleEndian.Uint64(ctr[16:]) + 1
			binary.LittleEndian.PutUint64(ctr[16:], packets)
			binary.LittleEndian.PutUint64(ctr[24:], binary.LittleEndian.Uint64(ctr[24:])+uint64(pkt.Length))
			return c.maxPackets > 0 && packets >= c.maxPackets
		},
		RecordSize: size + countersSize,
	}
}

// Decode converts a record into a flow for export.
func (c *FlowCount) Decode(rec []byte) *model.Flow {
	size := c.key.Size()
	key, fields := c.key.Decode(rec[:size])
	return decodeCounters(key, fields, rec[size:])
}

func decodeCounters(key string, fields map[string]interface{}, ctr []byte) *model.Flow {
	return &model.Flow{
		Key:         key,
		Fields:      fields,
		StartTime:   time.Unix(0, int64(binary.LittleEndian.Uint64(ctr[0:]))).UTC(),
		EndTime:     time.Unix(0, int64(binary.LittleEndian.Uint64(ctr[8:]))).UTC(),
		PacketCount: binary.LittleEndian.Uint64(ctr[16:]),
		ByteCount:   binary.LittleEndian.Uint64(ctr[24:]),
	}
}
