package classifier

import (
	"encoding/binary"

	"NetSpectra/internal/config"
	"NetSpectra/internal/factory"
	"NetSpectra/internal/model"
)

func init() {
	factory.RegisterClassifier("traffic", func(def config.ClassifierDef) (model.Classifier, error) {
		return NewTraffic(def.Name), nil
	})
}

// Traffic counts every packet of an interval into a single record. It relies
// on the default hash and match, so all packets share bucket 0.
type Traffic struct {
	name string
}

func NewTraffic(name string) *Traffic {
	return &Traffic{name: name}
}

func (c *Traffic) Name() string     { return c.name }
func (c *Traffic) RequiresL4() bool { return false }

func (c *Traffic) Callbacks() model.Callbacks {
	return model.Callbacks{
		Update: func(pkt *model.Packet, rec []byte, isNew bool) bool {
			ts := uint64(pkt.Timestamp.UnixNano())
			if isNew {
				binary.LittleEndian.PutUint64(rec[0:], ts)
			}
			binary.LittleEndian.PutUint64(rec[8:], ts)
			binary.LittleEndian.PutUint64(rec[16:], binary.LittleEndian.Uint64(rec[16:])+1)
			binary.LittleEndian.PutUint64(rec[24:], binary.LittleEndian.Uint64(rec[24:])+uint64(pkt.Length))
			return false
		},
		RecordSize: countersSize,
	}
}

func (c *Traffic) Decode(rec []byte) *model.Flow {
	return decodeCounters("total", nil, rec)
}
