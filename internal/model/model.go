package model

import (
	"net"
	"time"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Packet is the read-only view of a captured packet handed to classifiers.
// The capture stage never mutates it.
type Packet struct {
	Timestamp time.Time
	Length    int
	Payload   []byte
	FiveTuple FiveTuple
	// HasL4 reports whether FiveTuple carries transport ports.
	HasL4 bool
}

// Flow represents one aggregate record decoded for the downstream consumer.
// The definition of the flow is determined by the classifier that produced it.
type Flow struct {
	// The value of the key(s) that defined this flow.
	// e.g., "1.2.3.4" if aggregated by SrcIP, or "1.2.3.4-80-2.3.4.5-443" for a 5-tuple.
	Key         string
	Fields      map[string]interface{}
	StartTime   time.Time
	EndTime     time.Time
	ByteCount   uint64
	PacketCount uint64
	// Seq is the position of this record in its flow history (0 = oldest).
	Seq int
}

// FlowSet is everything one flushed table produced, in scan order.
type FlowSet struct {
	Classifier    string
	IntervalStart time.Time
	Interval      time.Duration
	Buckets       int
	Records       int
	Flows         []*Flow
}
