package relevance

import (
	"fmt"
	"net"
	"strings"

	"NetSpectra/internal/config"
	"NetSpectra/internal/model"

	"github.com/google/gopacket/layers"
)

// All declares every packet relevant to every classifier.
type All struct{}

func (All) Classify(batch []*model.Packet, classifiers int) [][]bool {
	which := make([][]bool, classifiers)
	row := make([]bool, len(batch))
	for i := range row {
		row[i] = true
	}
	for i := range which {
		which[i] = row
	}
	return which
}

// Filter is the compiled form of a classifier's filter section. The zero
// Filter accepts everything.
type Filter struct {
	protocols map[uint8]bool
	ports     map[uint16]bool
	nets      []*net.IPNet
}

// NewFilter compiles def. Protocols are names (tcp, udp, icmp, icmpv6) or numbers.
func NewFilter(def config.FilterDef) (*Filter, error) {
	f := &Filter{}
	if len(def.Protocols) > 0 {
		f.protocols = make(map[uint8]bool, len(def.Protocols))
		for _, p := range def.Protocols {
			proto, err := parseProtocol(p)
			if err != nil {
				return nil, err
			}
			f.protocols[proto] = true
		}
	}
	if len(def.Ports) > 0 {
		f.ports = make(map[uint16]bool, len(def.Ports))
		for _, p := range def.Ports {
			f.ports[p] = true
		}
	}
	for _, n := range def.Nets {
		_, ipnet, err := net.ParseCIDR(n)
		if err != nil {
			return nil, fmt.Errorf("invalid filter net %q: %w", n, err)
		}
		f.nets = append(f.nets, ipnet)
	}
	return f, nil
}

// Match reports whether pkt passes every configured criterion. A packet
// matches a port or net criterion through either its source or destination.
func (f *Filter) Match(pkt *model.Packet) bool {
	ft := &pkt.FiveTuple
	if f.protocols != nil && !f.protocols[ft.Protocol] {
		return false
	}
	if f.ports != nil && (!pkt.HasL4 || !(f.ports[ft.SrcPort] || f.ports[ft.DstPort])) {
		return false
	}
	if len(f.nets) > 0 {
		for _, n := range f.nets {
			if n.Contains(ft.SrcIP) || n.Contains(ft.DstIP) {
				return true
			}
		}
		return false
	}
	return true
}

func parseProtocol(p string) (uint8, error) {
	switch strings.ToLower(p) {
	case "tcp":
		return uint8(layers.IPProtocolTCP), nil
	case "udp":
		return uint8(layers.IPProtocolUDP), nil
	case "icmp":
		return uint8(layers.IPProtocolICMPv4), nil
	case "icmpv6":
		return uint8(layers.IPProtocolICMPv6), nil
	case "sctp":
		return uint8(layers.IPProtocolSCTP), nil
	}
	var n uint8
	if _, err := fmt.Sscanf(p, "%d", &n); err != nil {
		return 0, fmt.Errorf("unknown protocol %q", p)
	}
	return n, nil
}

// FieldOracle answers relevance with one Filter per classifier, in
// classifier order.
type FieldOracle struct {
	filters []*Filter
}

// NewFieldOracle compiles the filter of every classifier definition.
func NewFieldOracle(defs []config.ClassifierDef) (*FieldOracle, error) {
	o := &FieldOracle{filters: make([]*Filter, len(defs))}
	for i, def := range defs {
		f, err := NewFilter(def.Filter)
		if err != nil {
			return nil, fmt.Errorf("classifier '%s': %w", def.Name, err)
		}
		o.filters[i] = f
	}
	return o, nil
}

func (o *FieldOracle) Classify(batch []*model.Packet, classifiers int) [][]bool {
	which := make([][]bool, classifiers)
	for i := range which {
		row := make([]bool, len(batch))
		var f *Filter
		if i < len(o.filters) {
			f = o.filters[i]
		}
		for j, pkt := range batch {
			row[j] = f == nil || f.Match(pkt)
		}
		which[i] = row
	}
	return which
}
