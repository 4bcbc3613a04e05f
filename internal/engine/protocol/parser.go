package protocol

import (
	"errors"
	"fmt"

	"NetSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIP is returned for frames without an IPv4 or IPv6 header.
var ErrNotIP = errors.New("not an IP packet")

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// ParsePacket uses gopacket to decode a raw frame and extract key information.
// first is the link type of the capture, e.g. layers.LinkTypeEthernet.
//
// IP packets without a TCP, UDP or SCTP header (ICMP, fragments) are returned
// with HasL4 unset and zero ports.
func ParsePacket(data []byte, ci gopacket.CaptureInfo, first gopacket.Decoder) (*model.Packet, error) {
	packet := gopacket.NewPacket(data, first, decodeOptions)

	info := &model.Packet{
		Timestamp: ci.Timestamp,
		Length:    ci.Length,
		Payload:   data,
	}
	if info.Length == 0 {
		info.Length = len(data)
	}

	var ft model.FiveTuple
	switch l := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		ft.SrcIP = l.SrcIP
		ft.DstIP = l.DstIP
		ft.Protocol = uint8(l.Protocol)
	case *layers.IPv6:
		ft.SrcIP = l.SrcIP
		ft.DstIP = l.DstIP
		ft.Protocol = uint8(l.NextHeader)
	default:
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotIP, errLayer.Error())
		}
		return nil, ErrNotIP
	}

	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		info.HasL4 = true
	case *layers.UDP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		info.HasL4 = true
	case *layers.SCTP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		info.HasL4 = true
	}

	info.FiveTuple = ft
	return info, nil
}
