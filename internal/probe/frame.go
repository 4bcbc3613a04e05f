package probe

import (
	"fmt"
	"strconv"
	"time"

	"NetSpectra/internal/engine/protocol"
	"NetSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/nats-io/nats.go"
)

// Raw frames travel as the message body; capture metadata rides in headers.
const (
	headerTimestamp = "Ns-Timestamp"
	headerLength    = "Ns-Length"
	headerLinkType  = "Ns-Link"
)

// NewFrameMsg wraps one captured frame into a NATS message.
func NewFrameMsg(subject string, data []byte, ci gopacket.CaptureInfo, link layers.LinkType) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerTimestamp, strconv.FormatInt(ci.Timestamp.UnixNano(), 10))
	msg.Header.Set(headerLength, strconv.Itoa(ci.Length))
	msg.Header.Set(headerLinkType, strconv.Itoa(int(link)))
	return msg
}

// DecodeFrameMsg parses a message produced by NewFrameMsg.
func DecodeFrameMsg(msg *nats.Msg) (*model.Packet, error) {
	ns, err := strconv.ParseInt(msg.Header.Get(headerTimestamp), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad %s header: %w", headerTimestamp, err)
	}
	length, err := strconv.Atoi(msg.Header.Get(headerLength))
	if err != nil {
		return nil, fmt.Errorf("bad %s header: %w", headerLength, err)
	}
	link := layers.LinkTypeEthernet
	if v := msg.Header.Get(headerLinkType); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad %s header: %w", headerLinkType, err)
		}
		link = layers.LinkType(n)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, ns).UTC(),
		CaptureLength: len(msg.Data),
		Length:        length,
	}
	return protocol.ParsePacket(msg.Data, ci, link)
}
