package pcap

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FrameSpec describes one synthetic Ethernet/IPv4 frame.
type FrameSpec struct {
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
	UDP              bool
	Payload          []byte
}

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// BuildFrame serializes fs into a raw Ethernet frame.
func BuildFrame(fs FrameSpec) ([]byte, error) {
	ethLayer := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    fs.SrcIP.To4(),
		DstIP:    fs.DstIP.To4(),
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}

	var transport gopacket.SerializableLayer
	if fs.UDP {
		ipLayer.Protocol = layers.IPProtocolUDP
		udpLayer := &layers.UDP{SrcPort: layers.UDPPort(fs.SrcPort), DstPort: layers.UDPPort(fs.DstPort)}
		if err := udpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
			return nil, err
		}
		transport = udpLayer
	} else {
		tcpLayer := &layers.TCP{
			SrcPort: layers.TCPPort(fs.SrcPort),
			DstPort: layers.TCPPort(fs.DstPort),
			ACK:     true,
			Window:  14600,
		}
		if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
			return nil, err
		}
		transport = tcpLayer
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, transport, gopacket.Payload(fs.Payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateOptions describes a synthetic capture.
type GenerateOptions struct {
	Packets int
	// Flows is the number of distinct 5-tuples packets are drawn from.
	Flows int
	Start time.Time
	// Step is the timestamp gap between consecutive packets.
	Step time.Duration
	Seed int64
}

// Generate writes a pcap file of random TCP and UDP packets to w and
// returns the number of packets written.
func Generate(w io.Writer, opts GenerateOptions) (int, error) {
	if opts.Flows <= 0 {
		opts.Flows = 100
	}
	if opts.Step <= 0 {
		opts.Step = time.Millisecond
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	pcapWriter := pcapgo.NewWriter(w)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return 0, fmt.Errorf("failed to write pcap header: %w", err)
	}

	flows := make([]FrameSpec, opts.Flows)
	for i := range flows {
		flows[i] = FrameSpec{
			SrcIP:   net.IP{10, byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256))},
			DstIP:   net.IP{byte(rng.Intn(223) + 1), byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256))},
			SrcPort: uint16(rng.Intn(65535-1024) + 1024),
			DstPort: []uint16{53, 80, 443, 8080}[rng.Intn(4)],
			UDP:     rng.Intn(4) == 0,
		}
	}

	for i := 0; i < opts.Packets; i++ {
		fs := flows[rng.Intn(len(flows))]
		fs.Payload = make([]byte, rng.Intn(1400)+50)
		rng.Read(fs.Payload)

		frame, err := BuildFrame(fs)
		if err != nil {
			return i, err
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     opts.Start.Add(time.Duration(i) * opts.Step),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := pcapWriter.WritePacket(ci, frame); err != nil {
			return i, fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return opts.Packets, nil
}
