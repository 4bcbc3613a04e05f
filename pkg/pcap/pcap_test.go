package pcap

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"NetSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Unix(1_700_000_000, 0).UTC()

func writeFrames(t *testing.T, ng bool, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var write func(gopacket.CaptureInfo, []byte) error
	if ng {
		w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
		require.NoError(t, err)
		defer func() { require.NoError(t, w.Flush()) }()
		write = w.WritePacket
	} else {
		w := pcapgo.NewWriter(f)
		require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
		write = w.WritePacket
	}

	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, write(ci, frame))
	}
	return path
}

func tcpFrame(t *testing.T, sport uint16) []byte {
	t.Helper()
	frame, err := BuildFrame(FrameSpec{
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		SrcPort: sport, DstPort: 80, Payload: []byte("payload"),
	})
	require.NoError(t, err)
	return frame
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: srcMAC, SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
		}))
	return buf.Bytes()
}

func readAll(t *testing.T, src model.PacketSource, max int) [][]*model.Packet {
	t.Helper()
	var batches [][]*model.Packet
	for {
		batch, err := src.Next(max)
		if err == io.EOF {
			assert.Empty(t, batch)
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func TestFileSource_Pcap(t *testing.T) {
	path := writeFrames(t, false, [][]byte{tcpFrame(t, 1), arpFrame(t), tcpFrame(t, 2), tcpFrame(t, 3)})

	src := NewFileSource(path, zap.NewNop())
	require.NoError(t, src.Start())
	defer src.Stop()

	assert.Equal(t, model.SourceFile, src.Kind())
	assert.True(t, src.ProvidesL4())
	assert.Equal(t, "file:test.pcap", src.Name())

	batches := readAll(t, src, 2)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)

	assert.Equal(t, uint16(1), batches[0][0].FiveTuple.SrcPort)
	assert.Equal(t, uint16(2), batches[0][1].FiveTuple.SrcPort)
	assert.True(t, start.Add(2*time.Second).Equal(batches[0][1].Timestamp))
	assert.Equal(t, uint16(3), batches[1][0].FiveTuple.SrcPort)
	assert.Equal(t, uint64(1), src.Skipped())
}

func TestFileSource_PcapNG(t *testing.T) {
	path := writeFrames(t, true, [][]byte{tcpFrame(t, 7), tcpFrame(t, 8)})

	src := NewFileSource(path, zap.NewNop())
	require.NoError(t, src.Start())
	defer src.Stop()

	batches := readAll(t, src, 10)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, uint16(8), batches[0][1].FiveTuple.SrcPort)
}

func TestFileSource_Missing(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.pcap"), zap.NewNop())
	assert.Error(t, src.Start())
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	n, err := Generate(f, GenerateOptions{Packets: 250, Flows: 10, Start: start, Step: 10 * time.Millisecond, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, 250, n)

	src := NewFileSource(path, zap.NewNop())
	require.NoError(t, src.Start())
	defer src.Stop()

	total := 0
	flows := map[string]bool{}
	var last time.Time
	for _, batch := range readAll(t, src, 64) {
		for _, p := range batch {
			total++
			assert.False(t, p.Timestamp.Before(last))
			last = p.Timestamp
			ft := p.FiveTuple
			flows[fmt.Sprintf("%s:%d-%s:%d/%d", ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort, ft.Protocol)] = true
		}
	}
	assert.Equal(t, 250, total)
	assert.LessOrEqual(t, len(flows), 10)
	assert.True(t, start.Add(2490*time.Millisecond).Equal(last))
}
