package pcap

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"NetSpectra/internal/engine/protocol"
	"NetSpectra/internal/model"

	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const (
	promiscuous = true
	// readTimeout bounds how long Next blocks without traffic.
	readTimeout = 250 * time.Millisecond
)

// LiveSource captures from a network interface.
type LiveSource struct {
	iface   string
	snaplen int32
	bpf     string
	logger  *zap.Logger

	mu      sync.Mutex // held while reading
	handle  *pcap.Handle
	stopped atomic.Bool
	closed  sync.Once
}

// NewLiveSource creates a source for iface. bpf may be empty.
func NewLiveSource(iface string, snaplen int32, bpf string, logger *zap.Logger) *LiveSource {
	return &LiveSource{iface: iface, snaplen: snaplen, bpf: bpf, logger: logger}
}

// Start opens the device for live capture.
func (s *LiveSource) Start() error {
	inactive, err := pcap.NewInactiveHandle(s.iface)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", s.iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(s.snaplen)); err != nil {
		return fmt.Errorf("failed to set snaplen on %s: %w", s.iface, err)
	}
	if err := inactive.SetPromisc(promiscuous); err != nil {
		return fmt.Errorf("failed to set promiscuous mode on %s: %w", s.iface, err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout on %s: %w", s.iface, err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("error activating device %s: %w", s.iface, err)
	}
	if s.bpf != "" {
		if err := handle.SetBPFFilter(s.bpf); err != nil {
			handle.Close()
			return fmt.Errorf("invalid BPF filter %q: %w", s.bpf, err)
		}
	}
	s.handle = handle
	s.logger.Info("Capture started", zap.String("iface", s.iface), zap.Int32("snaplen", s.snaplen), zap.String("bpf", s.bpf))
	return nil
}

// Next returns the packets that arrived within one read timeout, up to max.
// An empty batch means the link was idle.
func (s *LiveSource) Next(max int) ([]*model.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []*model.Packet
	for len(batch) < max {
		if s.stopped.Load() {
			s.close()
			if len(batch) > 0 {
				return batch, nil
			}
			return nil, io.EOF
		}
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				break
			}
			if errors.Is(err, io.EOF) {
				return batch, io.EOF
			}
			return batch, fmt.Errorf("failed to read from %s: %w", s.iface, err)
		}
		pkt, err := protocol.ParsePacket(data, ci, s.handle.LinkType())
		if err != nil {
			continue
		}
		batch = append(batch, pkt)
	}
	return batch, nil
}

// Stop ends the capture. A read in progress returns within one read timeout.
func (s *LiveSource) Stop() {
	s.stopped.Store(true)
	if s.mu.TryLock() {
		s.close()
		s.mu.Unlock()
	}
}

func (s *LiveSource) close() {
	s.closed.Do(func() {
		if s.handle == nil {
			return
		}
		if stats, err := s.handle.Stats(); err == nil {
			s.logger.Info("Capture stopped",
				zap.String("iface", s.iface),
				zap.Int("received", stats.PacketsReceived),
				zap.Int("dropped", stats.PacketsDropped))
		}
		s.handle.Close()
	})
}

func (s *LiveSource) Name() string           { return "live:" + s.iface }
func (s *LiveSource) Kind() model.SourceKind { return model.SourceLive }
func (s *LiveSource) ProvidesL4() bool       { return true }
