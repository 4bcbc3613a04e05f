package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"NetSpectra/internal/engine/protocol"
	"NetSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

const ngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng file.
type FileSource struct {
	path   string
	logger *zap.Logger

	f       *os.File
	r       packetReader
	link    layers.LinkType
	skipped uint64
	eof     bool
	stop    sync.Once
}

// NewFileSource creates a source for the capture file at path.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Start opens the file and detects its format.
func (s *FileSource) Start() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file: %w", err)
	}
	br := bufio.NewReaderSize(f, 1<<16)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read pcap header of %s: %w", s.path, err)
	}

	var r packetReader
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to open pcap reader for %s: %w", s.path, err)
	}

	s.f = f
	s.r = r
	s.link = r.LinkType()
	s.logger.Info("Reading packets from pcap file", zap.String("path", s.path), zap.Stringer("link_type", s.link))
	return nil
}

// Next reads up to max IP packets. Frames the parser rejects are skipped.
func (s *FileSource) Next(max int) ([]*model.Packet, error) {
	if s.r == nil || s.eof {
		return nil, io.EOF
	}
	batch := make([]*model.Packet, 0, max)
	for len(batch) < max {
		data, ci, err := s.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.eof = true
				if s.skipped > 0 {
					s.logger.Info("Skipped non-IP frames", zap.String("path", s.path), zap.Uint64("count", s.skipped))
				}
				break
			}
			return batch, fmt.Errorf("failed to read packet from %s: %w", s.path, err)
		}
		pkt, err := protocol.ParsePacket(data, ci, s.link)
		if err != nil {
			s.skipped++
			continue
		}
		batch = append(batch, pkt)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Stop closes the file. A concurrent Next fails with a read error.
func (s *FileSource) Stop() {
	s.stop.Do(func() {
		if s.f != nil {
			s.f.Close()
		}
	})
}

func (s *FileSource) Name() string           { return "file:" + filepath.Base(s.path) }
func (s *FileSource) Kind() model.SourceKind { return model.SourceFile }
func (s *FileSource) ProvidesL4() bool       { return true }

// Skipped returns the number of frames that were not IP packets.
func (s *FileSource) Skipped() uint64 { return s.skipped }
