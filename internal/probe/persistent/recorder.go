package persistent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

const defaultBufferSize = 10000

type frame struct {
	data []byte
	ci   gopacket.CaptureInfo
}

// Recorder keeps a local pcap copy of everything a probe publishes, so the
// same traffic can later be replayed through a file source.
type Recorder struct {
	frames  chan frame
	dropped atomic.Uint64
	wg      sync.WaitGroup
	path    string
	logger  *zap.Logger
}

// NewRecorder creates a timestamped pcap file in dir and starts the writer
// goroutine. A single writer keeps packets in capture order.
func NewRecorder(dir string, link layers.LinkType, snaplen uint32, bufferSize int, logger *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistence directory: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+".pcap")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	bw := bufio.NewWriter(file)
	pw := pcapgo.NewWriter(bw)
	if err := pw.WriteFileHeader(snaplen, link); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap file header: %w", err)
	}

	r := &Recorder{
		frames: make(chan frame, bufferSize),
		path:   path,
		logger: logger,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for f := range r.frames {
			if err := pw.WritePacket(f.ci, f.data); err != nil {
				logger.Warn("Failed to write packet to pcap", zap.Error(err))
			}
		}
		if err := bw.Flush(); err != nil {
			logger.Warn("Failed to flush pcap", zap.Error(err))
		}
		if err := file.Close(); err != nil {
			logger.Warn("Error closing pcap file", zap.Error(err))
		}
	}()

	logger.Info("Recording packets", zap.String("path", path))
	return r, nil
}

// Record queues a frame. When the writer falls behind the frame is dropped.
func (r *Recorder) Record(data []byte, ci gopacket.CaptureInfo) {
	select {
	case r.frames <- frame{data: data, ci: ci}:
	default:
		r.dropped.Add(1)
	}
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// Dropped returns the number of frames lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes pending frames and closes the file.
func (r *Recorder) Close() {
	close(r.frames)
	r.wg.Wait()
	r.logger.Info("Recorder stopped", zap.String("path", r.path), zap.Uint64("dropped", r.Dropped()))
}
