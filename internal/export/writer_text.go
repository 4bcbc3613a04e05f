package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"NetSpectra/internal/model"

	"go.uber.org/zap"
)

// TextWriter appends one line per flow to flows.txt in the interval directory.
type TextWriter struct {
	rootPath string
	logger   *zap.Logger
}

// NewTextWriter creates a text writer rooted at rootPath.
func NewTextWriter(rootPath string, logger *zap.Logger) *TextWriter {
	return &TextWriter{rootPath: rootPath, logger: logger}
}

// FormatFlow renders a flow as a single text line.
func FormatFlow(f *model.Flow) string {
	return fmt.Sprintf("%s seq=%d packets=%d bytes=%d first=%s last=%s",
		f.Key, f.Seq, f.PacketCount, f.ByteCount,
		f.StartTime.UTC().Format("15:04:05.000000"), f.EndTime.UTC().Format("15:04:05.000000"))
}

func (w *TextWriter) Write(_ context.Context, set *model.FlowSet) error {
	if len(set.Flows) == 0 {
		return nil
	}
	dir := IntervalDir(w.rootPath, set)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(dir, "flows.txt")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open text file '%s': %w", filePath, err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	for _, f := range set.Flows {
		if _, err := fmt.Fprintln(bw, FormatFlow(f)); err != nil {
			return fmt.Errorf("failed to write flow to file: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write flow to file: %w", err)
	}

	w.logger.Debug("Wrote flows as text", zap.String("path", filePath), zap.Int("flows", len(set.Flows)))
	return nil
}

func (w *TextWriter) Name() string { return "text" }

func (w *TextWriter) Close() error { return nil }
