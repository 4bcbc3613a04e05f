package export

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"NetSpectra/internal/model"

	"go.uber.org/zap"
)

// DirLayout is the time format of the per-interval directories. It keeps
// nanoseconds so that sub-second flush intervals get their own directory.
const DirLayout = "2006-01-02_15-04-05.000000000"

// SummaryData holds the metadata of one classifier interval on disk.
type SummaryData struct {
	Classifier    string `json:"classifier"`
	IntervalStart string `json:"interval_start"`
	Interval      string `json:"interval"`
	Buckets       int    `json:"buckets"`
	Parts         int    `json:"parts"`
	TotalRecords  int    `json:"total_records"`
	TotalFlows    int    `json:"total_flows"`
	Written       string `json:"written"`
}

// GobWriter stores each flow set as a gob file under
// rootPath/<interval start>/<classifier>/, next to a summary.json.
// A pressure flush produces several parts for the same interval.
type GobWriter struct {
	rootPath  string
	logger    *zap.Logger
	summaries map[string]*SummaryData
}

// NewGobWriter creates a gob writer rooted at rootPath.
func NewGobWriter(rootPath string, logger *zap.Logger) *GobWriter {
	return &GobWriter{rootPath: rootPath, logger: logger, summaries: make(map[string]*SummaryData)}
}

// IntervalDir returns the directory a flow set is written to.
func IntervalDir(rootPath string, set *model.FlowSet) string {
	return filepath.Join(rootPath, set.IntervalStart.UTC().Format(DirLayout), set.Classifier)
}

func (w *GobWriter) Write(_ context.Context, set *model.FlowSet) error {
	if len(set.Flows) == 0 {
		return nil
	}
	dir := IntervalDir(w.rootPath, set)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	summary, ok := w.summaries[dir]
	if !ok {
		summary = &SummaryData{
			Classifier:    set.Classifier,
			IntervalStart: set.IntervalStart.UTC().Format(time.RFC3339Nano),
			Interval:      set.Interval.String(),
			Buckets:       set.Buckets,
		}
		w.summaries[dir] = summary
	}

	filePath := filepath.Join(dir, fmt.Sprintf("part_%d.dat", summary.Parts))
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(set.Flows); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", filePath, err)
	}

	summary.Parts++
	summary.TotalRecords += set.Records
	summary.TotalFlows += len(set.Flows)
	summary.Written = time.Now().UTC().Format(time.RFC3339)
	if err := writeSummary(filepath.Join(dir, "summary.json"), summary); err != nil {
		return err
	}

	w.logger.Debug("Wrote flow set", zap.String("path", filePath), zap.Int("flows", len(set.Flows)))
	return nil
}

func writeSummary(path string, summary *SummaryData) error {
	summaryFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadPart decodes one gob part written by GobWriter.
func ReadPart(path string) ([]*model.Flow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	var flows []*model.Flow
	if err := gob.NewDecoder(file).Decode(&flows); err != nil {
		return nil, fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return flows, nil
}

func (w *GobWriter) Name() string { return "gob" }

func (w *GobWriter) Close() error { return nil }
