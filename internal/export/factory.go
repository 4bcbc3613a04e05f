package export

import (
	"context"
	"fmt"

	"NetSpectra/internal/config"
	"NetSpectra/internal/model"

	"go.uber.org/zap"
)

// NewWriters creates a writer for every enabled exporter definition. If one
// fails, the writers already created are closed.
func NewWriters(ctx context.Context, defs []config.ExporterDef, logger *zap.Logger) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		w, err := newWriter(ctx, def, logger)
		if err != nil {
			for _, w := range writers {
				w.Close()
			}
			return nil, fmt.Errorf("failed to create %s exporter: %w", def.Type, err)
		}
		logger.Info("Exporter enabled", zap.String("type", def.Type))
		writers = append(writers, w)
	}
	return writers, nil
}

func newWriter(ctx context.Context, def config.ExporterDef, logger *zap.Logger) (model.Writer, error) {
	switch def.Type {
	case "gob":
		return NewGobWriter(def.RootPath, logger), nil
	case "text":
		return NewTextWriter(def.RootPath, logger), nil
	case "clickhouse":
		return NewClickHouseWriter(ctx, def.ClickHouse, logger)
	case "nats":
		return NewNATSWriter(def.NATS.URL, def.NATS.Subject, logger)
	case "redis":
		return NewRedisWriter(ctx, def.Redis, logger)
	default:
		return nil, fmt.Errorf("unknown exporter type: '%s'", def.Type)
	}
}
