package export

import (
	"context"
	"fmt"
	"time"

	"NetSpectra/internal/config"
	"NetSpectra/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    IntervalStart DateTime64(9),
    Classifier    String,
    FlowKey       String,
    Seq           UInt32,
    SrcIP         Nullable(String),
    DstIP         Nullable(String),
    SrcPort       Nullable(UInt16),
    DstPort       Nullable(UInt16),
    Protocol      Nullable(UInt8),
    StartTime     DateTime64(6),
    EndTime       DateTime64(6),
    ByteCount     UInt64,
    PacketCount   UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(IntervalStart)
ORDER BY (Classifier, IntervalStart, FlowKey, Seq);
`

const insertStatement = "INSERT INTO flow_records"

// ClickHouseWriter inserts every flow of a flow set into the flow_records table.
type ClickHouseWriter struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("Successfully connected to ClickHouse and ensured table exists",
		zap.String("host", cfg.Host), zap.String("database", cfg.Database))

	return &ClickHouseWriter{conn: conn, logger: logger}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// row returns the column values of one flow in table order.
func row(set *model.FlowSet, f *model.Flow) []interface{} {
	return []interface{}{
		set.IntervalStart,
		set.Classifier,
		f.Key,
		uint32(f.Seq),
		getNullableField(f.Fields, "SrcIP"),
		getNullableField(f.Fields, "DstIP"),
		getNullableField(f.Fields, "SrcPort"),
		getNullableField(f.Fields, "DstPort"),
		getNullableField(f.Fields, "Protocol"),
		f.StartTime,
		f.EndTime,
		f.ByteCount,
		f.PacketCount,
	}
}

// getNullableField safely gets a value from the map for insertion.
func getNullableField(fields map[string]interface{}, key string) interface{} {
	if val, ok := fields[key]; ok {
		return val
	}
	return nil
}

func (w *ClickHouseWriter) Write(ctx context.Context, set *model.FlowSet) error {
	if len(set.Flows) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, insertStatement)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, f := range set.Flows {
		if err := batch.Append(row(set, f)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Debug("Wrote flows to ClickHouse",
		zap.String("classifier", set.Classifier), zap.Int("flows", len(set.Flows)))
	return nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

func (w *ClickHouseWriter) Close() error { return w.conn.Close() }
