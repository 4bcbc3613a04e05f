package export

import (
	"context"
	"fmt"
	"time"

	"NetSpectra/internal/config"
	"NetSpectra/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "netspectra"
	defaultTTL = 24 * time.Hour
)

// intervalSummary is what one flow set adds to its interval hash.
type intervalSummary struct {
	Flows   int64
	Records int64
	Packets int64
	Bytes   int64
}

func summarize(set *model.FlowSet) intervalSummary {
	s := intervalSummary{Flows: int64(len(set.Flows)), Records: int64(set.Records)}
	for _, f := range set.Flows {
		s.Packets += int64(f.PacketCount)
		s.Bytes += int64(f.ByteCount)
	}
	return s
}

// IntervalKey is the hash holding the running totals of one classifier
// interval, identified by its start in Unix nanoseconds.
func IntervalKey(classifier string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, classifier, start.UnixNano())
}

// IndexKey is the sorted set of interval keys of a classifier, scored by
// start time in Unix microseconds.
func IndexKey(classifier string) string {
	return fmt.Sprintf("%s:%s:intervals", keyPrefix, classifier)
}

// RedisWriter keeps per-interval totals in Redis hashes with a TTL.
type RedisWriter struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisWriter connects to Redis and verifies the connection.
func NewRedisWriter(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisWriter, error) {
	ttl := defaultTTL
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid redis ttl %q", cfg.TTL)
		}
		ttl = d
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr), zap.Duration("ttl", ttl))
	return &RedisWriter{client: client, ttl: ttl, logger: logger}, nil
}

func (w *RedisWriter) Write(ctx context.Context, set *model.FlowSet) error {
	if len(set.Flows) == 0 {
		return nil
	}
	s := summarize(set)
	key := IntervalKey(set.Classifier, set.IntervalStart)
	index := IndexKey(set.Classifier)

	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"classifier", set.Classifier,
			"interval_start", set.IntervalStart.UTC().Format(time.RFC3339Nano),
			"interval", set.Interval.String())
		pipe.HIncrBy(ctx, key, "tables", 1)
		pipe.HIncrBy(ctx, key, "flows", s.Flows)
		pipe.HIncrBy(ctx, key, "records", s.Records)
		pipe.HIncrBy(ctx, key, "packets", s.Packets)
		pipe.HIncrBy(ctx, key, "bytes", s.Bytes)
		pipe.Expire(ctx, key, w.ttl)
		pipe.ZAdd(ctx, index, redis.Z{Score: indexScore(set.IntervalStart), Member: key})
		pipe.ZRemRangeByScore(ctx, index, "-inf", fmt.Sprintf("(%d", set.IntervalStart.Add(-w.ttl).UnixMicro()))
		pipe.Expire(ctx, index, w.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update interval summary %s: %w", key, err)
	}
	return nil
}

// indexScore stays below 2^53 so the float64 score orders intervals exactly.
func indexScore(start time.Time) float64 {
	return float64(start.UnixMicro())
}

func (w *RedisWriter) Name() string { return "redis" }

func (w *RedisWriter) Close() error { return w.client.Close() }
