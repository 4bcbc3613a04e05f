package manager

import (
	"context"
	"fmt"

	"NetSpectra/internal/api"
	"NetSpectra/internal/config"
	"NetSpectra/internal/engine/capture"
	_ "NetSpectra/internal/engine/classifier" // Registers the flowcount and traffic classifiers
	"NetSpectra/internal/engine/relevance"
	"NetSpectra/internal/export"
	"NetSpectra/internal/factory"
	"NetSpectra/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager wires the capture loop, the exporter and the status server of
// one process together.
type Manager struct {
	cfg      *config.Config
	loop     *capture.Loop
	handoff  *capture.HandOff
	exporter *export.Exporter
	server   *api.Server
	logger   *zap.Logger
}

// Option customises a Manager.
type Option func(*options)

type options struct {
	arenaOpts []capture.ArenaOption
	writers   []model.Writer
	noAPI     bool
}

// WithArenaOptions passes options to the arena.
func WithArenaOptions(opts ...capture.ArenaOption) Option {
	return func(o *options) { o.arenaOpts = append(o.arenaOpts, opts...) }
}

// WithWriters adds writers in front of the configured exporters.
func WithWriters(writers ...model.Writer) Option {
	return func(o *options) { o.writers = append(o.writers, writers...) }
}

// WithoutAPI disables the status server regardless of the config.
func WithoutAPI() Option {
	return func(o *options) { o.noAPI = true }
}

// NewManager activates the configured classifiers and writers for sources.
func NewManager(ctx context.Context, cfg *config.Config, sources []model.PacketSource, logger *zap.Logger, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	classifiers, err := factory.Create(cfg.Classifiers, logger)
	if err != nil {
		return nil, err
	}
	oracle, err := relevance.NewFieldOracle(cfg.Classifiers)
	if err != nil {
		return nil, fmt.Errorf("failed to build relevance oracle: %w", err)
	}

	writers, err := export.NewWriters(ctx, cfg.Exporters, logger)
	if err != nil {
		return nil, err
	}
	writers = append(o.writers, writers...)
	if len(writers) == 0 {
		logger.Warn("No exporter enabled, flushed tables are discarded")
	}

	arena := capture.NewArena(cfg.Capture.MemoryBytes(), logger, o.arenaOpts...)
	handoff := capture.NewHandOff(arena)
	loop := capture.NewLoop(arena, classifiers, oracle, handoff, sources, capture.Options{
		BatchSize:      cfg.Capture.BatchSize,
		PollWait:       cfg.Capture.PollWaitDuration(),
		FlushThreshold: cfg.Capture.FlushThreshold,
	}, logger)
	exporter := export.NewExporter(writers, logger)

	m := &Manager{
		cfg:      cfg,
		loop:     loop,
		handoff:  handoff,
		exporter: exporter,
		logger:   logger,
	}
	if !o.noAPI && (cfg.API.HttpListenAddr != "" || cfg.API.GrpcListenAddr != "") {
		m.server = api.NewServer(cfg.API, loop.Stats(), arena, exporter.Stats(), logger)
	}
	return m, nil
}

// Stats returns the capture counters.
func (m *Manager) Stats() *capture.Stats {
	return m.loop.Stats()
}

// Arena returns the memory budget of the capture stage.
func (m *Manager) Arena() *capture.Arena {
	return m.loop.Arena()
}

// ExportStats returns the exporter counters.
func (m *Manager) ExportStats() *export.Stats {
	return m.exporter.Stats()
}

// Run captures until every source is exhausted or ctx is cancelled, then
// waits for the exporter to write the last tables. Writers keep their
// context after cancellation so the final tables still reach them.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		if err := m.exporter.Close(); err != nil {
			m.logger.Warn("Failed to close writers", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		err := m.loop.Run(gctx)
		if m.server != nil {
			m.server.CaptureDone()
		}
		return err
	})
	g.Go(func() error {
		defer stopServer()
		return m.exporter.Run(context.WithoutCancel(gctx), m.handoff)
	})
	if m.server != nil {
		g.Go(func() error {
			return m.server.Run(serverCtx)
		})
	}
	return g.Wait()
}
