package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"NetSpectra/internal/engine/manager"
	"NetSpectra/internal/factory"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture from the configured sources until interrupted",
		Example: `  ns-capture run --config configs/config.yaml
  ns-capture run --config configs/config.yaml --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Sources) == 0 {
				return fmt.Errorf("no sources configured in %s", configPath)
			}
			logger, err := newLogger(cfg, verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sources, err := factory.CreateSources(cfg.Sources, logger)
			if err != nil {
				return err
			}
			m, err := manager.NewManager(ctx, cfg, sources, logger)
			if err != nil {
				return err
			}

			logger.Info("Starting ns-capture", zap.Int("sources", len(sources)), zap.Int("classifiers", len(cfg.Classifiers)))
			if err := m.Run(ctx); err != nil {
				return err
			}
			logger.Info("Shutdown complete.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "configs/config.yaml", "config file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	return cmd
}
