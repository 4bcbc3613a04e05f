package cli

import (
	"fmt"

	"NetSpectra/internal/config"
	"NetSpectra/internal/logging"

	"go.uber.org/zap"
)

// defaultConfig is used by analyze when no config file is given.
const defaultConfig = `
capture:
  memory_mb: 64
classifiers:
  - name: five_tuple
    type: flowcount
    buckets: 4096
    flush_interval: 10s
    key_fields: [SrcIP, DstIP, SrcPort, DstPort, Protocol]
  - name: traffic
    type: traffic
    buckets: 1
    flush_interval: 1s
`

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse([]byte(defaultConfig))
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	logCfg := cfg.Log
	if verbose {
		logCfg.Level = "debug"
	}
	return logging.New(logCfg)
}
