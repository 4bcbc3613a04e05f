package factory

import (
	"fmt"

	"NetSpectra/internal/config"
	"NetSpectra/internal/model"
	"NetSpectra/internal/probe"
	"NetSpectra/pkg/pcap"

	"go.uber.org/zap"
)

// CreateSources builds an unstarted packet source for every definition.
func CreateSources(defs []config.SourceDef, logger *zap.Logger) ([]model.PacketSource, error) {
	sources := make([]model.PacketSource, 0, len(defs))
	for i, def := range defs {
		src, err := newSource(def, logger)
		if err != nil {
			return nil, fmt.Errorf("source #%d: %w", i, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func newSource(def config.SourceDef, logger *zap.Logger) (model.PacketSource, error) {
	switch def.Type {
	case "pcap":
		if def.Path == "" {
			return nil, fmt.Errorf("pcap source requires a path")
		}
		return pcap.NewFileSource(def.Path, logger), nil
	case "live":
		if def.Iface == "" {
			return nil, fmt.Errorf("live source requires an iface")
		}
		return pcap.NewLiveSource(def.Iface, def.SnapLen, def.BPF, logger), nil
	case "nats":
		if def.NATSURL == "" || def.Subject == "" {
			return nil, fmt.Errorf("nats source requires nats_url and subject")
		}
		return probe.NewSubscriber(def.NATSURL, def.Subject, logger), nil
	default:
		return nil, fmt.Errorf("unknown source type: '%s'", def.Type)
	}
}
