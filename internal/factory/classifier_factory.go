package factory

import (
	"fmt"

	"NetSpectra/internal/config"
	"NetSpectra/internal/engine/capture"
	"NetSpectra/internal/model"

	"go.uber.org/zap"
)

// ClassifierFactory builds the aggregation logic of one configured classifier.
type ClassifierFactory func(def config.ClassifierDef) (model.Classifier, error)

// registry holds the mapping of classifier types to their factory functions.
var registry = make(map[string]ClassifierFactory)

// RegisterClassifier registers a new classifier type with its factory function.
func RegisterClassifier(name string, factory ClassifierFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("classifier type '%s' already registered", name))
	}
	registry[name] = factory
}

// Types returns the registered classifier types.
func Types() []string {
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	return types
}

// Create activates every configured classifier, in configuration order.
func Create(defs []config.ClassifierDef, logger *zap.Logger) ([]*capture.Classifier, error) {
	classifiers := make([]*capture.Classifier, 0, len(defs))

	for _, def := range defs {
		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown classifier type: '%s'", def.Type)
		}

		impl, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("error creating classifier '%s': %w", def.Name, err)
		}

		flush, minFlush, err := def.Intervals()
		if err != nil {
			return nil, err
		}
		cls, err := capture.NewClassifier(impl, def.Buckets, flush, minFlush)
		if err != nil {
			return nil, err
		}
		logger.Info("Classifier activated",
			zap.String("name", def.Name),
			zap.String("type", def.Type),
			zap.Int("buckets", def.Buckets),
			zap.Duration("flush_interval", cls.FlushInterval()),
			zap.Duration("min_flush_interval", cls.MinFlushInterval()))
		classifiers = append(classifiers, cls)
	}

	return classifiers, nil
}
