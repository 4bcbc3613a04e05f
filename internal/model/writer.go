package model

import "context"

// Writer defines a generic interface for persisting flushed flow tables.
type Writer interface {
	// Write persists one flushed table.
	Write(ctx context.Context, set *FlowSet) error

	// Name identifies the writer in logs.
	Name() string

	// Close releases any connection held by the writer.
	Close() error
}
