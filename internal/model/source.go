package model

// SourceKind tells the capture loop how a source behaves under memory pressure.
type SourceKind int

const (
	// SourceLive sources deliver packets as they arrive and cannot be paused.
	SourceLive SourceKind = iota
	// SourceFile sources read from storage and are paused while memory is short.
	SourceFile
)

// PacketSource is a producer of packet batches.
type PacketSource interface {
	// Start opens the underlying device or file.
	Start() error

	// Next returns up to max packets. It returns io.EOF once the stream is exhausted.
	Next(max int) ([]*Packet, error)

	// Stop closes the source.
	Stop()

	// Name identifies the source in logs.
	Name() string

	Kind() SourceKind

	// ProvidesL4 reports whether packets carry transport-layer ports.
	ProvidesL4() bool
}
