package model

// Callbacks is the contract a classifier exposes to the capture stage.
// Only Update is mandatory; the others fall back to an always-pass check,
// a constant hash and an always-match comparison.
type Callbacks struct {
	// Check is a cheap pre-filter run before the table lookup.
	Check func(pkt *Packet) bool
	// Hash selects the bucket for a packet.
	Hash func(pkt *Packet) uint32
	// Match reports whether rec holds the state for pkt's flow.
	Match func(pkt *Packet, rec []byte) bool
	// Update folds pkt into rec and reports whether rec is now full.
	Update func(pkt *Packet, rec []byte, isNew bool) (full bool)
	// RecordSize is the fixed payload capacity of every record.
	RecordSize int
}

// Classifier is a unit of aggregation logic.
type Classifier interface {
	Name() string
	Callbacks() Callbacks
	// Decode converts a record payload into a Flow for export.
	Decode(rec []byte) *Flow
	// RequiresL4 reports whether the classifier needs transport ports.
	RequiresL4() bool
}
