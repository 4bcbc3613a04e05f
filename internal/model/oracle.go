package model

// Oracle decides which classifiers are interested in which packets.
type Oracle interface {
	// Classify returns a matrix indexed [classifier][packet].
	Classify(batch []*Packet, classifiers int) [][]bool
}
