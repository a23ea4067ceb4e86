// Package hotness scores how often areas of a dataset are queried.
package hotness

// WideCell stands for footprints too large to index by cell.
const WideCell = "*"

type Interface interface {
	Inc(dataset, cell string)
	Score(dataset, cell string) float64
	// Reset forgets the given cells of dataset, or all of them when none
	// are given.
	Reset(dataset string, cells ...string)
}
