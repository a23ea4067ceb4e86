// Package decision decides which computed results are worth caching.
package decision

type Interface interface {
	// Admit records a request for cells of dataset and reports whether its
	// result should be cached.
	Admit(dataset string, cells []string) bool
}

// Always admits every result.
type Always struct{}

func (Always) Admit(string, []string) bool { return true }
