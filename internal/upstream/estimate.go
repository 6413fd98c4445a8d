package upstream

import "pagecache/internal/core"

// TotalEstimator guesses the total item count when the upstream reports none.
type TotalEstimator interface {
	Estimate(pageNumber, pageSize, received int, filters core.Filters) int
}

// ShortPageEstimator assumes more items exist until a page comes back short.
type ShortPageEstimator struct{}

// Estimate returns the exact count once a short page is seen and one more
// than the items seen so far otherwise.
func (ShortPageEstimator) Estimate(pageNumber, pageSize, received int, _ core.Filters) int {
	seen := (pageNumber-1)*pageSize + received
	if received < pageSize {
		return seen
	}
	return seen + 1
}

// FixedPerFilterEstimator assumes a fixed number of items per value of one
// filter dimension, like sample APIs that give every user ten posts.
type FixedPerFilterEstimator struct {
	Dimension string
	// PerValue is the count assumed when Dimension is constrained
	PerValue int
	// Unfiltered is the count assumed otherwise; zero falls back to ShortPageEstimator
	Unfiltered int
}

// Estimate implements TotalEstimator.
func (e FixedPerFilterEstimator) Estimate(pageNumber, pageSize, received int, filters core.Filters) int {
	if filters.Constrained(e.Dimension) && e.PerValue > 0 {
		return e.PerValue
	}
	if e.Unfiltered > 0 {
		return e.Unfiltered
	}
	return ShortPageEstimator{}.Estimate(pageNumber, pageSize, received, filters)
}
