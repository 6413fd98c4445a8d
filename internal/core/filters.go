package core

import "sort"

// AllValues marks a filter dimension as unconstrained
const AllValues = "all"

// Filters maps a filter dimension (e.g. "owner") to its selected value.
// A missing dimension, an empty value and AllValues all mean "unconstrained".
type Filters map[string]string

// Value returns the selected value for dim, normalized to AllValues when unconstrained.
func (f Filters) Value(dim string) string {
	v, ok := f[dim]
	if !ok || v == "" {
		return AllValues
	}
	return v
}

// Constrained reports whether dim is limited to a specific value
func (f Filters) Constrained(dim string) bool {
	return f.Value(dim) != AllValues
}

// With returns a copy of f with dim set to value
func (f Filters) With(dim, value string) Filters {
	out := f.Clone()
	out[dim] = value
	return out
}

// Clone returns a copy of f. It never returns nil.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Dimensions returns the dimension names in sorted order
func (f Filters) Dimensions() []string {
	dims := make([]string, 0, len(f))
	for k := range f {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	return dims
}

// Active returns only the constrained dimensions
func (f Filters) Active() Filters {
	out := make(Filters)
	for k := range f {
		if f.Constrained(k) {
			out[k] = f[k]
		}
	}
	return out
}
