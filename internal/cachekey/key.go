// Package cachekey derives cache keys for filtered, paginated resources and
// computes which keys go stale when a filter changes.
package cachekey

import (
	"net/url"
	"strconv"
	"strings"

	"pagecache/internal/core"
)

// Key identifies a (resource, page size, filter set) combination in the cache.
type Key string

// String returns the key as stored in the cache.
func (k Key) String() string {
	return string(k)
}

// Build returns "{resource}_{pageSize}_{signature}".
func Build(resource string, pageSize int, filters core.Filters) Key {
	var b strings.Builder
	b.WriteString(resource)
	b.WriteByte('_')
	b.WriteString(strconv.Itoa(pageSize))
	b.WriteByte('_')
	b.WriteString(Signature(filters))
	return Key(b.String())
}

// Signature renders filters canonically: dimensions sorted by name, each as
// name=value with unconstrained dimensions as name=all, joined by '&'.
// An empty filter set renders "all".
func Signature(filters core.Filters) string {
	if len(filters) == 0 {
		return core.AllValues
	}
	parts := make([]string, 0, len(filters))
	for _, dim := range filters.Dimensions() {
		parts = append(parts, url.QueryEscape(dim)+"="+url.QueryEscape(filters.Value(dim)))
	}
	return strings.Join(parts, "&")
}
