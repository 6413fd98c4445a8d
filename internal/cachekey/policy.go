package cachekey

import (
	"context"

	"pagecache/internal/core"
)

// Deleter is the part of the cache store a Policy needs.
type Deleter interface {
	Delete(ctx context.Context, key string)
}

// Policy applies cross-filter invalidation for one discrete filter dimension.
//
// Moving to a specific value invalidates the unconstrained entry. Moving away
// from a specific value u invalidates the entries of every known value other than u.
type Policy struct {
	Resource    string
	PageSize    int
	Dimension   string
	KnownValues []string
}

// Key builds the key for filters under this policy's resource and page size.
func (p Policy) Key(filters core.Filters) Key {
	return Build(p.Resource, p.PageSize, filters)
}

// Invalidations returns the keys to delete when filters change from prev to next.
// Other dimensions of next are kept in the generated keys.
func (p Policy) Invalidations(prev, next core.Filters) []Key {
	if p.Dimension == "" {
		return nil
	}
	from := prev.Value(p.Dimension)
	to := next.Value(p.Dimension)
	if from == to {
		return nil
	}

	var keys []Key
	seen := make(map[Key]struct{})
	add := func(value string) {
		k := p.Key(next.With(p.Dimension, value))
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	if to != core.AllValues {
		add(core.AllValues)
	}
	if from != core.AllValues {
		for _, v := range p.KnownValues {
			if v == from || v == "" || v == core.AllValues {
				continue
			}
			add(v)
		}
	}
	return keys
}

// Apply deletes the keys returned by Invalidations and returns them.
func (p Policy) Apply(ctx context.Context, store Deleter, prev, next core.Filters) []Key {
	keys := p.Invalidations(prev, next)
	for _, k := range keys {
		store.Delete(ctx, k.String())
	}
	return keys
}
