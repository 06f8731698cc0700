package asset

import (
	"context"
)

// registryGetter is the slice of the repository the resolver needs.
type registryGetter interface {
	GetOrCreate(ctx context.Context, ticker string, category Category) (*Asset, error)
}

// Ref is the immutable identity of an asset. Mutable fields (tier, active
// flag) are deliberately absent so a long ingestion run never serves stale
// values if an asset is edited concurrently by another process.
type Ref struct {
	ID     int64
	Ticker string
}

// Resolver memoizes get-or-create lookups for one ingestion run, keyed by
// canonical ticker. A single file can hold millions of rows for one
// instrument; without memoization every row would cost a registry roundtrip.
// The resolver is not safe for concurrent use: bulk ingestion is a single
// sequential process per invocation.
type Resolver struct {
	registry registryGetter
	cache    map[string]Ref
	misses   int
}

// NewResolver creates a resolver over the given registry.
func NewResolver(registry registryGetter) *Resolver {
	return &Resolver{
		registry: registry,
		cache:    make(map[string]Ref),
	}
}

// Resolve returns the asset reference for a ticker, creating the asset on
// first sight with an auto-classified tier.
func (r *Resolver) Resolve(ctx context.Context, ticker string, category Category) (Ref, error) {
	if ref, ok := r.cache[ticker]; ok {
		return ref, nil
	}

	a, err := r.registry.GetOrCreate(ctx, ticker, category)
	if err != nil {
		return Ref{}, err
	}

	ref := Ref{ID: a.ID, Ticker: a.Ticker}
	r.cache[ticker] = ref
	r.misses++
	return ref, nil
}

// Misses returns how many lookups went to the registry.
func (r *Resolver) Misses() int { return r.misses }
