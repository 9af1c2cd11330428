package cachemgr

import "context"

// Never is the cache strategy spec.md §4.9 names for "never": every Get
// misses, Set is a no-op. Useful as the Manager's fallback for cache
// names that opt out of caching entirely.
type Never struct{}

func (Never) Get(ctx context.Context, cacheName, key string) (*Entry, bool, error) {
	return nil, false, nil
}

func (Never) Set(ctx context.Context, cacheName, key string, entry Entry) error { return nil }

func (Never) Invalidate(ctx context.Context, cacheName, key string) error { return nil }

func (Never) InvalidatePath(ctx context.Context, path string) error { return nil }
