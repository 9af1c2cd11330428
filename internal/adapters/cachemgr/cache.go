// Package cachemgr implements the Cache Manager of spec.md §4.9: a
// named set of logical caches, each bound to one of a fixed set of
// strategies (memory, file_watcher, manual, never) selected by tagged
// variant at construction, never by runtime reflection.
//
// The memory strategy's in-process LRU+TTL is grounded on no single
// teacher file (the teacher always goes straight to Redis, never an
// in-process cache), so it is built directly from spec.md §4.9 in the
// teacher's general small-struct-plus-mutex style. Its optional Redis
// write-through backing is grounded on
// components/ledger/internal/adapters/implementation/database/redis's
// consumer.redis.go (Set/Get/Del around a lazily-connected client, a
// package-level default TTL). Library: github.com/redis/go-redis/v9.
package cachemgr

import (
	"context"
	"time"
)

// Entry is one cached value (spec.md §3 Cache Entry).
type Entry struct {
	Value      []byte
	ExpiresAt  *time.Time
	WatchPaths []string
}

// Strategy is the port every cache strategy variant implements.
type Strategy interface {
	Get(ctx context.Context, cacheName, key string) (*Entry, bool, error)
	Set(ctx context.Context, cacheName, key string, entry Entry) error
	Invalidate(ctx context.Context, cacheName, key string) error
	// InvalidatePath invalidates every entry whose WatchPaths includes
	// path, or a path it is a parent of. The manual and never strategies
	// treat this as a no-op; memory drops matching entries even though it
	// never subscribes to file changes itself.
	InvalidatePath(ctx context.Context, path string) error
}

// Manager dispatches to a Strategy per named cache, so the Record
// Manager and other callers can use one handle ("record:list",
// "template:rendered", ...) without knowing which strategy backs it.
type Manager struct {
	strategies map[string]Strategy
	fallback   Strategy
}

// New constructs a Manager. fallback backs any cache name not present
// in named; pass a Never strategy as fallback to make unregistered
// names behave as uncached.
func New(fallback Strategy, named map[string]Strategy) *Manager {
	if fallback == nil {
		fallback = Never{}
	}

	if named == nil {
		named = make(map[string]Strategy)
	}

	return &Manager{strategies: named, fallback: fallback}
}

func (m *Manager) strategyFor(cacheName string) Strategy {
	if s, ok := m.strategies[cacheName]; ok {
		return s
	}

	return m.fallback
}

func (m *Manager) Get(ctx context.Context, cacheName, key string) (*Entry, bool, error) {
	return m.strategyFor(cacheName).Get(ctx, cacheName, key)
}

func (m *Manager) Set(ctx context.Context, cacheName, key string, entry Entry) error {
	return m.strategyFor(cacheName).Set(ctx, cacheName, key, entry)
}

func (m *Manager) Invalidate(ctx context.Context, cacheName, key string) error {
	return m.strategyFor(cacheName).Invalidate(ctx, cacheName, key)
}

// InvalidatePath fans out to every distinct registered strategy (a path
// change may be relevant to more than one named cache).
func (m *Manager) InvalidatePath(ctx context.Context, path string) error {
	seen := make(map[Strategy]bool)

	for _, s := range m.strategies {
		if seen[s] {
			continue
		}

		seen[s] = true

		if err := s.InvalidatePath(ctx, path); err != nil {
			return err
		}
	}

	if !seen[m.fallback] {
		return m.fallback.InvalidatePath(ctx, path)
	}

	return nil
}
