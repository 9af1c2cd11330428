package cachemgr

import (
	"container/list"
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/civicforge/recordengine/internal/adapters/watch"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// DefaultTTL mirrors common/mredis.RedisTTL's role: the TTL applied when
// a caller sets an entry with no expiry and no explicit default override.
const DefaultTTL = 5 * time.Minute

// RedisBackend is the narrow dependency Memory needs from a Redis
// client, grounded on consumer.redis.go's Set/Get/Del shape.
type RedisBackend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// Memory is the "memory" cache strategy: an in-process, size-bounded
// LRU with per-entry TTL, optionally write-through backed by Redis so a
// cold process can still serve hits another process populated.
type Memory struct {
	logger  mlog.Logger
	redis   RedisBackend
	maxSize int

	mu      sync.Mutex
	ll      *list.List
	entries map[string]map[string]*list.Element
}

type memEntry struct {
	cacheName string
	key       string
	entry     Entry
}

func NewMemory(maxSize int, redis RedisBackend, logger mlog.Logger) *Memory {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	if maxSize <= 0 {
		maxSize = 10_000
	}

	return &Memory{
		logger:  logger,
		redis:   redis,
		maxSize: maxSize,
		ll:      list.New(),
		entries: make(map[string]map[string]*list.Element),
	}
}

func (m *Memory) Get(ctx context.Context, cacheName, key string) (*Entry, bool, error) {
	m.mu.Lock()

	if bucket, ok := m.entries[cacheName]; ok {
		if el, ok := bucket[key]; ok {
			me := el.Value.(*memEntry)

			if me.entry.ExpiresAt != nil && me.entry.ExpiresAt.Before(time.Now()) {
				m.removeLocked(cacheName, key, el)
				m.mu.Unlock()

				return m.getFromRedis(ctx, cacheName, key)
			}

			m.ll.MoveToFront(el)
			entry := me.entry
			m.mu.Unlock()

			return &entry, true, nil
		}
	}

	m.mu.Unlock()

	return m.getFromRedis(ctx, cacheName, key)
}

func (m *Memory) getFromRedis(ctx context.Context, cacheName, key string) (*Entry, bool, error) {
	if m.redis == nil {
		return nil, false, nil
	}

	raw, err := m.redis.Get(ctx, redisKey(cacheName, key))
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}

		return nil, false, cerrors.Transient("reading cache from redis", err)
	}

	entry := Entry{Value: []byte(raw)}
	m.setLocal(cacheName, key, entry)

	return &entry, true, nil
}

func (m *Memory) Set(ctx context.Context, cacheName, key string, entry Entry) error {
	if entry.ExpiresAt == nil {
		expires := time.Now().Add(DefaultTTL)
		entry.ExpiresAt = &expires
	}

	m.setLocal(cacheName, key, entry)

	if m.redis != nil {
		ttl := time.Until(*entry.ExpiresAt)
		if ttl <= 0 {
			ttl = DefaultTTL
		}

		if err := m.redis.Set(ctx, redisKey(cacheName, key), string(entry.Value), ttl); err != nil {
			m.logger.Errorf("cachemgr: redis write-through for %s/%s failed: %v", cacheName, key, err)
		}
	}

	return nil
}

func (m *Memory) setLocal(cacheName, key string, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.entries[cacheName]
	if !ok {
		bucket = make(map[string]*list.Element)
		m.entries[cacheName] = bucket
	}

	if el, ok := bucket[key]; ok {
		el.Value.(*memEntry).entry = entry
		m.ll.MoveToFront(el)

		return
	}

	el := m.ll.PushFront(&memEntry{cacheName: cacheName, key: key, entry: entry})
	bucket[key] = el

	if m.ll.Len() > m.maxSize {
		oldest := m.ll.Back()
		if oldest != nil {
			oe := oldest.Value.(*memEntry)
			m.removeLocked(oe.cacheName, oe.key, oldest)
		}
	}
}

func (m *Memory) Invalidate(ctx context.Context, cacheName, key string) error {
	m.mu.Lock()
	if bucket, ok := m.entries[cacheName]; ok {
		if el, ok := bucket[key]; ok {
			m.removeLocked(cacheName, key, el)
		}
	}
	m.mu.Unlock()

	if m.redis != nil {
		if err := m.redis.Del(ctx, redisKey(cacheName, key)); err != nil {
			m.logger.Errorf("cachemgr: redis invalidate for %s/%s failed: %v", cacheName, key, err)
		}
	}

	return nil
}

// InvalidatePath drops every entry whose WatchPaths contains path or a
// parent of it. The memory strategy itself never registers
// file-watcher subscriptions; this exists so a Manager can treat
// "memory" caches seeded with WatchPaths (e.g. by a caller that knows a
// record's source file) uniformly with the file_watcher strategy.
func (m *Memory) InvalidatePath(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for cacheName, bucket := range m.entries {
		for key, el := range bucket {
			me := el.Value.(*memEntry)
			if watch.PathsMatch(me.entry.WatchPaths, path) {
				m.removeLocked(cacheName, key, el)
			}
		}
	}

	return nil
}

func (m *Memory) removeLocked(cacheName, key string, el *list.Element) {
	m.ll.Remove(el)
	delete(m.entries[cacheName], key)
}

func redisKey(cacheName, key string) string {
	return cacheName + ":" + key
}
