package cachemgr_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/cachemgr"
)

func TestMemory_SetGetRoundTrip(t *testing.T) {
	m := cachemgr.NewMemory(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "record:list", "bylaw", cachemgr.Entry{Value: []byte("cached-json")}))

	entry, ok, err := m.Get(ctx, "record:list", "bylaw")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached-json", string(entry.Value))
}

func TestMemory_ExpiredEntryMisses(t *testing.T) {
	m := cachemgr.NewMemory(10, nil, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, m.Set(ctx, "record:list", "bylaw", cachemgr.Entry{Value: []byte("stale"), ExpiresAt: &past}))

	_, ok, err := m.Get(ctx, "record:list", "bylaw")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_EvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	m := cachemgr.NewMemory(2, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "c", "a", cachemgr.Entry{Value: []byte("1")}))
	require.NoError(t, m.Set(ctx, "c", "b", cachemgr.Entry{Value: []byte("2")}))

	// touch "a" so "b" becomes least-recently-used.
	_, _, _ = m.Get(ctx, "c", "a")

	require.NoError(t, m.Set(ctx, "c", "c", cachemgr.Entry{Value: []byte("3")}))

	_, ok, _ := m.Get(ctx, "c", "b")
	assert.False(t, ok, "b should have been evicted")

	_, ok, _ = m.Get(ctx, "c", "a")
	assert.True(t, ok)
}

func TestManual_InvalidateRemovesEntryAndNeverExpires(t *testing.T) {
	m := cachemgr.NewManual()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "role:perms", "clerk", cachemgr.Entry{Value: []byte("perm-set")}))

	entry, ok, err := m.Get(ctx, "role:perms", "clerk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "perm-set", string(entry.Value))

	require.NoError(t, m.Invalidate(ctx, "role:perms", "clerk"))

	_, ok, err = m.Get(ctx, "role:perms", "clerk")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNever_NeverHits(t *testing.T) {
	n := cachemgr.Never{}
	ctx := context.Background()

	require.NoError(t, n.Set(ctx, "x", "y", cachemgr.Entry{Value: []byte("v")}))

	_, ok, err := n.Get(ctx, "x", "y")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_DispatchesByNameWithFallback(t *testing.T) {
	memStrategy := cachemgr.NewMemory(10, nil, nil)
	manualStrategy := cachemgr.NewManual()

	mgr := cachemgr.New(cachemgr.Never{}, map[string]cachemgr.Strategy{
		"record:list": memStrategy,
		"role:perms":  manualStrategy,
	})

	ctx := context.Background()
	require.NoError(t, mgr.Set(ctx, "record:list", "k", cachemgr.Entry{Value: []byte("v")}))

	entry, ok, err := mgr.Get(ctx, "record:list", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(entry.Value))

	// unregistered cache name falls back to Never: never hits.
	require.NoError(t, mgr.Set(ctx, "unregistered", "k", cachemgr.Entry{Value: []byte("v")}))

	_, ok, err = mgr.Get(ctx, "unregistered", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
