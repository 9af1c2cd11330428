package cachemgr_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/cachemgr"
	"github.com/civicforge/recordengine/internal/adapters/watch"
)

func newWatcher(t *testing.T) *watch.Watcher {
	t.Helper()

	w, err := watch.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return w
}

func TestFileWatcher_InvalidatesOnWatchedFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noise-restrictions.md")
	require.NoError(t, os.WriteFile(path, []byte("---\ntitle: x\n---\n"), 0o644))

	fw := cachemgr.NewFileWatcher(newWatcher(t))

	ctx := context.Background()
	require.NoError(t, fw.Set(ctx, "record:rendered", "bylaw/noise-restrictions", cachemgr.Entry{
		Value:      []byte("rendered-html"),
		WatchPaths: []string{path},
	}))

	_, ok, err := fw.Get(ctx, "record:rendered", "bylaw/noise-restrictions")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("---\ntitle: y\n---\n"), 0o644))

	require.Eventually(t, func() bool {
		_, ok, _ := fw.Get(ctx, "record:rendered", "bylaw/noise-restrictions")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFileWatcher_InvalidatePathRemovesMatchingEntries(t *testing.T) {
	fw := cachemgr.NewFileWatcher(newWatcher(t))

	ctx := context.Background()
	require.NoError(t, fw.Set(ctx, "record:rendered", "k", cachemgr.Entry{
		Value:      []byte("v"),
		WatchPaths: []string{"/records/bylaw/noise.md"},
	}))

	require.NoError(t, fw.InvalidatePath(ctx, "/records/bylaw/noise.md"))

	_, ok, err := fw.Get(ctx, "record:rendered", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
