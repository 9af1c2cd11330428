package gitgw_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/gitgw"
)

func newGateway(t *testing.T) (*gitgw.Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	gw := gitgw.New(dir, nil)
	require.NoError(t, gw.EnsureRepo(context.Background()))

	return gw, dir
}

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return rel
}

func TestStageCommit_ProducesCommitHash(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()

	rel := writeFile(t, dir, "records/bylaw/noise.md", "---\ntitle: Noise\n---\nbody")
	require.NoError(t, gw.Stage(ctx, []string{rel}))

	hash, err := gw.Commit(ctx, "add noise bylaw", gitgw.Identity{Name: "Clerk", Email: "clerk@example.org"})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	head, err := gw.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, hash, head)
}

func TestCommit_NothingStagedReturnsNothingToCommit(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()

	rel := writeFile(t, dir, "records/bylaw/noise.md", "content")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	_, err := gw.Commit(ctx, "first", gitgw.Identity{Name: "A", Email: "a@example.org"})
	require.NoError(t, err)

	_, err = gw.Commit(ctx, "second", gitgw.Identity{Name: "A", Email: "a@example.org"})
	require.Error(t, err)
}

func TestHistory_ReturnsCommitsMostRecentFirst(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()
	identity := gitgw.Identity{Name: "A", Email: "a@example.org"}

	rel := writeFile(t, dir, "records/bylaw/noise.md", "v1")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	_, err := gw.Commit(ctx, "v1", identity)
	require.NoError(t, err)

	writeFile(t, dir, "records/bylaw/noise.md", "v2")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	_, err = gw.Commit(ctx, "v2", identity)
	require.NoError(t, err)

	revisions, err := gw.History(ctx, rel)
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	assert.Equal(t, "v2", revisions[0].Message)
	assert.Equal(t, "v1", revisions[1].Message)
}

func TestShow_ReturnsContentAtRevision(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()
	identity := gitgw.Identity{Name: "A", Email: "a@example.org"}

	rel := writeFile(t, dir, "records/bylaw/noise.md", "original")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	hash, err := gw.Commit(ctx, "v1", identity)
	require.NoError(t, err)

	writeFile(t, dir, "records/bylaw/noise.md", "changed")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	_, err = gw.Commit(ctx, "v2", identity)
	require.NoError(t, err)

	content, err := gw.Show(ctx, hash, rel)
	require.NoError(t, err)
	assert.Equal(t, "original", content)
}

func TestIsDirty_ReflectsUnstagedChanges(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()

	dirty, err := gw.IsDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	writeFile(t, dir, "records/bylaw/noise.md", "v1")

	dirty, err = gw.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestUnstage_LeavesWorkingTreeFileButClearsIndex(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()

	rel := writeFile(t, dir, "records/bylaw/noise.md", "v1")
	require.NoError(t, gw.Stage(ctx, []string{rel}))

	require.NoError(t, gw.Unstage(ctx, []string{rel}))

	dirty, err := gw.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty, "unstage must not discard the working tree change")

	_, err = gw.Commit(ctx, "should be empty", gitgw.Identity{Name: "A", Email: "a@example.org"})
	require.Error(t, err, "nothing is staged after Unstage, so Commit has nothing to commit")
}

func TestRevert_CreatesNewCommitUndoingOriginal(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()
	identity := gitgw.Identity{Name: "A", Email: "a@example.org"}

	rel := writeFile(t, dir, "records/bylaw/noise.md", "v1")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	hash, err := gw.Commit(ctx, "add noise bylaw", identity)
	require.NoError(t, err)

	revertHash, err := gw.Revert(ctx, hash, identity)
	require.NoError(t, err)
	assert.NotEmpty(t, revertHash)
	assert.NotEqual(t, hash, revertHash)

	head, err := gw.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, revertHash, head)

	_, err = os.Stat(filepath.Join(dir, rel))
	assert.True(t, os.IsNotExist(err), "reverting the add commit must remove the file again")
}

func TestIsNothingToCommit_TrueOnlyForNothingToCommitSentinel(t *testing.T) {
	gw, dir := newGateway(t)
	ctx := context.Background()

	rel := writeFile(t, dir, "records/bylaw/noise.md", "v1")
	require.NoError(t, gw.Stage(ctx, []string{rel}))
	_, err := gw.Commit(ctx, "v1", gitgw.Identity{Name: "A", Email: "a@example.org"})
	require.NoError(t, err)

	_, err = gw.Commit(ctx, "v2", gitgw.Identity{Name: "A", Email: "a@example.org"})
	require.Error(t, err)
	assert.True(t, gitgw.IsNothingToCommit(err))

	_, err = gw.Revert(ctx, "not-a-real-hash", gitgw.Identity{Name: "A", Email: "a@example.org"})
	require.Error(t, err)
	assert.False(t, gitgw.IsNothingToCommit(err))
}
