package recordmanager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/cachemgr"
	"github.com/civicforge/recordengine/internal/adapters/gitgw"
	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/indexdb/sqlite"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	"github.com/civicforge/recordengine/internal/config"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/services/recordmanager"
)

// This file exercises five of the six end-to-end scenarios spec.md §8
// names (the file-wins sync scenario is covered by the indexing
// package's Sync tests) against a Manager wired with real adapters
// (sqlite Index DB, an actual git working tree, an inline Saga
// Executor) — no mocks for anything but the one deliberately injected
// failure in scenario 5.

func TestScenario_BylawApprovalLifecycle(t *testing.T) {
	mgr, _, repo := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "draft", rec.Status)

	rec, err = mgr.SetStatus(ctx, clerk(), rec.ID.String(), "proposed", "", recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "proposed", rec.Status)

	rec, err = mgr.SetStatus(ctx, council(), rec.ID.String(), "approved", "", recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "approved", rec.Status)

	rec, err = mgr.SetStatus(ctx, council(), rec.ID.String(), "archived", "", recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "archived", rec.Status)

	got, err := repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.Equal(t, "archived", got.Status)
}

func TestScenario_DeniedTransitionLeavesNoTrace(t *testing.T) {
	mgr, store, repo := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	_, err = mgr.SetStatus(ctx, clerk(), rec.ID.String(), "approved", "", recordmanager.OpContext{})
	require.Error(t, err)

	got, err := repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Status, "denied transition must not touch the DB row")

	onDisk, err := store.Read(store.PathFor("bylaw", "noise-restrictions"))
	require.NoError(t, err)
	assert.Equal(t, "draft", onDisk.Status, "denied transition must not touch the file")
}

func TestScenario_SlugCollisionProducesDistinctFilesAndRows(t *testing.T) {
	mgr, store, repo := newManager(t)
	ctx := context.Background()

	first, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)
	second, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	assert.True(t, store.Exists(store.PathFor("bylaw", first.Slug)))
	assert.True(t, store.Exists(store.PathFor("bylaw", second.Slug)))
	assert.NotEqual(t, first.Slug, second.Slug)

	_, err = repo.GetByTypeSlug(ctx, "bylaw", first.Slug)
	require.NoError(t, err)
	_, err = repo.GetByTypeSlug(ctx, "bylaw", second.Slug)
	require.NoError(t, err)
}

// failingInsertRepo wraps a real recdomain.Repository and fails only its
// Insert call, simulating the DB failure spec.md §8 scenario 5 injects
// into create()'s index_db step.
type failingInsertRepo struct {
	recdomain.Repository
}

func (f failingInsertRepo) Insert(ctx context.Context, r *recdomain.Record) error {
	return errors.New("simulated index db failure")
}

func TestScenario_SagaCompensationUndoesFileAndGitOnDBFailure(t *testing.T) {
	store, gw := newStoreAndGateway(t)
	realRepo := sqlite.NewRepository(newDB(t))
	repo := failingInsertRepo{Repository: realRepo}
	sagaStore := sagaexec.NewStore(newDB(t), config.DBDriverSQLite)
	sagas := sagaexec.New(sagaStore, nil, sagaexec.WithInlineMode())
	bus := hookbus.New(nil, nil, nil)
	fired := false
	bus.On(hookbus.EventRecordCreated, hookbus.ModeSync, func(context.Context, hookbus.Event, hookbus.Payload) error {
		fired = true
		return nil
	})

	mgr := recordmanager.New(bylawConfig(), store, gw, repo, sagas, cachemgr.New(cachemgr.Never{}, nil), bus,
		stubUsers{"clerk1": true}, gitgw.Identity{Name: "Civic Bot", Email: "bot@example.org"}, nil)

	_, err := mgr.Create(context.Background(), clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.Error(t, err)
	assert.False(t, fired, "record:created must not fire when the saga fails")

	assert.False(t, store.Exists(store.PathFor("bylaw", "noise-restrictions")), "compensation must remove the written file")
}

func TestScenario_IdempotentReplaySkipsSecondWrite(t *testing.T) {
	mgr, store, repo := newManager(t)
	ctx := context.Background()
	opctx := recordmanager.OpContext{IdempotencyKey: uuid.NewString()}

	first, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, opctx)
	require.NoError(t, err)

	second, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, opctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	count := 0
	page, err := repo.List(ctx, recdomain.Filter{Type: "bylaw"})
	require.NoError(t, err)
	for _, r := range page.Records {
		if r.Slug == "noise-restrictions" {
			count++
		}
	}
	assert.Equal(t, 1, count, "replay must not create a second row")

	onDisk, err := store.Read(store.PathFor("bylaw", "noise-restrictions"))
	require.NoError(t, err)
	assert.Equal(t, first.Title, onDisk.Title)
}
