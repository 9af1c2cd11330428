package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	"github.com/civicforge/recordengine/internal/adapters/indexdb/sqlite"
	"github.com/civicforge/recordengine/internal/config"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "civic.db")
	conn := indexdb.New(config.DBDriverSQLite, path, nil)

	db, err := conn.DB(context.Background())
	require.NoError(t, err)

	require.NoError(t, indexdb.Migrate(db, config.DBDriverSQLite, nil))

	t.Cleanup(func() { conn.Close() })

	return db
}

func sampleRecord() *recdomain.Record {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	return &recdomain.Record{
		Slug:      "noise-restrictions",
		Type:      "bylaw",
		Title:     "Noise Restrictions",
		Status:    "draft",
		Author:    "clerk1",
		Authors:   []recdomain.Author{{Username: "clerk1", Role: "drafter"}},
		Metadata:  recdomain.Metadata{Tags: []string{"noise"}, Extra: map[string]any{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertGetByTypeSlug(t *testing.T) {
	repo := sqlite.NewRepository(newDB(t))
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, repo.Insert(ctx, rec))

	got, err := repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.Equal(t, "Noise Restrictions", got.Title)
	require.Len(t, got.Authors, 1)
	assert.Equal(t, "clerk1", got.Authors[0].Username)
	assert.Equal(t, []string{"noise"}, got.Metadata.Tags)
}

func TestInsert_DuplicateSlugConflicts(t *testing.T) {
	repo := sqlite.NewRepository(newDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, sampleRecord()))

	dup := sampleRecord()
	err := repo.Insert(ctx, dup)
	require.Error(t, err)
}

func TestUpdate_ChangesStatus(t *testing.T) {
	repo := sqlite.NewRepository(newDB(t))
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, repo.Insert(ctx, rec))

	rec.Status = "proposed"
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, rec))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "proposed", got.Status)
}

func TestSlugExists(t *testing.T) {
	repo := sqlite.NewRepository(newDB(t))
	ctx := context.Background()

	exists, err := repo.SlugExists(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Insert(ctx, sampleRecord()))

	exists, err = repo.SlugExists(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestList_FiltersByTypeAndStatus(t *testing.T) {
	repo := sqlite.NewRepository(newDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, sampleRecord()))

	other := sampleRecord()
	other.Slug = "parking"
	other.Type = "resolution"
	other.Status = "approved"
	require.NoError(t, repo.Insert(ctx, other))

	page, err := repo.List(ctx, recdomain.Filter{Type: "bylaw"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "noise-restrictions", page.Records[0].Slug)
}

func TestDelete_RemovesRecord(t *testing.T) {
	repo := sqlite.NewRepository(newDB(t))
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, repo.Insert(ctx, rec))
	require.NoError(t, repo.Delete(ctx, rec.ID))

	_, err := repo.GetByID(ctx, rec.ID)
	require.Error(t, err)
}
