package bootstrap_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/bootstrap"
	"github.com/civicforge/recordengine/internal/config"
)

func TestNew_WiresEveryCollaboratorForAFreshlyInitializedRepo(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Init(dir)
	require.NoError(t, err)

	ctx := context.Background()
	container, err := bootstrap.New(ctx, bootstrap.Options{RootDir: dir})
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.Store)
	assert.NotNil(t, container.Git)
	assert.NotNil(t, container.Repo)
	assert.NotNil(t, container.Templates)
	assert.NotNil(t, container.Cache)
	assert.NotNil(t, container.Watcher)
	assert.NotNil(t, container.Roles)
	assert.NotNil(t, container.Workflow)
	assert.NotNil(t, container.Hooks)
	assert.NotNil(t, container.Sagas)
	assert.NotNil(t, container.Records)
	assert.NotNil(t, container.Index)
	assert.NotNil(t, container.Activity)

	assert.True(t, container.Roles.Exists("admin"))
}

func TestNew_FailsClearlyWithNoCivicrc(t *testing.T) {
	dir := t.TempDir()

	_, err := bootstrap.New(context.Background(), bootstrap.Options{RootDir: dir})
	require.Error(t, err)
}
