package templateengine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/templateengine"
	"github.com/civicforge/recordengine/internal/adapters/watch"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRender_UsesPerTypeTemplate(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	partialsDir := filepath.Join(dir, "partials")

	writeFile(t, filepath.Join(templatesDir, "bylaw.md.tmpl"), "# {{.Title}} ({{.Status}})\n")

	engine := templateengine.New(templatesDir, partialsDir, nil)

	rec := &recdomain.Record{Title: "Noise Restrictions", Status: "approved", Type: "bylaw"}

	out, err := engine.Render(rec)
	require.NoError(t, err)
	assert.Equal(t, "# Noise Restrictions (approved)\n", string(out))
}

func TestRender_FallsBackToDefaultTemplateWhenTypeHasNone(t *testing.T) {
	dir := t.TempDir()
	engine := templateengine.New(filepath.Join(dir, "templates"), filepath.Join(dir, "partials"), nil)

	rec := &recdomain.Record{Title: "Untemplated", Content: "body text", Type: "memo"}

	out, err := engine.Render(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "# Untemplated")
	assert.Contains(t, string(out), "body text")
}

func TestRender_PartialIsAvailableToTypeTemplate(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	partialsDir := filepath.Join(dir, "partials")

	writeFile(t, filepath.Join(partialsDir, "footer.tmpl"), "-- {{.Status}} --")
	writeFile(t, filepath.Join(templatesDir, "bylaw.md.tmpl"), "{{.Title}}\n{{template \"footer\" .}}\n")

	engine := templateengine.New(templatesDir, partialsDir, nil)

	rec := &recdomain.Record{Title: "Ord 12", Status: "draft", Type: "bylaw"}

	out, err := engine.Render(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "-- draft --")
}

func TestInvalidate_ReloadsTemplateAfterFileChangeOnWatchedEngine(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	partialsDir := filepath.Join(dir, "partials")
	require.NoError(t, os.MkdirAll(partialsDir, 0o755))

	path := filepath.Join(templatesDir, "bylaw.md.tmpl")
	writeFile(t, path, "v1: {{.Title}}\n")

	w, err := watch.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	engine := templateengine.New(templatesDir, partialsDir, w)

	rec := &recdomain.Record{Title: "X", Type: "bylaw"}

	out, err := engine.Render(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "v1: X")

	writeFile(t, path, "v2: {{.Title}}\n")

	require.Eventually(t, func() bool {
		out, err := engine.Render(rec)
		return err == nil && string(out) == "v2: X\n"
	}, 2*time.Second, 20*time.Millisecond)
}
