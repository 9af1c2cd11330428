// Package templateengine implements the Template Engine
// (SPEC_FULL.md §4.11): scoped rendering of a record against
// `.civic/templates/<type>.md.tmpl`, with `.civic/partials/*.tmpl`
// fragments available to every template, via the standard library's
// text/template.
//
// No teacher package renders text/template (the teacher's templating,
// where it exists, is Swagger/OpenAPI doc generation, out of scope
// here); this package is instead grounded on the teacher's
// single-long-lived-connection-per-resource convention applied to
// *watch.Watcher — one shared fsnotify handle constructed once in the
// container and handed to both this package and the Cache Manager's
// file_watcher strategy — and on text/template's own stdlib contract,
// which is the idiomatic choice the wider Go ecosystem reaches for
// over any third-party templating library for this kind of scoped,
// trusted-input rendering (no user-supplied template expressions ever
// reach this engine, so html/template's auto-escaping is not needed).
package templateengine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/civicforge/recordengine/internal/adapters/watch"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// Engine resolves and renders per-type templates, reloading a type's
// template set the moment any of its source files change on disk.
type Engine struct {
	templatesDir string
	partialsDir  string
	watcher      *watch.Watcher

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// New constructs an Engine rooted at templatesDir/partialsDir. w may
// be nil (invalidation then relies solely on explicit Invalidate
// calls), but the container always supplies the shared *watch.Watcher
// in practice.
func New(templatesDir, partialsDir string, w *watch.Watcher) *Engine {
	e := &Engine{
		templatesDir: templatesDir,
		partialsDir:  partialsDir,
		watcher:      w,
		cache:        make(map[string]*template.Template),
	}

	if w != nil {
		w.Subscribe(func(path string) {
			if e.owns(path) {
				e.Invalidate(recordTypeFromPath(templatesDir, path))
			}
		})
	}

	return e
}

func (e *Engine) owns(path string) bool {
	return strings.HasPrefix(path, e.templatesDir+string(filepath.Separator)) ||
		strings.HasPrefix(path, e.partialsDir+string(filepath.Separator))
}

// recordTypeFromPath maps a changed template file back to the record
// type whose cache entry it invalidates; a partials change can't be
// mapped to one type, so "" invalidates every cached template.
func recordTypeFromPath(templatesDir, path string) string {
	if !strings.HasPrefix(path, templatesDir+string(filepath.Separator)) {
		return ""
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, ".md.tmpl")
}

// Invalidate drops the cached template set for recordType, or every
// cached set if recordType is "".
func (e *Engine) Invalidate(recordType string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if recordType == "" {
		e.cache = make(map[string]*template.Template)
		return
	}

	delete(e.cache, recordType)
}

// Render renders rec's type template against rec, falling back to a
// minimal built-in template if no `.civic/templates/<type>.md.tmpl`
// exists — every record type renders, template authoring is optional
// (spec.md §4.11's "scoped lookup" permits this: a type with no
// template still needs the record to be viewable).
func (e *Engine) Render(rec *recdomain.Record) ([]byte, error) {
	tmpl, err := e.resolve(rec.Type)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rec); err != nil {
		return nil, cerrors.Operational("templateengine", "rendering "+rec.Type, err)
	}

	return buf.Bytes(), nil
}

func (e *Engine) resolve(recordType string) (*template.Template, error) {
	e.mu.RLock()
	tmpl, ok := e.cache[recordType]
	e.mu.RUnlock()

	if ok {
		return tmpl, nil
	}

	tmpl, err := e.load(recordType)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[recordType] = tmpl
	e.mu.Unlock()

	if e.watcher != nil {
		path := filepath.Join(e.templatesDir, recordType+".md.tmpl")
		_ = e.watcher.AddFile(path)
		_ = e.watcher.Add(e.partialsDir)
	}

	return tmpl, nil
}

func (e *Engine) load(recordType string) (*template.Template, error) {
	root := template.New(recordType)

	partials, err := filepath.Glob(filepath.Join(e.partialsDir, "*.tmpl"))
	if err != nil {
		return nil, cerrors.Operational("templateengine", "listing partials", err)
	}

	for _, p := range partials {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, cerrors.Operational("templateengine", "reading partial "+p, err)
		}

		name := strings.TrimSuffix(filepath.Base(p), ".tmpl")

		if _, err := root.New(name).Parse(string(raw)); err != nil {
			return nil, cerrors.Validation("Template", "invalid_partial", fmt.Sprintf("%s: %v", name, err))
		}
	}

	path := filepath.Join(e.templatesDir, recordType+".md.tmpl")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return root.Parse(defaultTemplate)
		}

		return nil, cerrors.Operational("templateengine", "reading template for "+recordType, err)
	}

	parsed, err := root.Parse(string(raw))
	if err != nil {
		return nil, cerrors.Validation("Template", "invalid_template", fmt.Sprintf("%s: %v", recordType, err))
	}

	return parsed, nil
}

const defaultTemplate = `# {{.Title}}

{{.Content}}
`
