package indexing

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// FileWriter persists an Index to path atomically (temp-file-same-dir
// + fsync + rename), the same discipline
// internal/adapters/fsstore.Store.Write uses for record files: running
// Generate twice with no underlying changes must produce byte-identical
// output (spec.md §4.8), which an atomic whole-file replace guarantees
// in a way an in-place truncate-then-write does not.
type FileWriter struct{}

func NewFileWriter() *FileWriter { return &FileWriter{} }

var _ IndexWriter = (*FileWriter)(nil)

func (w *FileWriter) Write(path string, index *Index) error {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(index); err != nil {
		return cerrors.Operational("indexing", "encoding index.yml", err)
	}

	if err := enc.Close(); err != nil {
		return cerrors.Operational("indexing", "encoding index.yml", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerrors.Transient("creating index directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-index-*")
	if err != nil {
		return cerrors.Transient("creating temp index file", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return cerrors.Transient("writing temp index file", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return cerrors.Transient("fsync temp index file", err)
	}

	if err := tmp.Close(); err != nil {
		return cerrors.Transient("closing temp index file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return cerrors.Transient("renaming index file into place", err)
	}

	return nil
}
