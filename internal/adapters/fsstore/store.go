// Package fsstore implements the Record Store (FS) of spec.md §4.1: the
// on-disk source of truth for record content.
//
// Grounded on the teacher's write-then-rename discipline for durable
// adapters (every Postgres repository in the pack commits a row only after
// a successful statement; here the equivalent durability boundary is
// temp-file + fsync + rename) and its repository-per-entity shape
// (Create/Update/Delete/Get), adapted to a filesystem instead of SQL.
package fsstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// Store is the filesystem-backed record store rooted at a records/
// directory (spec.md §6 repository layout).
type Store struct {
	recordsDir string
	archiveDir string
}

func New(recordsDir, archiveDir string) *Store {
	return &Store{recordsDir: recordsDir, archiveDir: archiveDir}
}

// PathFor returns the canonical path for (recordType, slug).
func (s *Store) PathFor(recordType, slug string) string {
	return filepath.Join(s.recordsDir, recordType, slug+".md")
}

// Write serializes r's frontmatter+body and writes it atomically: a temp
// file in the same directory, fsync, then os.Rename over the target
// (atomic on POSIX). Parent directories are created as needed. Writing
// never leaves a partial file visible (spec.md §4.1).
func (s *Store) Write(path string, r *recdomain.Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerrors.Transient("creating record directory", err)
	}

	data, err := recdomain.Serialize(r)
	if err != nil {
		return cerrors.Validation("Record", "invalid_frontmatter", err.Error())
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return cerrors.Transient("creating temp file", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return cerrors.Transient("writing temp file", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return cerrors.Transient("fsync temp file", err)
	}

	if err := tmp.Close(); err != nil {
		return cerrors.Transient("closing temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return cerrors.Transient("renaming temp file into place", err)
	}

	return nil
}

// Read loads and parses the record at path.
func (s *Store) Read(path string) (*recdomain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.NotFound("Record", path)
		}

		return nil, cerrors.Transient("reading record file", err)
	}

	r, err := recdomain.Parse(data)
	if err != nil {
		return nil, cerrors.Validation("Record", "invalid_frontmatter", err.Error())
	}

	return r, nil
}

// Exists reports whether a record file exists at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// List walks records/<type>/*.md beneath the records root, optionally
// restricted to one record type, skipping the generated index.yml and the
// archive subtree (spec.md §4.1).
func (s *Store) List(recordType string) ([]string, error) {
	root := s.recordsDir
	if recordType != "" {
		root = filepath.Join(s.recordsDir, recordType)
	}

	var paths []string

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if info.IsDir() {
			if p == s.archiveDir {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasSuffix(p, ".md") && filepath.Base(p) != "index.yml" {
			paths = append(paths, p)
		}

		return nil
	})
	if err != nil {
		return nil, cerrors.Transient("walking records tree", err)
	}

	sort.Strings(paths)

	return paths, nil
}

// Delete removes the record file at path, or moves it to the archive
// subtree under the same (type, slug), depending on archivePolicy
// ("archive" | "remove"; spec.md §4.1).
func (s *Store) Delete(path, recordType, slug, archivePolicy string) error {
	if archivePolicy == "archive" {
		dest := filepath.Join(s.archiveDir, recordType, slug+".md")
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return cerrors.Transient("creating archive directory", err)
		}

		if err := os.Rename(path, dest); err != nil {
			return cerrors.Transient("archiving record file", err)
		}

		return nil
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return cerrors.NotFound("Record", path)
		}

		return cerrors.Transient("removing record file", err)
	}

	return nil
}

// ArchivePathFor returns the canonical archive-subtree path for
// (recordType, slug), the destination Delete's "archive" policy moves
// a file to.
func (s *Store) ArchivePathFor(recordType, slug string) string {
	return filepath.Join(s.archiveDir, recordType, slug+".md")
}

// RestoreFromArchive moves an archived (type, slug) file back to its
// canonical path, the exact inverse of Delete's "archive" policy. Used
// to compensate a saga step that archived a file but failed later
// (spec.md §4.6 delete()'s rollback path).
func (s *Store) RestoreFromArchive(path, recordType, slug string) error {
	src := filepath.Join(s.archiveDir, recordType, slug+".md")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerrors.Transient("creating record directory", err)
	}

	if err := os.Rename(src, path); err != nil {
		return cerrors.Transient("restoring archived record file", err)
	}

	return nil
}

// DeriveSlug wraps record.Slugify for callers that only import fsstore.
func DeriveSlug(title string) string {
	return recdomain.Slugify(title)
}

// ValidatePath checks path conforms to records/<type>/<slug>.md under the
// store's root, guarding against path traversal from a hostile title.
func (s *Store) ValidatePath(recordType, slug string) error {
	if strings.Contains(recordType, "..") || strings.ContainsAny(recordType, "/\\") {
		return cerrors.Validation("Record", "invalid_type", "record type must not contain path separators")
	}

	if strings.Contains(slug, "..") || strings.ContainsAny(slug, "/\\") {
		return cerrors.Validation("Record", "invalid_slug", "slug must not contain path separators")
	}

	if slug == "" {
		return cerrors.Validation("Record", "invalid_slug", "slug must not be empty")
	}

	return nil
}

// PathConflictError reports a slug collision (spec.md §4.1 failures).
func PathConflictError(recordType, slug string) error {
	return cerrors.Conflict("Record", "path_conflict", fmt.Sprintf("%s/%s already exists", recordType, slug))
}
