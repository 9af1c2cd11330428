package indexing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/civicforge/recordengine/internal/adapters/fsstore"
	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// GeneratorVersion is stamped into every generated index.yml's
// metadata.generator_version field.
const GeneratorVersion = "1.0.0"

// RecordManager is the narrow slice of recordmanager.Manager the
// Indexing Service needs: validating a record's frontmatter before
// Sync rewrites it under the database-wins policy, so reconciliation
// never bypasses the same checks a direct edit would go through.
// Implemented by recordmanager.Manager; bound via AttachRecordManager
// after both are constructed, so this package never imports
// recordmanager.
type RecordManager interface {
	Validate(ctx context.Context, rec *recdomain.Record) error
}

// Service builds the canonical index.yml and reconciles the Index DB
// against the Record Store's file tree (spec.md §4.8).
type Service struct {
	store  *fsstore.Store
	repo   recdomain.Repository
	writer IndexWriter
	bus    *hookbus.Bus
	logger mlog.Logger

	rm RecordManager
}

// IndexWriter persists the generated index.yml. Satisfied by
// *FileWriter (see indexfile.go in this package); named as an
// interface so tests can substitute an in-memory capture.
type IndexWriter interface {
	Write(path string, index *Index) error
}

// New constructs a Service with no RecordManager attached yet
// (constructor-pure per the Open Question decision). Call
// AttachRecordManager once the Record Manager exists.
func New(store *fsstore.Store, repo recdomain.Repository, writer IndexWriter, bus *hookbus.Bus, logger mlog.Logger) *Service {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	return &Service{store: store, repo: repo, writer: writer, bus: bus, logger: logger}
}

// AttachRecordManager binds the Record Manager dependency after
// construction (spec.md §9 deferred-registration decision).
func (s *Service) AttachRecordManager(rm RecordManager) {
	s.rm = rm
}

// Entry is one index.yml record entry.
type Entry struct {
	File      string        `yaml:"file"`
	ID        string        `yaml:"id,omitempty"`
	Type      string        `yaml:"type"`
	Status    string        `yaml:"status"`
	Title     string        `yaml:"title"`
	Author    string        `yaml:"author,omitempty"`
	CreatedAt string        `yaml:"created_at,omitempty"`
	UpdatedAt string        `yaml:"updated_at,omitempty"`
	Metadata  EntryMetadata `yaml:"metadata,omitempty"`
}

// EntryMetadata is the per-entry metadata block of index.yml.
type EntryMetadata struct {
	Tags    []string `yaml:"tags,omitempty"`
	Module  string   `yaml:"module,omitempty"`
	Slug    string   `yaml:"slug,omitempty"`
	Version string   `yaml:"version,omitempty"`
}

// IndexMeta is the trailing metadata block of index.yml.
type IndexMeta struct {
	TotalRecords     int      `yaml:"totalRecords"`
	Types            []string `yaml:"types"`
	Modules          []string `yaml:"modules,omitempty"`
	GeneratedAt      string   `yaml:"generated_at"`
	GeneratorVersion string   `yaml:"generator_version"`
}

// ErrorEntry reports one malformed record file that was skipped rather
// than failing the whole generation (spec.md §4.8 invariant).
type ErrorEntry struct {
	File  string `yaml:"file"`
	Error string `yaml:"error"`
}

// Index is the full parsed/generated shape of index.yml.
type Index struct {
	Entries []Entry      `yaml:"entries"`
	Meta    IndexMeta    `yaml:"metadata"`
	Errors  []ErrorEntry `yaml:"errors,omitempty"`
}

// Generate scans the records tree and builds the canonical index.yml
// in memory, ordered by type then slug for diff-friendly output
// (spec.md §4.8). A malformed record is recorded under Errors and does
// not block the rest of the scan. Generation is pure: it does not
// write anything or touch the Index DB. Call Write separately, and
// Sync for DB reconciliation.
func (s *Service) Generate(recordType string) (*Index, error) {
	paths, err := s.store.List(recordType)
	if err != nil {
		return nil, err
	}

	idx := &Index{}

	typeSet := map[string]bool{}
	moduleSet := map[string]bool{}

	for _, path := range paths {
		rec, err := s.store.Read(path)
		if err != nil {
			idx.Errors = append(idx.Errors, ErrorEntry{File: path, Error: err.Error()})
			continue
		}

		idx.Entries = append(idx.Entries, entryFor(path, rec))
		typeSet[rec.Type] = true

		if rec.Metadata.Module != "" {
			moduleSet[rec.Metadata.Module] = true
		}
	}

	sortEntries(idx.Entries)

	idx.Meta = IndexMeta{
		TotalRecords:     len(idx.Entries),
		Types:            sortedKeys(typeSet),
		Modules:          sortedKeys(moduleSet),
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		GeneratorVersion: GeneratorVersion,
	}

	return idx, nil
}

func entryFor(path string, rec *recdomain.Record) Entry {
	e := Entry{
		File:   path,
		Type:   rec.Type,
		Status: rec.Status,
		Title:  rec.Title,
		Author: rec.Author,
		Metadata: EntryMetadata{
			Tags:    rec.Metadata.Tags,
			Module:  rec.Metadata.Module,
			Slug:    rec.Slug,
			Version: rec.Metadata.Version,
		},
	}

	if rec.ID != uuid.Nil {
		e.ID = rec.ID.String()
	}

	if !rec.CreatedAt.IsZero() {
		e.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	if !rec.UpdatedAt.IsZero() {
		e.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	return e
}

// GenerateAndWrite generates the index and persists it at path,
// emitting index:generated.
func (s *Service) GenerateAndWrite(ctx context.Context, path, actor string) (*Index, error) {
	idx, err := s.Generate("")
	if err != nil {
		return nil, err
	}

	if err := s.writer.Write(path, idx); err != nil {
		return nil, cerrors.Operational("indexing", "writing index.yml", err)
	}

	if s.bus != nil {
		_ = s.bus.Dispatch(ctx, hookbus.EventIndexGenerated, actor, "index", path, hookbus.Payload{
			"totalRecords": idx.Meta.TotalRecords,
			"errors":       len(idx.Errors),
		})
	}

	return idx, nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
