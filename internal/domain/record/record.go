// Package record defines the Record entity (spec.md §3) and the repository
// port the rest of the engine depends on.
//
// Grounded on LerianStudio/midaz's domain/onboarding/organization package
// layout: a plain entity struct, a companion PostgreSQL-model struct with
// ToEntity/FromEntity conversions (kept in the adapters package, not here,
// to keep this package storage-agnostic), and a Repository interface.
package record

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Author is a structured contributor entry (spec.md §3 authors[]).
type Author struct {
	Username string `yaml:"username"`
	Role     string `yaml:"role,omitempty"`
}

// Geography carries the optional geography{} frontmatter block. BBox/
// Center are stored as decimal.Decimal rather than float64 so a
// coordinate round-tripped through YAML frontmatter and the Index DB
// never drifts a digit (same rationale the teacher applies to ledger
// amounts).
type Geography struct {
	SRID    int               `yaml:"srid,omitempty"`
	ZoneRef string            `yaml:"zone_ref,omitempty"`
	BBox    []decimal.Decimal `yaml:"bbox,omitempty"`
	Center  []decimal.Decimal `yaml:"center,omitempty"`
}

// Metadata is the free-form frontmatter bag. Tags/Module/Version are
// promoted fields for the common case; Extra preserves any unknown key
// verbatim so a round trip never loses data (spec.md §3, §9).
type Metadata struct {
	Tags    []string       `yaml:"tags,omitempty"`
	Module  string         `yaml:"module,omitempty"`
	Version string         `yaml:"version,omitempty"`
	Extra   map[string]any `yaml:"-"`
}

// Record is the canonical civic-document entity.
type Record struct {
	ID        uuid.UUID
	Slug      string
	Type      string
	Title     string
	Status    string
	Content   string
	Author    string
	Authors   []Author
	Metadata  Metadata
	Geography *Geography
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Path returns the canonical on-disk path for the record, relative to the
// records root (spec.md §6): records/<type>/<slug>.md
func (r *Record) Path() string {
	return "records/" + r.Type + "/" + r.Slug + ".md"
}

// ETag is a cheap optimistic-concurrency token derived from UpdatedAt and
// Status (spec.md §9 Open Questions: optional for CLI, required for HTTP
// callers — HTTP doesn't exist in this module, so it's optional everywhere
// here, but callers that want it can compare this value).
func (r *Record) ETag() string {
	return r.Status + "@" + r.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

// PublishedStatuses lists the statuses visible to the public role (spec.md
// §4.6 "role filter hides unpublished statuses from public"). Carried as a
// small fixed list rather than a configurable one since spec.md names no
// per-status publication flag; both Filter.PublicOnly's Repository.List
// handling and the Record Manager's single-record view check apply it.
func PublishedStatuses() []string {
	return []string{"approved", "archived"}
}

// Filter selects records for Repository.List (spec.md §4.6 list).
type Filter struct {
	Type       string
	Status     string
	Author     string
	Tags       []string
	Query      string
	PublicOnly bool
	Offset     int
	Limit      int
}

// Page is a paginated result set.
type Page struct {
	Records []*Record
	Total   int
}

// Repository is the Index DB's view of records — the authoritative store
// for list/search/get-by-id per spec.md's read path (§2).
type Repository interface {
	Insert(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByTypeSlug(ctx context.Context, recordType, slug string) (*Record, error)
	List(ctx context.Context, filter Filter) (*Page, error)
	SlugExists(ctx context.Context, recordType, slug string) (bool, error)
}
