package recordmanager

import (
	"context"
	"strings"

	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// FieldError is one failed check from ValidateRecord.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// ValidationResult is the outcome of the offline validate(record)
// operation (spec.md §4.6): every check runs regardless of earlier
// failures, so a caller sees the full set of problems at once.
type ValidationResult struct {
	Valid  bool
	Errors []FieldError
}

func (r *ValidationResult) fail(field, code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Code: code, Message: message})
}

// ValidateRecord runs the offline frontmatter/required-fields check
// spec.md §4.6 names: required fields present, type and status
// configured, slug uniqueness under the same type, every author
// username known, and tags are lowercase strings. It never touches the
// Record Store or git — only the Index DB (for slug uniqueness), the
// UserChecker (for author existence), and in-memory configuration.
func (m *Manager) ValidateRecord(ctx context.Context, rec *recdomain.Record) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	if strings.TrimSpace(rec.Title) == "" {
		result.fail("title", "required", "title is required")
	}

	if strings.TrimSpace(rec.Type) == "" {
		result.fail("type", "required", "type is required")
	} else if !m.isTypeConfigured(rec.Type) {
		result.fail("type", "unknown_type", "record type "+rec.Type+" is not configured")
	}

	if strings.TrimSpace(rec.Status) == "" {
		result.fail("status", "required", "status is required")
	} else if rec.Type != "" && !containsStatus(m.workflowCfg.StatusesFor(rec.Type), rec.Status) {
		result.fail("status", "unknown_status", "status "+rec.Status+" is not configured for type "+rec.Type)
	}

	if err := m.checkSlugUnique(ctx, rec, result); err != nil {
		return nil, err
	}

	m.checkAuthors(rec, result)
	checkTags(rec, result)

	return result, nil
}

// Validate satisfies indexing.RecordManager: it collapses
// ValidateRecord's error list into a single error, for the one caller
// (the Indexing Service's database-wins sync path) that needs a plain
// pass/fail rather than the full field-level report.
func (m *Manager) Validate(ctx context.Context, rec *recdomain.Record) error {
	result, err := m.ValidateRecord(ctx, rec)
	if err != nil {
		return err
	}

	if !result.Valid {
		return cerrors.Validation("Record", "invalid_record", result.Errors[0].Message).
			WithDetails(map[string]any{"errors": result.Errors})
	}

	return nil
}

func (m *Manager) checkSlugUnique(ctx context.Context, rec *recdomain.Record, result *ValidationResult) error {
	if rec.Type == "" || rec.Slug == "" {
		return nil
	}

	existing, err := m.repo.GetByTypeSlug(ctx, rec.Type, rec.Slug)
	if err != nil {
		if cerrors.KindOf(err) == cerrors.KindNotFound {
			return nil
		}

		return err
	}

	if rec.ID == existing.ID {
		return nil
	}

	result.fail("slug", "slug_taken", "slug "+rec.Slug+" is already used by another "+rec.Type+" record")

	return nil
}

func (m *Manager) checkAuthors(rec *recdomain.Record, result *ValidationResult) {
	if m.users == nil {
		return
	}

	if rec.Author != "" && !m.users.Exists(rec.Author) {
		result.fail("author", "unknown_user", "author "+rec.Author+" does not exist")
	}

	for _, a := range rec.Authors {
		if !m.users.Exists(a.Username) {
			result.fail("authors", "unknown_user", "author "+a.Username+" does not exist")
		}
	}
}

func checkTags(rec *recdomain.Record, result *ValidationResult) {
	for _, tag := range rec.Metadata.Tags {
		if tag != strings.ToLower(tag) {
			result.fail("metadata.tags", "not_lowercase", "tag "+tag+" must be lowercase")
			return
		}
	}
}

// isTypeConfigured implements spec.md §4.6's "validate type ∈
// configured": when workflows.yml declares explicit recordTypes
// overrides, membership in that set is the configured-type list; an
// engine with no recordTypes overrides at all configures types
// implicitly through the global statuses/transitions, so any non-empty
// type name is accepted (Open Question decision, see DESIGN.md).
func (m *Manager) isTypeConfigured(recordType string) bool {
	if recordType == "" {
		return false
	}

	if len(m.workflowCfg.RecordTypes) == 0 {
		return true
	}

	_, ok := m.workflowCfg.RecordTypes[recordType]

	return ok
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}

	return false
}
