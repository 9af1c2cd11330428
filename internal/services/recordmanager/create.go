package recordmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/workflow"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// CreateInput is the create() operation's input (spec.md §4.6).
type CreateInput struct {
	Type     string
	Title    string
	Content  string
	Metadata recdomain.Metadata
	Authors  []recdomain.Author
}

// Create implements spec.md §4.6 create(): validate type, canAct,
// derive slug, then run the write-commit-index saga. On any saga-step
// failure, compensations undo steps 1..n-1 in reverse: DB delete,
// git revert/reset, file delete.
func (m *Manager) Create(ctx context.Context, principal rolemgr.Principal, input CreateInput, opctx OpContext) (*recdomain.Record, error) {
	if !m.isTypeConfigured(input.Type) {
		return nil, cerrors.Validation("Record", "unknown_type", "record type "+input.Type+" is not configured")
	}

	if decision := m.engine.CanAct(principal.Role, workflow.ActionCreate, input.Type); !decision.Valid {
		return nil, cerrors.Authorization(decision.Reason)
	}

	if err := m.validateAuthors(input.Authors, principal.Username); err != nil {
		return nil, err
	}

	base := recdomain.Slugify(input.Title)
	if base == "" {
		return nil, cerrors.Validation("Record", "invalid_title", "title must yield a non-empty slug")
	}

	slug, err := recdomain.UniqueSlug(base, func(candidate string) (bool, error) {
		return m.repo.SlugExists(ctx, input.Type, candidate)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &recdomain.Record{
		ID:        uuid.Must(uuid.NewV7()),
		Slug:      slug,
		Type:      input.Type,
		Title:     input.Title,
		Status:    defaultStatus(m.workflowCfg.StatusesFor(input.Type)),
		Content:   input.Content,
		Author:    principal.Username,
		Authors:   input.Authors,
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	fsPath := m.store.PathFor(input.Type, slug)
	gitPath := rec.Path()

	handle, err := m.sagas.Begin(ctx, "record:create", opctx.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if handle.Replayed() {
		return decodeRecordResult(handle)
	}

	if err := handle.Lock(ctx, lockKey(input.Type, slug)); err != nil {
		return nil, err
	}

	if err := m.runCreateSaga(ctx, handle, principal, rec, fsPath, gitPath, opctx); err != nil {
		return nil, err
	}

	if err := handle.Commit(ctx, rec); err != nil {
		return nil, err
	}

	_ = m.cache.InvalidatePath(ctx, fsPath)

	return rec, nil
}

func (m *Manager) runCreateSaga(ctx context.Context, handle *sagaexec.Handle, principal rolemgr.Principal, rec *recdomain.Record, fsPath, gitPath string, opctx OpContext) error {
	return m.writeCommitIndex(ctx, handle, writeCommitIndexArgs{
		principal:     principal,
		rec:           rec,
		fsPath:        fsPath,
		gitPath:       gitPath,
		commitMessage: fmt.Sprintf("feat(%s): add %s", rec.Type, rec.Slug),
		opctx:         opctx,
		events:        []hookbus.Event{hookbus.EventRecordCreated, hookbus.EventRecordCommitted},
	})
}

func defaultStatus(statuses []string) string {
	if len(statuses) == 0 {
		return "draft"
	}

	return statuses[0]
}

func (m *Manager) validateAuthors(authors []recdomain.Author, defaultAuthor string) error {
	if m.users == nil {
		return nil
	}

	if defaultAuthor != "" && !m.users.Exists(defaultAuthor) {
		return cerrors.Validation("Record", "unknown_user", "author "+defaultAuthor+" does not exist")
	}

	for _, a := range authors {
		if !m.users.Exists(a.Username) {
			return cerrors.Validation("Record", "unknown_user", "author "+a.Username+" does not exist")
		}
	}

	return nil
}
