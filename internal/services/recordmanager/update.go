package recordmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/workflow"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// MetadataPatch shallow-merges into a Record's Metadata (spec.md §4.6
// "metadata is shallow-merged"): a nil field leaves the current value
// untouched, a non-nil field replaces it wholesale.
type MetadataPatch struct {
	Tags    *[]string
	Module  *string
	Version *string
}

// UpdatePatch is the update() operation's input (spec.md §4.6). Title
// and Content fully replace when present; Metadata shallow-merges.
type UpdatePatch struct {
	Title    *string
	Content  *string
	Status   *string
	Metadata *MetadataPatch
	Authors  *[]recdomain.Author
}

// Update implements spec.md §4.6 update(): load current, canAct(edit),
// canTransition if status is patched, merge, then the create-style
// saga against the same path (slug is immutable, see spec.md §4.6
// "Slug policy").
func (m *Manager) Update(ctx context.Context, principal rolemgr.Principal, idOrPath string, patch UpdatePatch, opctx OpContext) (*recdomain.Record, error) {
	return m.update(ctx, principal, idOrPath, patch, opctx, "")
}

// SetStatus implements spec.md §4.6 setStatus(): a specialization of
// update restricted to the status field, additionally emitting
// record:status-changed. message overrides the default commit message
// when non-empty.
func (m *Manager) SetStatus(ctx context.Context, principal rolemgr.Principal, idOrPath, newStatus, message string, opctx OpContext) (*recdomain.Record, error) {
	patch := UpdatePatch{Status: &newStatus}
	return m.update(ctx, principal, idOrPath, patch, opctx, message)
}

func (m *Manager) update(ctx context.Context, principal rolemgr.Principal, idOrPath string, patch UpdatePatch, opctx OpContext, commitMessage string) (*recdomain.Record, error) {
	current, fsPath, err := m.loadFull(ctx, idOrPath)
	if err != nil {
		return nil, err
	}

	if decision := m.engine.CanAct(principal.Role, workflow.ActionEdit, current.Type); !decision.Valid {
		return nil, cerrors.Authorization(decision.Reason)
	}

	statusChanged := false

	if patch.Status != nil && *patch.Status != current.Status {
		decision := m.engine.CanTransition(principal.Role, current.Type, current.Status, *patch.Status)
		if !decision.Valid {
			return nil, cerrors.Authorization(decision.Reason)
		}

		statusChanged = true
	}

	if patch.Authors != nil {
		if err := m.validateAuthors(*patch.Authors, ""); err != nil {
			return nil, err
		}
	}

	merged := applyPatch(current, patch)

	if commitMessage == "" {
		commitMessage = fmt.Sprintf("update(%s): %s", current.Type, current.Slug)
	}

	events := []hookbus.Event{hookbus.EventRecordUpdated}
	if statusChanged {
		events = append(events, hookbus.EventRecordStatusChange)
	}

	events = append(events, hookbus.EventRecordCommitted)

	handle, err := m.sagas.Begin(ctx, "record:update", opctx.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if handle.Replayed() {
		return decodeRecordResult(handle)
	}

	if err := handle.Lock(ctx, lockKey(current.Type, current.Slug)); err != nil {
		return nil, err
	}

	if err := m.writeCommitIndex(ctx, handle, writeCommitIndexArgs{
		principal:     principal,
		rec:           merged,
		prevRec:       current,
		fsPath:        fsPath,
		gitPath:       current.Path(),
		commitMessage: commitMessage,
		opctx:         opctx,
		events:        events,
		isUpdate:      true,
	}); err != nil {
		return nil, err
	}

	if err := handle.Commit(ctx, merged); err != nil {
		return nil, err
	}

	_ = m.cache.InvalidatePath(ctx, fsPath)

	return merged, nil
}

// applyPatch returns a new Record combining current with patch: Title/
// Content replace fully when present, Metadata shallow-merges field by
// field, Authors replaces wholesale when present. UpdatedAt is always
// bumped to now.
func applyPatch(current *recdomain.Record, patch UpdatePatch) *recdomain.Record {
	merged := *current

	if patch.Title != nil {
		merged.Title = *patch.Title
	}

	if patch.Content != nil {
		merged.Content = *patch.Content
	}

	if patch.Status != nil {
		merged.Status = *patch.Status
	}

	if patch.Authors != nil {
		merged.Authors = *patch.Authors
	}

	if patch.Metadata != nil {
		if patch.Metadata.Tags != nil {
			merged.Metadata.Tags = *patch.Metadata.Tags
		}

		if patch.Metadata.Module != nil {
			merged.Metadata.Module = *patch.Metadata.Module
		}

		if patch.Metadata.Version != nil {
			merged.Metadata.Version = *patch.Metadata.Version
		}
	}

	merged.UpdatedAt = time.Now().UTC()

	return &merged
}

// loadFull resolves idOrPath to its Index DB row, then hydrates Content
// from the Record Store, without applying the public-role view filter
// (callers here are always mutating under an already-checked role).
func (m *Manager) loadFull(ctx context.Context, idOrPath string) (*recdomain.Record, string, error) {
	rec, err := m.lookup(ctx, idOrPath)
	if err != nil {
		return nil, "", err
	}

	fsPath := m.store.PathFor(rec.Type, rec.Slug)

	content, err := m.store.Read(fsPath)
	if err != nil {
		return nil, "", err
	}

	rec.Content = content.Content

	return rec, fsPath, nil
}
