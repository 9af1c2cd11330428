package recordmanager

import (
	"context"
	"fmt"

	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/workflow"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// defaultArchivePolicy governs whether delete() moves a record's file
// under records/archive/ or removes it outright. spec.md §6 names a
// storage.yml that is meant to carry this per-deployment, but defines
// no concrete schema for it and no example in the pack parses one;
// archiving is hardcoded here as the safer default (it preserves
// history the way git revert/reset already does for the other saga
// steps) pending a storage.yml schema (see DESIGN.md Open Questions).
const defaultArchivePolicy = "archive"

// Delete implements spec.md §4.6 delete(): canAct(delete), then a saga
// that archives the file, commits the archive move, removes the Index
// DB row, and emits record:deleted.
func (m *Manager) Delete(ctx context.Context, principal rolemgr.Principal, idOrPath string, opctx OpContext) error {
	current, fsPath, err := m.loadFull(ctx, idOrPath)
	if err != nil {
		return err
	}

	if decision := m.engine.CanAct(principal.Role, workflow.ActionDelete, current.Type); !decision.Valid {
		return cerrors.Authorization(decision.Reason)
	}

	handle, err := m.sagas.Begin(ctx, "record:delete", opctx.IdempotencyKey)
	if err != nil {
		return err
	}

	if handle.Replayed() {
		return nil
	}

	if err := handle.Lock(ctx, lockKey(current.Type, current.Slug)); err != nil {
		return err
	}

	if err := m.runDeleteSaga(ctx, handle, principal, current, fsPath, opctx); err != nil {
		return err
	}

	if err := handle.Commit(ctx, map[string]string{"deleted": current.Slug}); err != nil {
		return err
	}

	_ = m.cache.InvalidatePath(ctx, fsPath)

	return nil
}

// runDeleteSaga archives the file, commits the archive move, drops the
// Index DB row, and dispatches record:deleted. Unlike
// writeCommitIndex, the file-move direction is reversed (out of the
// records tree instead of into it), so delete gets its own saga body
// rather than reusing writeCommitIndexArgs.
func (m *Manager) runDeleteSaga(ctx context.Context, handle *sagaexec.Handle, principal rolemgr.Principal, current *recdomain.Record, fsPath string, opctx OpContext) error {
	if err := handle.Step(ctx, "archive_file", func() (any, error) {
		return nil, m.store.Delete(fsPath, current.Type, current.Slug, defaultArchivePolicy)
	}, func(any) error {
		if defaultArchivePolicy == "archive" {
			return m.store.RestoreFromArchive(fsPath, current.Type, current.Slug)
		}

		return m.store.Write(fsPath, current)
	}); err != nil {
		return err
	}

	commitMessage := fmt.Sprintf("chore(%s): archive %s", current.Type, current.Slug)

	stagePaths := []string{current.Path()}
	if defaultArchivePolicy == "archive" {
		stagePaths = append(stagePaths, "records/archive/"+current.Type+"/"+current.Slug+".md")
	}

	if err := handle.Step(ctx, "git_commit", func() (any, error) {
		return m.commitArchiveMove(ctx, stagePaths, commitMessage)
	}, func(payload any) error {
		hash, _ := payload.(string)
		if hash == "" {
			return nil
		}

		_, err := m.git.Revert(ctx, hash, m.identity)

		return err
	}); err != nil {
		return err
	}

	if err := handle.Step(ctx, "index_db", func() (any, error) {
		return nil, m.repo.Delete(ctx, current.ID)
	}, func(any) error {
		return m.repo.Insert(ctx, current)
	}); err != nil {
		return err
	}

	return handle.Step(ctx, "dispatch_hooks", func() (any, error) {
		if m.bus == nil {
			return nil, nil
		}

		payload := hookbus.Payload{"type": current.Type, "slug": current.Slug}

		if err := m.bus.Dispatch(ctx, hookbus.EventRecordDeleted, principal.Username, current.Type, current.Slug, payload); err != nil {
			return nil, err
		}

		return nil, m.bus.Dispatch(ctx, hookbus.EventRecordCommitted, principal.Username, current.Type, current.Slug, payload)
	}, nil)
}

// commitArchiveMove stages the record's old and new archive paths and
// commits the move. git detects a rename automatically when both sides
// are staged in the same commit.
func (m *Manager) commitArchiveMove(ctx context.Context, paths []string, message string) (string, error) {
	if err := m.git.Stage(ctx, paths); err != nil {
		return "", err
	}

	return m.git.Commit(ctx, message, m.identity)
}
