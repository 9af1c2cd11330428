package recordmanager

import (
	"context"

	"github.com/civicforge/recordengine/internal/adapters/gitgw"
	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
)

// writeCommitIndexArgs parameterizes the write-file -> stage+commit ->
// index-row saga shared by create, update, and setStatus (spec.md
// §4.6: "the create-style saga"); delete runs its own saga body, see
// runDeleteSaga.
type writeCommitIndexArgs struct {
	principal rolemgr.Principal
	rec       *recdomain.Record
	prevRec   *recdomain.Record // nil on create; the pre-image for update compensation

	// fsPath is the absolute path fsstore.Store operates on; gitPath is
	// the same file's path relative to the git working tree root
	// (records/<type>/<slug>.md), which is what git subprocess
	// invocations expect (spec.md §6 repository layout).
	fsPath  string
	gitPath string

	commitMessage string
	opctx         OpContext
	events        []hookbus.Event
	isUpdate      bool
}

// writeCommitIndex runs the shared mutating saga body inside an
// already-begun, already-locked Handle: write the file, stage+commit
// it, mirror the row in the Index DB, then dispatch the operation's
// hook events. A failure at any step compensates every earlier step in
// reverse order via Handle.Step's own rollback.
func (m *Manager) writeCommitIndex(ctx context.Context, handle *sagaexec.Handle, args writeCommitIndexArgs) error {
	if err := handle.Step(ctx, "write_file", func() (any, error) {
		return nil, m.store.Write(args.fsPath, args.rec)
	}, func(any) error {
		if args.prevRec != nil {
			return m.store.Write(args.fsPath, args.prevRec)
		}

		return m.store.Delete(args.fsPath, args.rec.Type, args.rec.Slug, "remove")
	}); err != nil {
		return err
	}

	if err := handle.Step(ctx, "git_commit", func() (any, error) {
		return m.commitRecord(ctx, args)
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
		if args.isUpdate {
			return nil, m.repo.Update(ctx, args.rec)
		}

		return nil, m.repo.Insert(ctx, args.rec)
	}, func(any) error {
		if args.isUpdate && args.prevRec != nil {
			return m.repo.Update(ctx, args.prevRec)
		}

		return m.repo.Delete(ctx, args.rec.ID)
	}); err != nil {
		return err
	}

	return handle.Step(ctx, "dispatch_hooks", func() (any, error) {
		return nil, m.dispatchAll(ctx, args)
	}, nil)
}

// commitRecord stages and commits args.gitPath. A failed Commit leaves the
// path unstaged again so the index stays clean for the next caller; a
// NothingToCommit result (patch changed nothing byte-for-byte) is not
// an error, just an empty hash with nothing to compensate later.
func (m *Manager) commitRecord(ctx context.Context, args writeCommitIndexArgs) (string, error) {
	if err := m.git.Stage(ctx, []string{args.gitPath}); err != nil {
		return "", err
	}

	hash, err := m.git.Commit(ctx, args.commitMessage, m.identity)
	if err != nil {
		if gitgw.IsNothingToCommit(err) {
			return "", nil
		}

		_ = m.git.Unstage(ctx, []string{args.gitPath})

		return "", err
	}

	return hash, nil
}

func (m *Manager) dispatchAll(ctx context.Context, args writeCommitIndexArgs) error {
	if m.bus == nil {
		return nil
	}

	dryRun := args.opctx.dryRunSet()

	payload := hookbus.Payload{
		"type":   args.rec.Type,
		"slug":   args.rec.Slug,
		"status": args.rec.Status,
	}

	for _, event := range args.events {
		if dryRun[event] {
			m.bus.SetDryRun(event, true)
		}

		err := m.bus.Dispatch(ctx, event, args.principal.Username, args.rec.Type, args.rec.Slug, payload)

		if dryRun[event] {
			m.bus.SetDryRun(event, false)
		}

		if err != nil {
			return err
		}
	}

	return nil
}
