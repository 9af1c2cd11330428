package indexing

import (
	"context"

	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// SyncResult tallies one Sync run's outcome.
type SyncResult struct {
	Scanned     int
	Reconciled  []string // "type/slug" pairs the policy actually changed
	Conflicts   []string // "type/slug" pairs left unresolved under manual
	Quarantined []ErrorEntry
}

// Sync walks every record file, compares it against its Index DB row,
// and reconciles divergence per policy (spec.md §4.6 "Conflict
// resolution (FS vs DB) for the Indexing Service"). A record present
// on disk but missing from the DB is always inserted regardless of
// policy — that is not a conflict, just an un-indexed file.
func (s *Service) Sync(ctx context.Context, actor string, policy ConflictPolicy) (*SyncResult, error) {
	paths, err := s.store.List("")
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}

	for _, path := range paths {
		result.Scanned++

		fileRec, err := s.store.Read(path)
		if err != nil {
			result.Quarantined = append(result.Quarantined, ErrorEntry{File: path, Error: err.Error()})
			continue
		}

		dbRec, err := s.repo.GetByTypeSlug(ctx, fileRec.Type, fileRec.Slug)
		if err != nil {
			if cerrors.KindOf(err) == cerrors.KindNotFound {
				if err := s.repo.Insert(ctx, fileRec); err != nil {
					return nil, err
				}

				result.Reconciled = append(result.Reconciled, fileRec.Type+"/"+fileRec.Slug)

				continue
			}

			return nil, err
		}

		if recordsAgree(fileRec, dbRec) {
			continue
		}

		changed, err := s.resolve(ctx, actor, policy, path, fileRec, dbRec)
		if err != nil {
			return nil, err
		}

		if changed {
			result.Reconciled = append(result.Reconciled, fileRec.Type+"/"+fileRec.Slug)
		} else {
			result.Conflicts = append(result.Conflicts, fileRec.Type+"/"+fileRec.Slug)
		}
	}

	return result, nil
}

func recordsAgree(file, db *recdomain.Record) bool {
	return file.Status == db.Status && file.Title == db.Title && file.UpdatedAt.Equal(db.UpdatedAt)
}

// resolve applies policy to one divergent (file, db) pair. Returns
// whether it changed anything.
func (s *Service) resolve(ctx context.Context, actor string, policy ConflictPolicy, path string, fileRec, dbRec *recdomain.Record) (bool, error) {
	switch policy {
	case PolicyFileWins:
		return true, s.writeDB(ctx, actor, path, fileRec, dbRec)

	case PolicyDatabaseWins:
		return true, s.writeFile(ctx, actor, path, dbRec, fileRec)

	case PolicyTimestamp:
		if fileRec.UpdatedAt.After(dbRec.UpdatedAt) || fileRec.UpdatedAt.Equal(dbRec.UpdatedAt) {
			return true, s.writeDB(ctx, actor, path, fileRec, dbRec)
		}

		return true, s.writeFile(ctx, actor, path, dbRec, fileRec)

	case PolicyManual:
		if s.bus != nil {
			_ = s.bus.Dispatch(ctx, hookbus.EventSyncConflict, actor, fileRec.Type, fileRec.Slug, hookbus.Payload{
				"file_status": fileRec.Status,
				"db_status":   dbRec.Status,
				"path":        path,
			})
		}

		return false, nil

	default:
		return false, cerrors.Validation("ConflictPolicy", "unknown_policy", string(policy))
	}
}

// writeDB rewrites the Index DB row from the file's frontmatter
// (file-wins direction).
func (s *Service) writeDB(ctx context.Context, actor, path string, fileRec, dbRec *recdomain.Record) error {
	fileRec.ID = dbRec.ID

	if err := s.repo.Update(ctx, fileRec); err != nil {
		return err
	}

	if s.bus != nil {
		_ = s.bus.Dispatch(ctx, hookbus.EventSyncConflict, actor, fileRec.Type, fileRec.Slug, hookbus.Payload{
			"resolution": "file-wins",
			"path":       path,
		})
	}

	return nil
}

// writeFile rewrites the file's frontmatter from the DB row
// (database-wins direction) — the only place this system rewrites a
// frontmatter field it did not directly author (spec.md §4.6), so it
// goes through the attached Record Manager's Validate first if one is
// attached.
func (s *Service) writeFile(ctx context.Context, actor, path string, dbRec, fileRec *recdomain.Record) error {
	merged := *fileRec
	merged.Status = dbRec.Status
	merged.Title = dbRec.Title
	merged.UpdatedAt = dbRec.UpdatedAt

	if s.rm != nil {
		if err := s.rm.Validate(ctx, &merged); err != nil {
			return err
		}
	}

	if err := s.store.Write(path, &merged); err != nil {
		return err
	}

	if s.bus != nil {
		_ = s.bus.Dispatch(ctx, hookbus.EventSyncConflict, actor, merged.Type, merged.Slug, hookbus.Payload{
			"resolution": "database-wins",
			"path":       path,
		})
	}

	return nil
}
