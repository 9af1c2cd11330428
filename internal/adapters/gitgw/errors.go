package gitgw

import (
	"errors"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// NotARepository reports that repoRoot is not (yet) a git working tree.
func NotARepository() error {
	return cerrors.Operational("git_repo", "not a git repository", nil)
}

// DirtyIndex reports that an operation requiring a clean index found
// staged or unstaged changes left over from a prior failed operation.
func DirtyIndex() error {
	return cerrors.Conflict("GitIndex", "dirty_index", "working tree index is not clean")
}

// NothingToCommit reports that Commit was called with an empty staged
// diff; callers should treat this as a no-op rather than an error.
func NothingToCommit() error {
	return cerrors.Conflict("GitCommit", "nothing_to_commit", "no staged changes to commit")
}

// MergeConflict reports that a commit or merge failed due to conflicting
// changes in the working tree.
func MergeConflict(cause error) error {
	return cerrors.New(cerrors.KindConflict, "merge conflict", cause)
}

// IsNothingToCommit reports whether err is the NothingToCommit sentinel.
func IsNothingToCommit(err error) bool {
	var e *cerrors.Error
	if errors.As(err, &e) {
		return e.EntityType == "GitCommit" && e.Code == "nothing_to_commit"
	}

	return false
}
