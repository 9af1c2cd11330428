// Package indexing implements the Indexing Service of spec.md §4.8:
// canonical index.yml generation and FS<->Index DB reconciliation
// under a selectable conflict policy.
//
// Grounded on no single teacher file (the teacher has no FS<->DB
// reconciliation concept; its DB rows are never derived from a
// parallel file tree), so the shape here follows spec.md §4.8/§9
// directly: a constructor-pure Service plus a deferred
// AttachRecordManager, the Open Question decision already recorded in
// DESIGN.md. indexing calls back into the Record Manager's validation
// before rewriting a file under database-wins; the Record Manager does
// not call into indexing. indexing defines the narrow RecordManager
// interface it needs locally instead of importing recordmanager, and
// the container wires the concrete instance in after both are
// constructed.
package indexing

import cerrors "github.com/civicforge/recordengine/pkg/errors"

// ConflictPolicy selects how Sync resolves a record whose frontmatter
// and Index DB row disagree (spec.md §4.6, §9).
type ConflictPolicy string

const (
	PolicyFileWins     ConflictPolicy = "file-wins"
	PolicyDatabaseWins ConflictPolicy = "database-wins"
	PolicyTimestamp    ConflictPolicy = "timestamp"
	PolicyManual       ConflictPolicy = "manual"
)

// ParsePolicy validates name against the closed set spec.md §9 names as
// authoritative, rejecting any other value with a ValidationError
// rather than silently falling back to a default.
func ParsePolicy(name string) (ConflictPolicy, error) {
	switch ConflictPolicy(name) {
	case PolicyFileWins, PolicyDatabaseWins, PolicyTimestamp, PolicyManual:
		return ConflictPolicy(name), nil
	default:
		return "", cerrors.Validation("ConflictPolicy", "unknown_policy",
			"conflict policy must be one of file-wins, database-wins, timestamp, manual")
	}
}
