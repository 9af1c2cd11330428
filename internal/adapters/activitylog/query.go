package activitylog

import (
	"context"
	"encoding/json"
	"time"

	sqrl "github.com/Masterminds/squirrel"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// Filter narrows a Query over the activity mirror table. Zero-valued
// fields are not applied.
type Filter struct {
	EntityType string
	EntityID   string
	Actor      string
	Event      string
	Since      time.Time
	Limit      int
}

// Record is one row read back from the activity mirror, with Details
// decoded from its stored JSON.
type Record struct {
	ID         string
	Event      string
	Actor      string
	EntityType string
	EntityID   string
	Details    map[string]any
	CreatedAt  time.Time
}

// Query lists mirrored activity entries most-recent first, the
// read-side counterpart used by the Record Manager's history views and
// by the CLI's `log` command. It reads only the Index DB mirror, never
// the JSONL file, matching spec.md §4.10's "queryable mirror" framing.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Record, error) {
	if l.db == nil {
		return nil, nil
	}

	q := l.builder().Select("id", "event", "actor", "entity_type", "entity_id", "details", "created_at").
		From("activity").
		OrderBy("created_at DESC")

	if filter.EntityType != "" {
		q = q.Where(sqrl.Eq{"entity_type": filter.EntityType})
	}

	if filter.EntityID != "" {
		q = q.Where(sqrl.Eq{"entity_id": filter.EntityID})
	}

	if filter.Actor != "" {
		q = q.Where(sqrl.Eq{"actor": filter.Actor})
	}

	if filter.Event != "" {
		q = q.Where(sqrl.Eq{"event": filter.Event})
	}

	if !filter.Since.IsZero() {
		q = q.Where(sqrl.GtOrEq{"created_at": filter.Since.UTC().Format(time.RFC3339Nano)})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q = q.Limit(uint64(limit))

	rows, err := q.RunWith(l.db).QueryContext(ctx)
	if err != nil {
		return nil, cerrors.Transient("querying activity log", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		var (
			rec       Record
			details   string
			createdAt string
		)

		if err := rows.Scan(&rec.ID, &rec.Event, &rec.Actor, &rec.EntityType, &rec.EntityID, &details, &createdAt); err != nil {
			return nil, cerrors.Transient("scanning activity row", err)
		}

		if details != "" {
			if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
				return nil, cerrors.Transient("decoding activity details", err)
			}
		}

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, cerrors.Transient("parsing activity created_at", err)
		}

		rec.CreatedAt = parsed
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, cerrors.Transient("iterating activity rows", err)
	}

	return out, nil
}
