package recordmanager

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// decodeRecordResult unmarshals a replayed saga's persisted result back
// into a Record, for the idempotent-replay path of create/update/
// setStatus: the freshly-constructed candidate record (with its own new
// UUID) must never be returned as if it were actually written again.
func decodeRecordResult(handle *sagaexec.Handle) (*recdomain.Record, error) {
	data, err := handle.Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, cerrors.Operational("record_replay", "replayed saga has no recorded result", nil)
	}

	var rec recdomain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, cerrors.Operational("record_replay", "decoding replayed saga result", err)
	}

	return &rec, nil
}

// parseUUID reports whether s parses as a UUID, for Manager.lookup's
// id-vs-path dispatch.
func parseUUID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}

	return id, true
}

// splitPath parses a records-relative path ("bylaw/zoning" or
// "bylaw/zoning.md") into (type, slug).
func splitPath(path string) (recordType, slug string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, "records/"), ".md")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", cerrors.Validation("Record", "invalid_path", "expected <type>/<slug>, got "+path)
	}

	return parts[0], parts[1], nil
}

// lockKey builds the record: resource lock name of spec.md §4.6/§5.
func lockKey(recordType, slug string) string {
	return "record:" + recordType + "/" + slug
}
