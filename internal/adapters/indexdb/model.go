package indexdb

import (
	"encoding/json"

	recdomain "github.com/civicforge/recordengine/internal/domain/record"
)

// metadataJSON and geographyJSON mirror the teacher's JSON-marshal-a-
// struct-column approach (organization.postgresql.go marshals Address
// into a jsonb/text column); both backends store Record.Metadata and
// Record.Geography the same way, so the (de)serialization lives here
// once instead of duplicated per driver.

// MarshalMetadata flattens Record.Metadata into a single JSON object
// suitable for a text/jsonb column, merging the promoted fields
// (tags/module/version) back alongside Extra so the column round-trips
// through UnmarshalMetadata without losing unknown keys.
func MarshalMetadata(m recdomain.Metadata) (string, error) {
	flat := map[string]any{}
	for k, v := range m.Extra {
		flat[k] = v
	}

	if len(m.Tags) > 0 {
		flat["tags"] = m.Tags
	}

	if m.Module != "" {
		flat["module"] = m.Module
	}

	if m.Version != "" {
		flat["version"] = m.Version
	}

	data, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// UnmarshalMetadata is the inverse of MarshalMetadata.
func UnmarshalMetadata(raw string) (recdomain.Metadata, error) {
	if raw == "" {
		return recdomain.Metadata{}, nil
	}

	var flat map[string]any
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return recdomain.Metadata{}, err
	}

	m := recdomain.Metadata{Extra: map[string]any{}}

	for k, v := range flat {
		switch k {
		case "tags":
			if items, ok := v.([]any); ok {
				for _, it := range items {
					if s, ok := it.(string); ok {
						m.Tags = append(m.Tags, s)
					}
				}
			}
		case "module":
			if s, ok := v.(string); ok {
				m.Module = s
			}
		case "version":
			if s, ok := v.(string); ok {
				m.Version = s
			}
		default:
			m.Extra[k] = v
		}
	}

	return m, nil
}

// MarshalGeography serializes an optional Geography block to a nullable
// JSON column.
func MarshalGeography(g *recdomain.Geography) (*string, error) {
	if g == nil {
		return nil, nil
	}

	data, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}

	s := string(data)

	return &s, nil
}

// UnmarshalGeography is the inverse of MarshalGeography.
func UnmarshalGeography(raw *string) (*recdomain.Geography, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}

	var g recdomain.Geography
	if err := json.Unmarshal([]byte(*raw), &g); err != nil {
		return nil, err
	}

	return &g, nil
}
