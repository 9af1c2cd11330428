package record

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// frontmatterDoc is the wire shape of a record's YAML frontmatter. Unknown
// top-level keys land in Extra via yaml.v3's inline map support, preserving
// them for the round trip (spec.md §9).
type frontmatterDoc struct {
	ID        string         `yaml:"id,omitempty"`
	Slug      string         `yaml:"slug,omitempty"`
	Title     string         `yaml:"title"`
	Type      string         `yaml:"type"`
	Status    string         `yaml:"status"`
	Author    string         `yaml:"author,omitempty"`
	Authors   []Author       `yaml:"authors,omitempty"`
	CreatedAt string         `yaml:"created_at,omitempty"`
	UpdatedAt string         `yaml:"updated_at,omitempty"`
	Metadata  map[string]any `yaml:"metadata,omitempty"`
	Geography *Geography     `yaml:"geography,omitempty"`
	Extra     map[string]any `yaml:",inline"`
}

// Parse performs tolerant YAML-frontmatter extraction: missing optional
// keys default, unknown keys are preserved in Metadata.Extra (spec.md
// §4.1).
func Parse(content []byte) (*Record, error) {
	body, fm, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var doc frontmatterDoc
	if err := yaml.Unmarshal(fm, &doc); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	if strings.TrimSpace(doc.Title) == "" {
		return nil, fmt.Errorf("invalid frontmatter: missing required key %q", "title")
	}

	if strings.TrimSpace(doc.Type) == "" {
		return nil, fmt.Errorf("invalid frontmatter: missing required key %q", "type")
	}

	if strings.TrimSpace(doc.Status) == "" {
		return nil, fmt.Errorf("invalid frontmatter: missing required key %q", "status")
	}

	r := &Record{
		Slug:      doc.Slug,
		Title:     doc.Title,
		Type:      doc.Type,
		Status:    doc.Status,
		Author:    doc.Author,
		Authors:   doc.Authors,
		Content:   string(bytes.TrimLeft(body, "\n")),
		Geography: doc.Geography,
	}

	if doc.ID != "" {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid frontmatter: bad id %q: %w", doc.ID, err)
		}

		r.ID = id
	}

	if doc.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, doc.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid frontmatter: bad created_at: %w", err)
		}

		r.CreatedAt = t
	}

	if doc.UpdatedAt != "" {
		t, err := time.Parse(time.RFC3339, doc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid frontmatter: bad updated_at: %w", err)
		}

		r.UpdatedAt = t
	}

	r.Metadata = extractMetadata(doc.Metadata)

	if len(doc.Extra) > 0 {
		if r.Metadata.Extra == nil {
			r.Metadata.Extra = map[string]any{}
		}

		for k, v := range doc.Extra {
			r.Metadata.Extra[k] = v
		}
	}

	return r, nil
}

func extractMetadata(m map[string]any) Metadata {
	md := Metadata{}
	if m == nil {
		return md
	}

	if tags, ok := m["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				md.Tags = append(md.Tags, s)
			}
		}
	}

	if v, ok := m["module"].(string); ok {
		md.Module = v
	}

	if v, ok := m["version"].(string); ok {
		md.Version = v
	}

	extra := map[string]any{}

	for k, v := range m {
		if k == "tags" || k == "module" || k == "version" {
			continue
		}

		extra[k] = v
	}

	if len(extra) > 0 {
		md.Extra = extra
	}

	return md
}

// Serialize writes frontmatter with a stable key order (alphabetical within
// metadata, canonical for known top-level keys, spec.md §9) followed by the
// markdown body.
func Serialize(r *Record) ([]byte, error) {
	doc := frontmatterDoc{
		Title:   r.Title,
		Type:    r.Type,
		Status:  r.Status,
		Author:  r.Author,
		Authors: r.Authors,
	}

	if r.ID != uuid.Nil {
		doc.ID = r.ID.String()
	}

	doc.Slug = r.Slug

	if !r.CreatedAt.IsZero() {
		doc.CreatedAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}

	if !r.UpdatedAt.IsZero() {
		doc.UpdatedAt = r.UpdatedAt.UTC().Format(time.RFC3339)
	}

	doc.Geography = r.Geography

	md := map[string]any{}
	for k, v := range r.Metadata.Extra {
		md[k] = v
	}

	if len(r.Metadata.Tags) > 0 {
		md["tags"] = r.Metadata.Tags
	}

	if r.Metadata.Module != "" {
		md["module"] = r.Metadata.Module
	}

	if r.Metadata.Version != "" {
		md["version"] = r.Metadata.Version
	}

	if len(md) > 0 {
		doc.Metadata = sortedMap(md)
	}

	var fm bytes.Buffer

	enc := yaml.NewEncoder(&fm)
	enc.SetIndent(2)

	if err := enc.Encode(doc); err != nil {
		return nil, err
	}

	_ = enc.Close()

	var out bytes.Buffer
	out.WriteString(frontmatterDelim + "\n")
	out.Write(fm.Bytes())
	out.WriteString(frontmatterDelim + "\n\n")
	out.WriteString(r.Content)

	if !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
		out.WriteByte('\n')
	}

	return out.Bytes(), nil
}

// sortedMap returns m unchanged; yaml.v3 already emits map[string]any keys
// sorted alphabetically, named here so the stable-ordering invariant is
// documented where it is relied upon rather than left implicit.
func sortedMap(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return m
}

func splitFrontmatter(content []byte) (body, fm []byte, err error) {
	s := string(content)
	if !strings.HasPrefix(strings.TrimLeft(s, "\n"), frontmatterDelim) {
		return nil, nil, fmt.Errorf("invalid frontmatter: missing leading %q delimiter", frontmatterDelim)
	}

	s = strings.TrimLeft(s, "\n")
	s = strings.TrimPrefix(s, frontmatterDelim)
	s = strings.TrimPrefix(s, "\n")

	idx := strings.Index(s, "\n"+frontmatterDelim)
	if idx == -1 {
		return nil, nil, fmt.Errorf("invalid frontmatter: missing closing %q delimiter", frontmatterDelim)
	}

	fmBlock := s[:idx]
	rest := s[idx+len("\n"+frontmatterDelim):]
	rest = strings.TrimPrefix(rest, "\n")

	return []byte(rest), []byte(fmBlock), nil
}
