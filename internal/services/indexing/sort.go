package indexing

import "sort"

// sortEntries orders entries by type then slug, the stable order
// spec.md §4.8 requires for diff-friendly output.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}

		return entries[i].Metadata.Slug < entries[j].Metadata.Slug
	})
}

