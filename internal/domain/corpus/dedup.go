package corpus

// Deduplicate keeps the first occurrence of each document id and preserves
// the relative order of kept documents. Ids of later duplicates are returned
// in input order.
func Deduplicate(docs []Document) (kept []Document, dropped []string) {
	seen := make(map[string]struct{}, len(docs))
	kept = make([]Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := seen[d.ID]; ok {
			dropped = append(dropped, d.ID)
			continue
		}
		seen[d.ID] = struct{}{}
		kept = append(kept, d)
	}
	return kept, dropped
}

// Merge concatenates synthesized documents ahead of narrative documents and
// deduplicates the result.
func Merge(structured, narrative []Document) (kept []Document, dropped []string) {
	all := make([]Document, 0, len(structured)+len(narrative))
	all = append(all, structured...)
	all = append(all, narrative...)
	return Deduplicate(all)
}
