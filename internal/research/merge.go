package research

// MergeMaps returns the union of base and delta. For keys present in
// both, base values come first and delta values are appended; nothing
// is overwritten or dropped. Both inputs are left untouched.
func MergeMaps(base, delta map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(base)+len(delta))
	for k, v := range base {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range delta {
		merged[k] = append(merged[k], v...)
	}
	return merged
}

// MergeEvidence applies MergeMaps per source. Sources present in only
// one side are kept as-is (copied).
func MergeEvidence(base, delta map[string]map[string][]string) map[string]map[string][]string {
	merged := make(map[string]map[string][]string, len(base)+len(delta))
	for source, byDomain := range base {
		merged[source] = MergeMaps(byDomain, nil)
	}
	for source, byDomain := range delta {
		merged[source] = MergeMaps(merged[source], byDomain)
	}
	return merged
}

// DedupEntities appends candidates to existing with first-seen wins by
// domain, admitting nothing once the accumulated count reaches max.
// Duplicates are discarded whole; a later sighting never amends an
// admitted entity. max <= 0 means unlimited.
func DedupEntities(existing []Entity, candidates []Entity, max int) []Entity {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.Domain] = struct{}{}
	}

	out := append([]Entity(nil), existing...)
	for _, c := range candidates {
		if c.Domain == "" {
			continue
		}
		if max > 0 && len(out) >= max {
			break
		}
		if _, ok := seen[c.Domain]; ok {
			continue
		}
		seen[c.Domain] = struct{}{}
		out = append(out, c)
	}
	return out
}
