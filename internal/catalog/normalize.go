package catalog

import "strings"

// Taxonomic hedge words stripped from titles and search terms:
// "cf." (compare to), "sp."/"spp." (species unspecified), "aff."
// (affinity to). Matched case-insensitively, with or without the dot.
var hedgeTokens = map[string]struct{}{
	"cf":  {},
	"sp":  {},
	"spp": {},
	"aff": {},
}

// Normalize reduces a listing title or search term to its canonical
// comparable form: lowercase, hedge tokens removed, whitespace collapsed
// to single spaces, leading/trailing space trimmed. It is deterministic,
// total and idempotent, and must be applied identically to catalog
// titles and user terms before any comparison.
func Normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	kept := fields[:0]
	for _, f := range fields {
		if _, hedge := hedgeTokens[strings.TrimSuffix(f, ".")]; hedge {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
