package matcher

import "strings"

// euCountries are the ISO 3166 alpha-2 codes the "eu" alias expands to.
var euCountries = []string{
	"at", "be", "bg", "cy", "cz", "de", "dk", "ee", "es", "fi",
	"fr", "gr", "hr", "hu", "ie", "it", "lt", "lu", "lv", "mt",
	"nl", "pl", "pt", "ro", "se", "si", "sk",
}

// ExpandRegions resolves regional aliases to their constituent country
// codes. Expansion is idempotent and never produces duplicate codes;
// input order is preserved, with alias expansions appended in place.
func ExpandRegions(regions []string) []string {
	seen := make(map[string]struct{}, len(regions))
	out := make([]string, 0, len(regions))

	add := func(code string) {
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}

	for _, r := range regions {
		code := strings.ToLower(strings.TrimSpace(r))
		if code == "" {
			continue
		}
		if code == "eu" {
			for _, c := range euCountries {
				add(c)
			}
			continue
		}
		add(code)
	}
	return out
}
