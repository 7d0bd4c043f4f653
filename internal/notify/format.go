package notify

import (
	"fmt"
	"sort"
	"strings"

	"antwatch/internal/matcher"
)

// maxMessageLen is the Telegram message size limit in characters.
const maxMessageLen = 4096

// FormatHitLines renders one message entry per hit, ordered by vendor
// rating (highest first, unrated last) and then vendor name. Ordering
// for presentation lives here, not in the matcher.
func FormatHitLines(hits []matcher.Hit) []string {
	sorted := make([]matcher.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Vendor.Rating, sorted[j].Vendor.Rating
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri > *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return sorted[i].Vendor.Name < sorted[j].Vendor.Name
	})

	lines := make([]string, 0, len(sorted))
	for _, h := range sorted {
		var b strings.Builder
		fmt.Fprintf(&b, "%s — %s (%s)", h.Listing.Title, h.Vendor.Name, strings.ToUpper(h.Vendor.CountryCode))
		if h.Vendor.Rating != nil {
			fmt.Fprintf(&b, " ★%.1f", *h.Vendor.Rating)
		}
		fmt.Fprintf(&b, "\n%.2f–%.2f %s", h.Listing.MinPrice, h.Listing.MaxPrice, h.Listing.Currency)
		if h.Listing.ProductURL != "" {
			fmt.Fprintf(&b, "\n%s", h.Listing.ProductURL)
		}
		if h.Vendor.URL != "" {
			fmt.Fprintf(&b, "\n%s", h.Vendor.URL)
		}
		lines = append(lines, b.String())
	}
	return lines
}

// ChunkLines packs entries into messages of at most limit characters,
// never splitting a single entry across chunks. An entry longer than
// the limit becomes its own chunk.
func ChunkLines(lines []string, limit int) []string {
	var chunks []string
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 && b.Len()+len("\n\n")+len(line) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
