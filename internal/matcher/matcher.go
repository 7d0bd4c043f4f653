// Package matcher scans a catalog snapshot for in-stock listings that
// satisfy a user's search query.
package matcher

import (
	"errors"
	"strings"

	"antwatch/internal/catalog"
	"antwatch/internal/model"
)

// ErrEmptyTerm is returned when a query term normalizes to nothing.
var ErrEmptyTerm = errors.New("empty search term")

// chCountryCode qualifies a vendor in CH-delivery mode regardless of
// the allow-list.
const chCountryCode = "ch"

// Query describes one availability search.
type Query struct {
	Term      string
	Regions   []string
	CHMode    bool
	Blacklist map[int64]struct{}
	Excluded  []string
}

// Hit is one matching in-stock listing together with its vendor.
type Hit struct {
	Listing model.Listing
	Vendor  model.Vendor
}

// Match scans the snapshot for in-stock listings matching the query.
// A term with an internal space is a species search (exact normalized
// title equality); a single token is a genus search (normalized title
// starts with the genus, and the epithet is not excluded). Ordering of
// the result is unspecified.
func Match(snap *catalog.Snapshot, allow *AllowList, q Query) ([]Hit, error) {
	term := catalog.Normalize(q.Term)
	if term == "" {
		return nil, ErrEmptyTerm
	}

	var chAllowed map[int64]struct{}
	if q.CHMode {
		// Re-read per call: the manual list can change between calls.
		ids, err := allow.VendorIDs()
		if err != nil {
			return nil, err
		}
		chAllowed = ids
	}

	regions := make(map[string]struct{})
	for _, c := range ExpandRegions(q.Regions) {
		regions[c] = struct{}{}
	}

	excluded := make(map[string]struct{}, len(q.Excluded))
	for _, e := range q.Excluded {
		excluded[strings.ToLower(e)] = struct{}{}
	}

	var hits []Hit
	accept := func(l model.Listing) {
		if !l.InStock {
			return
		}
		if _, blocked := q.Blacklist[l.VendorID]; blocked {
			return
		}
		vendor, ok := snap.Vendor(l.VendorID)
		if !ok {
			return
		}
		if q.CHMode {
			_, allowed := chAllowed[vendor.ID]
			if !allowed && vendor.CountryCode != chCountryCode {
				return
			}
		} else if _, ok := regions[vendor.CountryCode]; !ok {
			return
		}
		hits = append(hits, Hit{Listing: l, Vendor: vendor})
	}

	if strings.Contains(term, " ") {
		for _, l := range snap.Species(term) {
			accept(l)
		}
		return hits, nil
	}

	for _, entry := range snap.Genus(term) {
		if _, skip := excluded[entry.Epithet]; skip {
			continue
		}
		accept(entry.Listing)
	}
	return hits, nil
}
