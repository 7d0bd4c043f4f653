package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"antwatch/internal/antcheck"
	"antwatch/internal/catalog"
)

type noRatings struct{}

func (noRatings) VendorRatings(_ context.Context) (map[int64]float64, error) {
	return map[int64]float64{}, nil
}

func (noRatings) UpsertVendorRating(_ context.Context, _ int64, _ float64) error {
	return nil
}

// buildSnapshot loads a snapshot from temp fixture files. Shop IDs key
// the products map.
func buildSnapshot(t *testing.T, shops []antcheck.Shop, products map[int64][]antcheck.Product) *catalog.Snapshot {
	t.Helper()
	dir := t.TempDir()
	if err := antcheck.SaveShops(dir, shops); err != nil {
		t.Fatalf("save shops: %v", err)
	}
	for shopID, ps := range products {
		if err := antcheck.SaveProducts(dir, shopID, ps); err != nil {
			t.Fatalf("save products: %v", err)
		}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := catalog.NewStore(dir, filepath.Join(dir, antcheck.ShopsFileName), noRatings{}, log)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return store.Current()
}

func writeAllowList(t *testing.T, lines string) *AllowList {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ch_allow.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write allow list: %v", err)
	}
	return NewAllowList(path)
}

// testSnapshot is the shared fixture: three vendors in de, de and fr,
// with a mix of in-stock and out-of-stock Messor listings.
func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	return buildSnapshot(t,
		[]antcheck.Shop{
			{ID: 1, Name: "Vendor One", Country: "de"},
			{ID: 2, Name: "Vendor Two", Country: "de"},
			{ID: 3, Name: "Vendor Three", Country: "fr"},
		},
		map[int64][]antcheck.Product{
			1: {
				{ID: 101, ShopID: 1, Title: "Messor barbarus", InStock: true},
				{ID: 102, ShopID: 1, Title: "Messor capitatus", InStock: false},
			},
			2: {
				{ID: 201, ShopID: 2, Title: "Messor structor", InStock: true},
				{ID: 202, ShopID: 2, Title: "Messor barbarus", InStock: true},
			},
			3: {
				{ID: 301, ShopID: 3, Title: "Messor barbarus", InStock: true},
				{ID: 302, ShopID: 3, Title: "Lasius niger", InStock: true},
			},
		},
	)
}

func listingIDs(hits []Hit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Listing.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestMatchSpecies(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	hits, err := Match(snap, allow, Query{Term: "Messor barbarus", Regions: []string{"de"}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{101, 202}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchSpeciesIsExact(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	// "Messor barbarusx" must not prefix-match "Messor barbarus".
	hits, err := Match(snap, allow, Query{Term: "Messor barbarusx", Regions: []string{"de", "fr"}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for near-miss species term, got %d", len(hits))
	}
}

func TestMatchGenus(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	hits, err := Match(snap, allow, Query{Term: "Messor", Regions: []string{"de"}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	// 102 is out of stock; 301 is outside the region.
	if diff := cmp.Diff([]int64{101, 201, 202}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchGenusWithExclusion(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	hits, err := Match(snap, allow, Query{
		Term:     "Messor",
		Regions:  []string{"de"},
		Excluded: []string{"barbarus"},
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{201}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchBlacklist(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	hits, err := Match(snap, allow, Query{
		Term:      "Messor barbarus",
		Regions:   []string{"de"},
		Blacklist: map[int64]struct{}{2: {}},
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{101}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchEURegion(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	hits, err := Match(snap, allow, Query{Term: "Messor barbarus", Regions: []string{"eu"}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{101, 202, 301}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchCHMode(t *testing.T) {
	snap := buildSnapshot(t,
		[]antcheck.Shop{
			{ID: 1, Name: "Swiss Shop", Country: "ch"},
			{ID: 2, Name: "German Shipper", Country: "de"},
			{ID: 3, Name: "German Other", Country: "de"},
		},
		map[int64][]antcheck.Product{
			1: {{ID: 101, ShopID: 1, Title: "Lasius niger", InStock: true}},
			2: {{ID: 201, ShopID: 2, Title: "Lasius niger", InStock: true}},
			3: {{ID: 301, ShopID: 3, Title: "Lasius niger", InStock: true}},
		},
	)
	// Only vendor 2 is on the curated list; vendor 1 qualifies by being
	// in ch, vendor 3 is dropped.
	allow := writeAllowList(t, "# ships to CH\n2\n")

	hits, err := Match(snap, allow, Query{Term: "Lasius niger", CHMode: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{101, 201}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchCHModeMissingAllowFile(t *testing.T) {
	snap := buildSnapshot(t,
		[]antcheck.Shop{
			{ID: 1, Name: "Swiss Shop", Country: "ch"},
			{ID: 2, Name: "German Shop", Country: "de"},
		},
		map[int64][]antcheck.Product{
			1: {{ID: 101, ShopID: 1, Title: "Lasius niger", InStock: true}},
			2: {{ID: 201, ShopID: 2, Title: "Lasius niger", InStock: true}},
		},
	)
	allow := NewAllowList(filepath.Join(t.TempDir(), "nope.txt"))

	hits, err := Match(snap, allow, Query{Term: "Lasius niger", CHMode: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{101}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchHedgedTitles(t *testing.T) {
	snap := buildSnapshot(t,
		[]antcheck.Shop{{ID: 1, Name: "Shop", Country: "de"}},
		map[int64][]antcheck.Product{
			1: {{ID: 101, ShopID: 1, Title: "Messor cf. barbarus", InStock: true}},
		},
	)
	allow := writeAllowList(t, "")

	hits, err := Match(snap, allow, Query{Term: "Messor barbarus", Regions: []string{"de"}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff([]int64{101}, listingIDs(hits)); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchEmptyTerm(t *testing.T) {
	snap := testSnapshot(t)
	allow := writeAllowList(t, "")

	for _, term := range []string{"", "   ", "cf. sp."} {
		if _, err := Match(snap, allow, Query{Term: term, Regions: []string{"de"}}); !errors.Is(err, ErrEmptyTerm) {
			t.Errorf("Match(%q) error = %v, want ErrEmptyTerm", term, err)
		}
	}
}

func TestExpandRegions(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "plain codes", in: []string{"de", "fr"}, want: []string{"de", "fr"}},
		{name: "trims and lowercases", in: []string{" DE ", "Fr"}, want: []string{"de", "fr"}},
		{name: "drops duplicates", in: []string{"de", "de", "fr"}, want: []string{"de", "fr"}},
		{name: "drops empty", in: []string{"", "de"}, want: []string{"de"}},
		{name: "nil", in: nil, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ExpandRegions(tt.in)); diff != "" {
				t.Errorf("expand mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExpandRegionsEUAlias(t *testing.T) {
	out := ExpandRegions([]string{"ch", "eu"})
	if out[0] != "ch" {
		t.Errorf("input order not preserved, got %v", out[:2])
	}
	if len(out) != 1+len(euCountries) {
		t.Fatalf("expected %d codes, got %d", 1+len(euCountries), len(out))
	}

	// Expanding again must be a no-op.
	if diff := cmp.Diff(out, ExpandRegions(out)); diff != "" {
		t.Errorf("expansion not idempotent (-first +second):\n%s", diff)
	}

	// A code already present does not get duplicated by the alias.
	withDE := ExpandRegions([]string{"de", "eu"})
	if len(withDE) != len(euCountries) {
		t.Errorf("expected %d codes, got %d", len(euCountries), len(withDE))
	}
}

func TestAllowListParsing(t *testing.T) {
	allow := writeAllowList(t, "# curated vendors\n\n12\n  34 \nnot-a-number\n56\n")
	ids, err := allow.VendorIDs()
	if err != nil {
		t.Fatalf("vendor ids: %v", err)
	}
	want := map[int64]struct{}{12: {}, 34: {}, 56: {}}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("allow list mismatch (-want +got):\n%s", diff)
	}
}
