// Package catalog loads vendor and listing snapshots from disk and
// serves them as immutable, indexed in-memory views.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"antwatch/internal/antcheck"
	"antwatch/internal/model"
)

// RatingSource supplies persisted vendor ratings merged into every
// freshly built snapshot so they survive catalog reloads.
type RatingSource interface {
	VendorRatings(ctx context.Context) (map[int64]float64, error)
	UpsertVendorRating(ctx context.Context, vendorID int64, rating float64) error
}

// GenusEntry is a listing indexed under its genus token together with
// the epithet (first token after the genus in the normalized title).
type GenusEntry struct {
	Listing model.Listing
	Epithet string
}

// Snapshot is an immutable view of the catalog. A snapshot is built
// fully aside and swapped in atomically, so in-flight matches always
// see a consistent state.
type Snapshot struct {
	vendors  map[int64]model.Vendor
	species  map[string][]model.Listing
	genus    map[string][]GenusEntry
	listings int

	// LoadedAt is when the snapshot was built; SourceModTime is the
	// mtime of the vendor metadata file it was built from.
	LoadedAt      time.Time
	SourceModTime time.Time
}

// Vendor returns the vendor with the given ID.
func (s *Snapshot) Vendor(id int64) (model.Vendor, bool) {
	v, ok := s.vendors[id]
	return v, ok
}

// Countries returns the sorted-unique set of vendor country codes.
func (s *Snapshot) Countries() []string {
	set := make(map[string]struct{})
	for _, v := range s.vendors {
		set[v.CountryCode] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Species returns the listings whose normalized title equals term
// (which must already be normalized).
func (s *Snapshot) Species(term string) []model.Listing {
	return s.species[term]
}

// Genus returns the listings indexed under the given genus token
// (which must already be normalized).
func (s *Snapshot) Genus(term string) []GenusEntry {
	return s.genus[term]
}

// TermKnown reports whether any listing in the snapshot (in stock or
// not) matches the given term after normalization: an exact title for a
// species term, any listing under the genus for a single-token term.
func (s *Snapshot) TermKnown(term string) bool {
	norm := Normalize(term)
	if strings.Contains(norm, " ") {
		return len(s.species[norm]) > 0
	}
	return len(s.genus[norm]) > 0
}

// VendorCount and ListingCount describe snapshot size for monitoring.
func (s *Snapshot) VendorCount() int  { return len(s.vendors) }
func (s *Snapshot) ListingCount() int { return s.listings }

// Store holds the current snapshot and rebuilds it from the snapshot
// files on demand.
type Store struct {
	dir       string
	shopsFile string
	ratings   RatingSource
	log       *slog.Logger
	snap      atomic.Pointer[Snapshot]
}

// NewStore creates a Store reading snapshots from dir, with vendor
// metadata at shopsFile.
func NewStore(dir, shopsFile string, ratings RatingSource, log *slog.Logger) *Store {
	return &Store{
		dir:       dir,
		shopsFile: shopsFile,
		ratings:   ratings,
		log:       log,
	}
}

// Current returns the last successfully loaded snapshot, or nil if no
// load has succeeded yet.
func (s *Store) Current() *Snapshot {
	return s.snap.Load()
}

// Staleness returns the age of the current snapshot's source data.
// ok is false when no snapshot has been loaded.
func (s *Store) Staleness(now time.Time) (time.Duration, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return 0, false
	}
	return now.Sub(snap.SourceModTime), true
}

// Load rebuilds the snapshot from disk and swaps it in. A missing or
// unreadable per-vendor listings file is logged and skipped; a missing
// vendor metadata file fails the load and keeps the previous snapshot.
func (s *Store) Load(ctx context.Context) error {
	info, err := os.Stat(s.shopsFile)
	if err != nil {
		return fmt.Errorf("stat shops file: %w", err)
	}
	data, err := os.ReadFile(s.shopsFile)
	if err != nil {
		return fmt.Errorf("read shops file: %w", err)
	}
	var shops []antcheck.Shop
	if err := json.Unmarshal(data, &shops); err != nil {
		return fmt.Errorf("decode shops file: %w", err)
	}

	ratings := s.mergeRatings(ctx, shops)

	snap := &Snapshot{
		vendors:       make(map[int64]model.Vendor, len(shops)),
		species:       make(map[string][]model.Listing),
		genus:         make(map[string][]GenusEntry),
		LoadedAt:      time.Now().UTC(),
		SourceModTime: info.ModTime().UTC(),
	}

	for _, shop := range shops {
		v := model.Vendor{
			ID:          shop.ID,
			Name:        shop.Name,
			CountryCode: strings.ToLower(shop.Country),
			URL:         shop.URL,
		}
		if r, ok := ratings[shop.ID]; ok {
			rating := r
			v.Rating = &rating
		}
		snap.vendors[v.ID] = v

		if err := s.loadVendorListings(snap, shop.ID); err != nil {
			s.log.Warn("skip vendor listings", "vendor_id", shop.ID, "error", err)
		}
	}

	s.snap.Store(snap)
	s.log.Info("catalog loaded",
		"vendors", snap.VendorCount(),
		"listings", snap.ListingCount(),
		"source_mtime", snap.SourceModTime,
	)
	return nil
}

func (s *Store) loadVendorListings(snap *Snapshot, shopID int64) error {
	path := filepath.Join(s.dir, antcheck.ProductsFileName(shopID))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no snapshot file")
		}
		return fmt.Errorf("read: %w", err)
	}
	var products []antcheck.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	for _, p := range products {
		l := model.Listing{
			ID:         p.ID,
			VendorID:   shopID,
			Title:      p.Title,
			InStock:    p.InStock,
			MinPrice:   p.MinPrice,
			MaxPrice:   p.MaxPrice,
			Currency:   p.Currency,
			ProductURL: p.URL,
		}
		snap.index(l)
	}
	return nil
}

func (snap *Snapshot) index(l model.Listing) {
	norm := Normalize(l.Title)
	if norm == "" {
		return
	}
	snap.listings++
	snap.species[norm] = append(snap.species[norm], l)

	genusTok, rest, found := strings.Cut(norm, " ")
	if !found {
		return
	}
	epithet, _, _ := strings.Cut(rest, " ")
	snap.genus[genusTok] = append(snap.genus[genusTok], GenusEntry{Listing: l, Epithet: epithet})
}

// mergeRatings combines persisted ratings with any rating present in
// the shops payload. Fresh values win and are persisted; persisted
// values fill in where the payload carries none, so ratings survive
// catalog reloads.
func (s *Store) mergeRatings(ctx context.Context, shops []antcheck.Shop) map[int64]float64 {
	merged, err := s.ratings.VendorRatings(ctx)
	if err != nil {
		s.log.Warn("load persisted ratings", "error", err)
		merged = make(map[int64]float64)
	}
	for _, shop := range shops {
		if shop.Rating == nil {
			continue
		}
		merged[shop.ID] = *shop.Rating
		if err := s.ratings.UpsertVendorRating(ctx, shop.ID, *shop.Rating); err != nil {
			s.log.Warn("persist rating", "vendor_id", shop.ID, "error", err)
		}
	}
	return merged
}
