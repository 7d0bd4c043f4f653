package antcheck

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ShopsFileName is the vendor metadata snapshot file.
const ShopsFileName = "shops_data.json"

const productFilePrefix = "products_shop_"

// ProductsFileName returns the snapshot file name for one shop's listings.
func ProductsFileName(shopID int64) string {
	return fmt.Sprintf("%s%d.json", productFilePrefix, shopID)
}

// SaveShops writes the vendor metadata snapshot into dir.
func SaveShops(dir string, shops []Shop) error {
	return writeJSON(filepath.Join(dir, ShopsFileName), shops)
}

// SaveProducts writes one shop's listings snapshot into dir.
func SaveProducts(dir string, shopID int64, products []Product) error {
	return writeJSON(filepath.Join(dir, ProductsFileName(shopID)), products)
}

// CleanOldProductFiles removes per-shop product files older than maxAge.
// The shops metadata file is never removed. Returns the number deleted.
func CleanOldProductFiles(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, productFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return deleted, fmt.Errorf("remove %s: %w", name, err)
			}
			deleted++
		}
	}
	return deleted, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
