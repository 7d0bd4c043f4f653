// Command grabber pulls the current shop and product data from the
// AntCheck API and writes the snapshot files the bot's catalog loader
// reads. Run it from cron alongside the bot.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"antwatch/internal/antcheck"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	apiKey := os.Getenv("ANTCHECK_API_KEY")
	if apiKey == "" {
		log.Error("ANTCHECK_API_KEY is required")
		os.Exit(1)
	}
	dir := envOrDefault("DATA_DIRECTORY", "./data/catalog")

	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.Error("create data directory", "path", dir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	client := antcheck.NewClient(http.DefaultClient, apiKey)

	shops, err := client.Shops(ctx)
	if err != nil {
		log.Error("fetch shops", "error", err)
		os.Exit(1)
	}
	if err := antcheck.SaveShops(dir, shops); err != nil {
		log.Error("save shops", "error", err)
		os.Exit(1)
	}
	log.Info("shops saved", "count", len(shops))

	for _, shop := range shops {
		products, err := client.Products(ctx, shop.ID)
		if err != nil {
			log.Warn("fetch products", "shop_id", shop.ID, "error", err)
			continue
		}
		if err := antcheck.SaveProducts(dir, shop.ID, products); err != nil {
			log.Warn("save products", "shop_id", shop.ID, "error", err)
			continue
		}
		log.Info("products saved", "shop_id", shop.ID, "count", len(products))
	}

	deleted, err := antcheck.CleanOldProductFiles(dir, 7*time.Hour)
	if err != nil {
		log.Warn("clean old files", "error", err)
	} else if deleted > 0 {
		log.Info("old product files removed", "count", deleted)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
