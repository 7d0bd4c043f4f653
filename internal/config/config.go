// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	DataDirectory    string
	ShopsFile        string
	CHAllowListPath  string
	LogLevel         string
	AdminUsers       []int64
	PollInterval     time.Duration
	RefreshInterval  time.Duration
	Workers          int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := envOrDefault("DATABASE_PATH", "./data/antwatch.db")
	dataDir := envOrDefault("DATA_DIRECTORY", "./data/catalog")
	shopsFile := envOrDefault("SHOPS_FILE", filepath.Join(dataDir, "shops_data.json"))
	allowList := envOrDefault("CH_ALLOWLIST_FILE", "./data/ch_allowlist.txt")
	logLevel := envOrDefault("LOG_LEVEL", "info")

	poll, err := durationEnv("POLL_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	refresh, err := durationEnv("REFRESH_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	workers := 4
	if raw := os.Getenv("WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid WORKERS value %q", raw)
		}
		workers = n
	}

	var admins []int64
	if raw := os.Getenv("ADMIN_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ADMIN_USERS: %w", s, err)
			}
			admins = append(admins, uid)
		}
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		DataDirectory:    dataDir,
		ShopsFile:        shopsFile,
		CHAllowListPath:  allowList,
		LogLevel:         logLevel,
		AdminUsers:       admins,
		PollInterval:     poll,
		RefreshInterval:  refresh,
		Workers:          workers,
	}, nil
}

// IsAdmin checks whether a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q", key, raw)
	}
	return d, nil
}
