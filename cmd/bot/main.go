package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"antwatch/internal/bot"
	"antwatch/internal/catalog"
	"antwatch/internal/config"
	"antwatch/internal/matcher"
	"antwatch/internal/notify"
	"antwatch/internal/scheduler"
	"antwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	cat := catalog.NewStore(cfg.DataDirectory, cfg.ShopsFile, store, log)
	allow := matcher.NewAllowList(cfg.CHAllowListPath)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	sender := bot.NewSender(api, log)
	fallback := notify.NewFallback(sender, store, log)
	dispatcher := notify.NewDispatcher(sender, store, fallback, log)
	feedback := notify.NewFeedback(store, sender, log)

	sched := scheduler.New(store, cat, allow, dispatcher, feedback, sender, cfg.Workers, log)
	sched.SetTickInterval(cfg.PollInterval)
	sched.SetRefreshInterval(cfg.RefreshInterval)

	b := bot.New(api, sender, store, cat, feedback, sched, cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cat.Load(ctx); err != nil {
		log.Error("initial catalog load", "error", err)
	}

	log.Info("starting bot")

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
