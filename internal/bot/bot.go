package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"antwatch/internal/catalog"
	"antwatch/internal/config"
	"antwatch/internal/model"
	"antwatch/internal/notify"
	"antwatch/internal/storage"
)

// Checker runs the matching pipeline for one notification immediately,
// used for the first check right after /watch.
type Checker interface {
	CheckOne(ctx context.Context, n model.Notification)
}

// Bot is the Telegram bot that handles user commands.
type Bot struct {
	api       API
	sender    *Sender
	store     storage.Storage
	catalog   *catalog.Store
	feedback  *notify.Feedback
	checker   Checker
	cfg       *config.Config
	log       *slog.Logger
	startedAt time.Time
}

// New creates a Bot.
func New(api API, sender *Sender, store storage.Storage, cat *catalog.Store,
	feedback *notify.Feedback, checker Checker, cfg *config.Config, log *slog.Logger,
) *Bot {
	return &Bot{
		api:       api,
		sender:    sender,
		store:     store,
		catalog:   cat,
		feedback:  feedback,
		checker:   checker,
		cfg:       cfg,
		log:       log,
		startedAt: time.Now(),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	userID := msg.From.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "user_id", userID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "watch":
		b.handleWatch(ctx, chatID, userID, args)
	case "list":
		b.handleList(ctx, chatID, userID)
	case "history":
		b.handleHistory(ctx, chatID, userID)
	case "delete":
		b.handleDelete(ctx, chatID, userID, args)
	case "blacklist":
		b.handleBlacklist(ctx, chatID, userID, args)
	case "unblacklist":
		b.handleUnblacklist(ctx, chatID, userID, args)
	case "test":
		b.handleTest(ctx, chatID, userID)
	case "reset":
		b.handleReset(ctx, chatID, userID)
	case "stats":
		b.handleStats(ctx, chatID, userID)
	case "system":
		b.handleSystem(ctx, chatID, userID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
