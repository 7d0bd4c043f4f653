package notify

import (
	"context"
	"fmt"
	"log/slog"

	"antwatch/internal/model"
	"antwatch/internal/storage"
)

// Fallback posts a reduced-detail alert into community channels the
// user is known in when direct delivery is impossible, at most once per
// (user, channel) pair until direct delivery is confirmed again.
type Fallback struct {
	msgr  Messenger
	store storage.Storage
	log   *slog.Logger
}

// NewFallback creates a Fallback notifier.
func NewFallback(msgr Messenger, store storage.Storage, log *slog.Logger) *Fallback {
	return &Fallback{msgr: msgr, store: store, log: log}
}

// Alert posts to each known channel for the notification's user that
// has not been alerted yet. Best-effort: individual channel failures
// are logged, not retried.
func (f *Fallback) Alert(ctx context.Context, n model.Notification) {
	channels, err := f.store.ListUserChannels(ctx, n.UserID)
	if err != nil {
		f.log.Error("list user channels", "user_id", n.UserID, "error", err)
		return
	}

	text := fmt.Sprintf(
		"[User](tg://user?id=%d): stock matching one of your watches was found, "+
			"but your direct messages are disabled. Enable them and run /reset to recover.",
		n.UserID,
	)

	for _, chatID := range channels {
		blocked, err := f.store.IsFallbackBlocked(ctx, n.UserID, chatID)
		if err != nil {
			f.log.Error("check fallback block", "user_id", n.UserID, "chat_id", chatID, "error", err)
			continue
		}
		if blocked {
			continue
		}
		if err := f.msgr.PostToChannel(ctx, chatID, text); err != nil {
			f.log.Error("post fallback alert", "chat_id", chatID, "error", err)
			continue
		}
		if err := f.store.BlockFallback(ctx, n.UserID, chatID); err != nil {
			f.log.Error("record fallback block", "user_id", n.UserID, "chat_id", chatID, "error", err)
		}
	}
}
