package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"antwatch/internal/model"
	"antwatch/internal/storage"
)

// handleCallback processes the feedback buttons attached to delivered
// notifications. Callback data is "fb:pos:<id>" or "fb:cont:<id>".
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.Split(cb.Data, ":")
	if len(parts) != 3 || parts[0] != "fb" {
		return
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return
	}

	var signal model.FeedbackSignal
	switch parts[1] {
	case "pos":
		signal = model.FeedbackPositive
	case "cont":
		signal = model.FeedbackContinue
	default:
		return
	}

	userID := cb.From.ID
	// Telegram omits Message from callbacks once the source message is
	// old enough; fall back to replying in the user's direct chat.
	chatID := userID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}

	b.log.Info("feedback", "notification_id", id, "user_id", userID, "signal", signal)

	if err := b.feedback.HandleSignal(ctx, userID, id, signal); err != nil {
		switch {
		case errors.Is(err, storage.ErrStaleStatus), errors.Is(err, storage.ErrNotFound):
			b.reply(chatID, "That notification is no longer awaiting feedback.")
		default:
			b.log.Error("handle feedback", "notification_id", id, "error", err)
			b.reply(chatID, "Something went wrong, please try again.")
		}
		return
	}

	if signal == model.FeedbackPositive {
		b.reply(chatID, "Great! The watch is closed and your delivery history was cleared.")
	} else {
		b.reply(chatID, "Still watching. You will only hear about listings you have not seen yet.")
	}
}
