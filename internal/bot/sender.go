package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"antwatch/internal/notify"
)

// API is the subset of the Telegram client used by the bot.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sender adapts the Telegram client to the notify.Messenger interface,
// translating platform errors into the dispatcher's failure taxonomy.
type Sender struct {
	api API
	log *slog.Logger
}

// NewSender creates a Sender.
func NewSender(api API, log *slog.Logger) *Sender {
	return &Sender{api: api, log: log}
}

// SendDM sends a direct message to a user.
func (s *Sender) SendDM(_ context.Context, userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.DisableWebPagePreview = true
	_, err := s.api.Send(msg)
	return classifyError(err)
}

// PostToChannel posts into a community chat.
func (s *Sender) PostToChannel(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	_, err := s.api.Send(msg)
	return classifyError(err)
}

// PromptFeedback sends the post-delivery question with the feedback
// buttons wired to the callback handler.
func (s *Sender) PromptFeedback(_ context.Context, userID, notificationID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Got them!", fmt.Sprintf("fb:pos:%d", notificationID)),
			tgbotapi.NewInlineKeyboardButtonData("Keep watching", fmt.Sprintf("fb:cont:%d", notificationID)),
		),
	)
	_, err := s.api.Send(msg)
	return classifyError(err)
}

// classifyError maps Telegram API errors onto the delivery failure
// taxonomy: 403 is permanent (DMs disabled), 429 is transient with a
// retry-after hint, everything else passes through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch tgErr.Code {
		case 403:
			return fmt.Errorf("%w: %s", notify.ErrForbidden, tgErr.Message)
		case 429:
			return &notify.RateLimitedError{RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second}
		}
	}
	return err
}
