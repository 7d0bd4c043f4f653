package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"antwatch/internal/matcher"
	"antwatch/internal/model"
	"antwatch/internal/storage"
)

// FeedbackWindow is how long a user has to answer a delivered
// notification before it expires.
const FeedbackWindow = 48 * time.Hour

// Messenger is the interface to the chat platform.
type Messenger interface {
	SendDM(ctx context.Context, userID int64, text string) error
	PostToChannel(ctx context.Context, chatID int64, text string) error
	// PromptFeedback asks the user whether to keep watching, wired to
	// the feedback signal input for the given notification.
	PromptFeedback(ctx context.Context, userID, notificationID int64, text string) error
}

// Outcome classifies the result of one delivery attempt.
type Outcome int

// Delivery outcomes.
const (
	// Delivered: all chunks sent, notification moved to pending_feedback.
	Delivered Outcome = iota
	// FailedPermanent: notification moved to failed; fallback engaged if
	// the failure was a forbidden direct delivery.
	FailedPermanent
	// Deferred: transient failure persisted through the retry; no state
	// change, the next scheduler tick tries again.
	Deferred
)

// Dispatcher sends composed availability messages and classifies
// delivery failures.
type Dispatcher struct {
	msgr       Messenger
	store      storage.Storage
	fallback   *Fallback
	log        *slog.Logger
	chunkLimit int
	retryDelay time.Duration
	now        func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(msgr Messenger, store storage.Storage, fallback *Fallback, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		msgr:       msgr,
		store:      store,
		fallback:   fallback,
		log:        log,
		chunkLimit: maxMessageLen,
		retryDelay: 3 * time.Second,
		now:        time.Now,
	}
}

// Deliver sends the matched listings to the notification's user. On
// success it atomically moves the notification to pending_feedback and
// prompts for feedback. Failure handling:
//   - forbidden: notification failed, fallback alert posted
//   - rate limited: one retry after the indicated delay; a second
//     transient failure defers to the next scheduler tick
//   - anything else: notification failed
func (d *Dispatcher) Deliver(ctx context.Context, n model.Notification, hits []matcher.Hit) (Outcome, error) {
	chunks := ChunkLines(FormatHitLines(hits), d.chunkLimit)

	for _, chunk := range chunks {
		if err := d.sendWithRetry(ctx, n.UserID, chunk); err != nil {
			return d.classify(ctx, n, err)
		}
	}

	now := d.now().UTC()
	if err := d.store.MarkDelivered(ctx, n.ID, now, now.Add(FeedbackWindow)); err != nil {
		// Delivery went out either way; the ledger commit must still
		// happen, so report success and log the stale transition.
		d.log.Warn("mark delivered", "notification_id", n.ID, "error", err)
	}

	prompt := fmt.Sprintf("Found matches for %q. Did that cover what you were looking for?", n.Term)
	if err := d.msgr.PromptFeedback(ctx, n.UserID, n.ID, prompt); err != nil {
		d.log.Warn("prompt feedback", "notification_id", n.ID, "error", err)
	}

	return Delivered, nil
}

// sendWithRetry sends one chunk, retrying exactly once after a
// transient rate limit using the indicated (or a fixed fallback) delay.
func (d *Dispatcher) sendWithRetry(ctx context.Context, userID int64, text string) error {
	delay := d.retryDelay
	backoff := retry.WithMaxRetries(1, retry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	}))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.msgr.SendDM(ctx, userID, text)
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			if rl.RetryAfter > 0 {
				delay = rl.RetryAfter
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

func (d *Dispatcher) classify(ctx context.Context, n model.Notification, err error) (Outcome, error) {
	var rl *RateLimitedError
	switch {
	case errors.Is(err, ErrForbidden):
		d.log.Info("direct delivery forbidden", "notification_id", n.ID, "user_id", n.UserID)
		if terr := d.store.TransitionStatus(ctx, n.ID, model.StatusActive, model.StatusFailed); terr != nil {
			return FailedPermanent, fmt.Errorf("mark failed: %w", terr)
		}
		d.fallback.Alert(ctx, n)
		return FailedPermanent, nil

	case errors.As(err, &rl):
		// Second consecutive transient failure: give up for this cycle,
		// the notification stays active and the next tick retries.
		d.log.Warn("delivery rate limited twice", "notification_id", n.ID, "error", err)
		return Deferred, nil

	default:
		d.log.Error("delivery failed", "notification_id", n.ID, "error", err)
		if terr := d.store.TransitionStatus(ctx, n.ID, model.StatusActive, model.StatusFailed); terr != nil {
			return FailedPermanent, fmt.Errorf("mark failed: %w", terr)
		}
		return FailedPermanent, nil
	}
}
