package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"antwatch/internal/model"
	"antwatch/internal/storage"
)

// Feedback resolves delivered notifications based on the user's reply,
// or on the persisted deadline when no reply arrives. The wait survives
// restarts: it is a stored deadline plus a reconciliation sweep, not an
// in-memory timer.
type Feedback struct {
	store storage.Storage
	msgr  Messenger
	log   *slog.Logger
}

// NewFeedback creates a Feedback coordinator.
func NewFeedback(store storage.Storage, msgr Messenger, log *slog.Logger) *Feedback {
	return &Feedback{store: store, msgr: msgr, log: log}
}

// HandleSignal applies a user's feedback to a pending notification.
// A positive signal completes the notification and wipes the user's
// seen ledger ("stop watching, forget history"); a continue signal
// re-activates it with the ledger retained.
func (f *Feedback) HandleSignal(ctx context.Context, userID, notificationID int64, signal model.FeedbackSignal) error {
	n, err := f.store.GetNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if n.UserID != userID {
		return storage.ErrNotFound
	}

	switch signal {
	case model.FeedbackPositive:
		if err := f.store.TransitionStatus(ctx, n.ID, model.StatusPendingFeedback, model.StatusCompleted); err != nil {
			return err
		}
		if err := f.store.WipeSeen(ctx, userID); err != nil {
			return fmt.Errorf("wipe seen ledger: %w", err)
		}
		return nil

	case model.FeedbackContinue:
		return f.store.TransitionStatus(ctx, n.ID, model.StatusPendingFeedback, model.StatusActive)

	default:
		return fmt.Errorf("unknown feedback signal %q", signal)
	}
}

// SweepOverdue expires pending_feedback notifications whose deadline
// has passed, sending exactly one best-effort expiry notice per record
// (the notice is sent only after the transition succeeded).
func (f *Feedback) SweepOverdue(ctx context.Context, now time.Time) {
	overdue, err := f.store.ListFeedbackOverdue(ctx, now)
	if err != nil {
		f.log.Error("list feedback overdue", "error", err)
		return
	}

	for _, n := range overdue {
		if err := f.store.TransitionStatus(ctx, n.ID, model.StatusPendingFeedback, model.StatusExpired); err != nil {
			f.log.Warn("expire pending feedback", "notification_id", n.ID, "error", err)
			continue
		}
		text := fmt.Sprintf("Your watch for %q expired without feedback. Use /watch to set it up again.", n.Term)
		if err := f.msgr.SendDM(ctx, n.UserID, text); err != nil {
			f.log.Warn("send expiry notice", "notification_id", n.ID, "error", err)
		}
	}
}
