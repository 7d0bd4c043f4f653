// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"antwatch/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleStatus is returned when a conditional status transition finds
// the record in a different state than expected. The caller must not
// assume any part of the transition happened.
var ErrStaleStatus = errors.New("notification status changed concurrently")

// Storage is the interface for all persistence operations.
type Storage interface {
	// UpsertNotification inserts a notification or, on conflict with the
	// (user, term, regions) uniqueness constraint, re-activates the
	// existing record refreshing its created_at. The ID and CreatedAt of
	// n are populated either way.
	UpsertNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id int64) (*model.Notification, error)
	ListActiveNotifications(ctx context.Context) ([]model.Notification, error)
	ListNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error)
	// DeleteNotifications removes the given notifications owned by the
	// user and returns the IDs actually deleted.
	DeleteNotifications(ctx context.Context, userID int64, ids []int64) ([]int64, error)

	// MarkDelivered atomically moves an active notification to
	// pending_feedback, setting notified_at and the feedback deadline in
	// the same conditional update.
	MarkDelivered(ctx context.Context, id int64, notifiedAt, feedbackUntil time.Time) error
	// TransitionStatus performs a compare-and-swap status change.
	TransitionStatus(ctx context.Context, id int64, from, to model.Status) error
	ListActiveCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.Notification, error)
	ListFeedbackOverdue(ctx context.Context, now time.Time) ([]model.Notification, error)
	// ReactivateFailed moves all of a user's failed notifications back to
	// active and returns how many were affected.
	ReactivateFailed(ctx context.Context, userID int64) (int64, error)

	// FilterNew returns the subset of ids absent from the user's seen
	// ledger, preserving input order.
	FilterNew(ctx context.Context, userID int64, ids []int64) ([]int64, error)
	// CommitSeen records delivered listing ids and prunes previously seen
	// ids that are no longer in the currently matched set, in one
	// transaction.
	CommitSeen(ctx context.Context, userID int64, delivered, matched []int64) error
	WipeSeen(ctx context.Context, userID int64) error

	AddBlacklist(ctx context.Context, userID, vendorID int64) error
	RemoveBlacklist(ctx context.Context, userID, vendorID int64) error
	ListBlacklist(ctx context.Context, userID int64) (map[int64]struct{}, error)

	IsFallbackBlocked(ctx context.Context, userID, chatID int64) (bool, error)
	BlockFallback(ctx context.Context, userID, chatID int64) error
	UnblockFallback(ctx context.Context, userID int64) error

	RememberUserChannel(ctx context.Context, userID, chatID int64) error
	ListUserChannels(ctx context.Context, userID int64) ([]int64, error)

	UpsertVendorRating(ctx context.Context, vendorID int64, rating float64) error
	VendorRatings(ctx context.Context) (map[int64]float64, error)

	Stats(ctx context.Context) (*model.Stats, error)
	// IntegrityCheck reports the health of the underlying store.
	IntegrityCheck(ctx context.Context) (string, error)

	Close() error
}
