// Package model defines the domain types used across the application.
package model

import "time"

// Vendor is a shop offering listings, taken from the catalog snapshot.
// Rating is enriched from persisted data and survives catalog reloads.
type Vendor struct {
	ID          int64
	Name        string
	CountryCode string
	URL         string
	Rating      *float64
}

// Listing is a single for-sale item from a vendor's snapshot. It only
// exists for the lifetime of one snapshot; its ID is stable across
// snapshots for the same underlying item.
type Listing struct {
	ID         int64
	VendorID   int64
	Title      string
	InStock    bool
	MinPrice   float64
	MaxPrice   float64
	Currency   string
	ProductURL string
}

// Status is the lifecycle state of a notification.
type Status string

// Notification lifecycle states.
const (
	StatusActive          Status = "active"
	StatusPendingFeedback Status = "pending_feedback"
	StatusCompleted       Status = "completed"
	StatusExpired         Status = "expired"
	StatusFailed          Status = "failed"
)

// Notification is a user's registered interest in a term.
// At most one record exists per (user, term, regions) triple.
type Notification struct {
	ID                   int64
	UserID               int64
	Term                 string
	Regions              []string
	CHMode               bool
	Excluded             []string
	Status               Status
	CreatedAt            time.Time
	NotifiedAt           *time.Time
	PendingFeedbackUntil *time.Time
	OriginChatID         int64
}

// FeedbackSignal is a user's reply to a delivered notification.
type FeedbackSignal string

// Supported feedback signals.
const (
	FeedbackPositive FeedbackSignal = "positive"
	FeedbackContinue FeedbackSignal = "continue"
)

// Stats summarizes notification counts for the /stats command.
type Stats struct {
	Active       int
	Completed    int
	Expired      int
	Failed       int
	Pending      int
	DeletedTotal int64
	TopTerms     []TermCount
}

// TermCount is one entry of the most-watched terms ranking.
type TermCount struct {
	Term  string
	Count int
}
