package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"antwatch/internal/model"
	"antwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertNotification inserts a notification or re-activates the record
// holding the same (user, term, regions) triple, refreshing created_at
// and clearing delivery timestamps.
func (s *SQLite) UpsertNotification(ctx context.Context, n *model.Notification) error {
	now := time.Now().UTC().Format(timeLayout)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, term, regions, ch_mode, excluded, status, created_at, origin_chat_id)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)
		 ON CONFLICT (user_id, term, regions) DO UPDATE SET
		   status = 'active',
		   created_at = excluded.created_at,
		   notified_at = NULL,
		   pending_feedback_until = NULL,
		   ch_mode = excluded.ch_mode,
		   excluded = excluded.excluded,
		   origin_chat_id = excluded.origin_chat_id
		 RETURNING id`,
		n.UserID, n.Term, joinList(n.Regions), boolToInt(n.CHMode), joinList(n.Excluded), now, n.OriginChatID,
	)
	if err := row.Scan(&n.ID); err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	n.Status = model.StatusActive
	n.CreatedAt, _ = time.Parse(timeLayout, now)
	n.NotifiedAt = nil
	n.PendingFeedbackUntil = nil
	return nil
}

// GetNotification returns a single notification by its ID.
func (s *SQLite) GetNotification(ctx context.Context, id int64) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx, selectNotification+` WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// ListActiveNotifications returns all notifications being watched.
func (s *SQLite) ListActiveNotifications(ctx context.Context) ([]model.Notification, error) {
	return s.queryNotifications(ctx, selectNotification+` WHERE status = 'active' ORDER BY id`)
}

// ListNotificationsByUser returns all of a user's notifications, newest first.
func (s *SQLite) ListNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error) {
	return s.queryNotifications(ctx,
		selectNotification+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// DeleteNotifications removes the user's notifications with the given
// IDs and bumps the global deleted counter by the number removed.
func (s *SQLite) DeleteNotifications(ctx context.Context, userID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT id FROM notifications WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select owned notifications: %w", err)
	}
	var owned []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		owned = append(owned, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return nil, nil
	}

	delQuery := `DELETE FROM notifications WHERE user_id = ? AND id IN (` + placeholders(len(owned)) + `)`
	delArgs := make([]any, 0, len(owned)+1)
	delArgs = append(delArgs, userID)
	for _, id := range owned {
		delArgs = append(delArgs, id)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return nil, fmt.Errorf("delete notifications: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE global_stats SET value = value + ? WHERE key = 'deleted_notifications'`,
		len(owned),
	); err != nil {
		return nil, fmt.Errorf("update deleted counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return owned, nil
}

// MarkDelivered moves an active notification to pending_feedback. The
// status, notified_at and the feedback deadline are written in a single
// conditional update so a crash can never leave a delivered record
// without a deadline.
func (s *SQLite) MarkDelivered(ctx context.Context, id int64, notifiedAt, feedbackUntil time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications
		 SET status = 'pending_feedback', notified_at = ?, pending_feedback_until = ?
		 WHERE id = ? AND status = 'active'`,
		notifiedAt.UTC().Format(timeLayout), feedbackUntil.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return requireOneRow(res)
}

// TransitionStatus performs a compare-and-swap status change. Moving a
// record back to active clears its feedback deadline.
func (s *SQLite) TransitionStatus(ctx context.Context, id int64, from, to model.Status) error {
	var (
		res sql.Result
		err error
	)
	if to == model.StatusActive {
		res, err = s.db.ExecContext(ctx,
			`UPDATE notifications SET status = ?, pending_feedback_until = NULL
			 WHERE id = ? AND status = ?`,
			string(to), id, string(from),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE notifications SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from),
		)
	}
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", from, to, err)
	}
	return requireOneRow(res)
}

// ListActiveCreatedBefore returns active notifications older than cutoff.
func (s *SQLite) ListActiveCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.Notification, error) {
	return s.queryNotifications(ctx,
		selectNotification+` WHERE status = 'active' AND created_at < ? ORDER BY id`,
		cutoff.UTC().Format(timeLayout))
}

// ListFeedbackOverdue returns pending_feedback notifications whose
// deadline has passed.
func (s *SQLite) ListFeedbackOverdue(ctx context.Context, now time.Time) ([]model.Notification, error) {
	return s.queryNotifications(ctx,
		selectNotification+` WHERE status = 'pending_feedback' AND pending_feedback_until <= ? ORDER BY id`,
		now.UTC().Format(timeLayout))
}

// ReactivateFailed moves all of a user's failed notifications back to active.
func (s *SQLite) ReactivateFailed(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'active', pending_feedback_until = NULL
		 WHERE user_id = ? AND status = 'failed'`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("reactivate failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// FilterNew returns the subset of ids not yet in the user's seen ledger,
// preserving input order.
func (s *SQLite) FilterNew(ctx context.Context, userID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT listing_id FROM seen_listings WHERE user_id = ? AND listing_id IN (` +
		placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seen: %w", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var fresh []int64
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// CommitSeen records delivered listings in the seen ledger and removes
// previously seen ids that vanished from the currently matched set, so
// a listing that disappears and later reappears notifies again.
func (s *SQLite) CommitSeen(ctx context.Context, userID int64, delivered, matched []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	for _, id := range delivered {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_listings (user_id, listing_id, seen_at) VALUES (?, ?, ?)`,
			userID, id, now,
		); err != nil {
			return fmt.Errorf("insert seen: %w", err)
		}
	}

	pruneQuery := `DELETE FROM seen_listings WHERE user_id = ?`
	pruneArgs := []any{userID}
	if len(matched) > 0 {
		pruneQuery += ` AND listing_id NOT IN (` + placeholders(len(matched)) + `)`
		for _, id := range matched {
			pruneArgs = append(pruneArgs, id)
		}
	}
	if _, err := tx.ExecContext(ctx, pruneQuery, pruneArgs...); err != nil {
		return fmt.Errorf("prune seen: %w", err)
	}

	return tx.Commit()
}

// WipeSeen clears a user's entire seen ledger.
func (s *SQLite) WipeSeen(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_listings WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("wipe seen: %w", err)
	}
	return nil
}

// AddBlacklist excludes a vendor from the user's matches.
func (s *SQLite) AddBlacklist(ctx context.Context, userID, vendorID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blacklist (user_id, vendor_id) VALUES (?, ?)`, userID, vendorID,
	); err != nil {
		return fmt.Errorf("add blacklist: %w", err)
	}
	return nil
}

// RemoveBlacklist lifts a vendor exclusion.
func (s *SQLite) RemoveBlacklist(ctx context.Context, userID, vendorID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM blacklist WHERE user_id = ? AND vendor_id = ?`, userID, vendorID,
	); err != nil {
		return fmt.Errorf("remove blacklist: %w", err)
	}
	return nil
}

// ListBlacklist returns the set of vendors blacklisted by the user.
func (s *SQLite) ListBlacklist(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vendor_id FROM blacklist WHERE user_id = ?`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query blacklist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vendor id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// IsFallbackBlocked reports whether a fallback alert was already posted
// for this (user, channel) pair.
func (s *SQLite) IsFallbackBlocked(ctx context.Context, userID, chatID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fallback_blocks WHERE user_id = ? AND chat_id = ?`,
		userID, chatID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check fallback block: %w", err)
	}
	return count > 0, nil
}

// BlockFallback marks a (user, channel) pair as already alerted.
func (s *SQLite) BlockFallback(ctx context.Context, userID, chatID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fallback_blocks (user_id, chat_id) VALUES (?, ?)`, userID, chatID,
	); err != nil {
		return fmt.Errorf("block fallback: %w", err)
	}
	return nil
}

// UnblockFallback clears all fallback blocks for a user after direct
// delivery is confirmed working again.
func (s *SQLite) UnblockFallback(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM fallback_blocks WHERE user_id = ?`, userID,
	); err != nil {
		return fmt.Errorf("unblock fallback: %w", err)
	}
	return nil
}

// RememberUserChannel records a community channel a user is known in.
func (s *SQLite) RememberUserChannel(ctx context.Context, userID, chatID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_channels (user_id, chat_id) VALUES (?, ?)`, userID, chatID,
	); err != nil {
		return fmt.Errorf("remember user channel: %w", err)
	}
	return nil
}

// ListUserChannels returns the community channels known for a user.
func (s *SQLite) ListUserChannels(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM user_channels WHERE user_id = ? ORDER BY chat_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertVendorRating stores or refreshes a vendor's rating.
func (s *SQLite) UpsertVendorRating(ctx context.Context, vendorID int64, rating float64) error {
	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vendor_ratings (vendor_id, rating, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (vendor_id) DO UPDATE SET rating = excluded.rating, updated_at = excluded.updated_at`,
		vendorID, rating, now,
	); err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

// VendorRatings returns all persisted vendor ratings.
func (s *SQLite) VendorRatings(ctx context.Context) (map[int64]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vendor_id, rating FROM vendor_ratings`)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var rating float64
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out[id] = rating
	}
	return out, rows.Err()
}

// Stats returns notification counts, the top watched terms and the
// global deleted counter.
func (s *SQLite) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch model.Status(status) {
		case model.StatusActive:
			stats.Active = count
		case model.StatusCompleted:
			stats.Completed = count
		case model.StatusExpired:
			stats.Expired = count
		case model.StatusFailed:
			stats.Failed = count
		case model.StatusPendingFeedback:
			stats.Pending = count
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top, err := s.db.QueryContext(ctx,
		`SELECT term, COUNT(*) FROM notifications GROUP BY term ORDER BY COUNT(*) DESC, term LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	for top.Next() {
		var tc model.TermCount
		if err := top.Scan(&tc.Term, &tc.Count); err != nil {
			_ = top.Close()
			return nil, fmt.Errorf("scan top term: %w", err)
		}
		stats.TopTerms = append(stats.TopTerms, tc)
	}
	_ = top.Close()
	if err := top.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM global_stats WHERE key = 'deleted_notifications'`,
	).Scan(&stats.DeletedTotal)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query deleted counter: %w", err)
	}

	return stats, nil
}

// IntegrityCheck runs PRAGMA integrity_check for the /system command.
func (s *SQLite) IntegrityCheck(ctx context.Context) (string, error) {
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	return result, nil
}

const selectNotification = `SELECT id, user_id, term, regions, ch_mode, excluded, status,
 created_at, notified_at, pending_feedback_until, origin_chat_id FROM notifications`

func (s *SQLite) queryNotifications(ctx context.Context, query string, args ...any) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanNotification(row scannable) (*model.Notification, error) {
	var n model.Notification
	var regions, excluded, status string
	var chMode int
	var created sql.NullString
	var notified, feedbackUntil sql.NullString
	err := row.Scan(&n.ID, &n.UserID, &n.Term, &regions, &chMode, &excluded, &status,
		&created, &notified, &feedbackUntil, &n.OriginChatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.Regions = splitList(regions)
	n.Excluded = splitList(excluded)
	n.CHMode = chMode == 1
	n.Status = model.Status(status)
	if created.Valid {
		n.CreatedAt, err = time.Parse(timeLayout, created.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
	}
	if notified.Valid {
		t, err := time.Parse(timeLayout, notified.String)
		if err != nil {
			return nil, fmt.Errorf("parse notified_at: %w", err)
		}
		n.NotifiedAt = &t
	}
	if feedbackUntil.Valid {
		t, err := time.Parse(timeLayout, feedbackUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parse pending_feedback_until: %w", err)
		}
		n.PendingFeedbackUntil = &t
	}
	return &n, nil
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
