package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"antwatch/internal/model"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newWatch(t *testing.T, s *SQLite, userID int64, term string, regions ...string) *model.Notification {
	t.Helper()
	n := &model.Notification{
		UserID:       userID,
		Term:         term,
		Regions:      regions,
		OriginChatID: userID,
	}
	if err := s.UpsertNotification(context.Background(), n); err != nil {
		t.Fatalf("upsert %q: %v", term, err)
	}
	return n
}

func TestUpsertReactivatesSameTriple(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	n := newWatch(t, s, 7, "messor barbarus", "de")
	firstID := n.ID

	// Move it along the lifecycle, then register the same triple again.
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkDelivered(ctx, n.ID, now, now.Add(48*time.Hour)); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	again := newWatch(t, s, 7, "messor barbarus", "de")
	if again.ID != firstID {
		t.Errorf("re-registration created a new row: got id %d, want %d", again.ID, firstID)
	}

	got, err := s.GetNotification(ctx, firstID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.NotifiedAt != nil || got.PendingFeedbackUntil != nil {
		t.Error("re-registration must clear delivery timestamps")
	}
}

func TestUpsertDistinctTriples(t *testing.T) {
	s := newTestDB(t)

	a := newWatch(t, s, 7, "messor barbarus", "de")
	b := newWatch(t, s, 7, "messor barbarus", "fr")
	c := newWatch(t, s, 8, "messor barbarus", "de")

	if a.ID == b.ID || a.ID == c.ID || b.ID == c.ID {
		t.Errorf("distinct (user, term, regions) triples must get distinct rows: %d %d %d", a.ID, b.ID, c.ID)
	}
}

func TestGetNotificationNotFound(t *testing.T) {
	s := newTestDB(t)
	if _, err := s.GetNotification(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMarkDelivered(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	n := newWatch(t, s, 7, "lasius niger", "de")

	notified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := notified.Add(48 * time.Hour)
	if err := s.MarkDelivered(ctx, n.ID, notified, deadline); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	got, err := s.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPendingFeedback {
		t.Errorf("status = %s, want pending_feedback", got.Status)
	}
	if got.NotifiedAt == nil || !got.NotifiedAt.Equal(notified) {
		t.Errorf("notified_at = %v, want %v", got.NotifiedAt, notified)
	}
	if got.PendingFeedbackUntil == nil || !got.PendingFeedbackUntil.Equal(deadline) {
		t.Errorf("pending_feedback_until = %v, want %v", got.PendingFeedbackUntil, deadline)
	}

	// Already moved off active: the CAS must refuse.
	if err := s.MarkDelivered(ctx, n.ID, notified, deadline); !errors.Is(err, ErrStaleStatus) {
		t.Errorf("second mark error = %v, want ErrStaleStatus", err)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	n := newWatch(t, s, 7, "lasius niger", "de")

	if err := s.TransitionStatus(ctx, n.ID, model.StatusPendingFeedback, model.StatusCompleted); !errors.Is(err, ErrStaleStatus) {
		t.Errorf("transition from wrong state error = %v, want ErrStaleStatus", err)
	}

	if err := s.TransitionStatus(ctx, n.ID, model.StatusActive, model.StatusFailed); err != nil {
		t.Fatalf("transition to failed: %v", err)
	}
	got, err := s.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestTransitionBackToActiveClearsDeadline(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	n := newWatch(t, s, 7, "lasius niger", "de")

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkDelivered(ctx, n.ID, now, now.Add(48*time.Hour)); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := s.TransitionStatus(ctx, n.ID, model.StatusPendingFeedback, model.StatusActive); err != nil {
		t.Fatalf("transition back to active: %v", err)
	}

	got, err := s.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PendingFeedbackUntil != nil {
		t.Error("returning to active must clear the feedback deadline")
	}
}

func TestListActiveNotifications(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	a := newWatch(t, s, 7, "messor barbarus", "de")
	b := newWatch(t, s, 8, "lasius niger", "fr")
	if err := s.TransitionStatus(ctx, b.ID, model.StatusActive, model.StatusFailed); err != nil {
		t.Fatalf("fail b: %v", err)
	}

	active, err := s.ListActiveNotifications(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("expected only notification %d active, got %+v", a.ID, active)
	}
}

func TestListActiveCreatedBefore(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	n := newWatch(t, s, 7, "messor barbarus", "de")

	old, err := s.ListActiveCreatedBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("fresh notification must not be listed as aged, got %d", len(old))
	}

	aged, err := s.ListActiveCreatedBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(aged) != 1 || aged[0].ID != n.ID {
		t.Errorf("expected notification %d listed as aged, got %+v", n.ID, aged)
	}
}

func TestListFeedbackOverdue(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	overdue := newWatch(t, s, 7, "messor barbarus", "de")
	waiting := newWatch(t, s, 7, "lasius niger", "de")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkDelivered(ctx, overdue.ID, base, base.Add(48*time.Hour)); err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if err := s.MarkDelivered(ctx, waiting.ID, base, base.Add(96*time.Hour)); err != nil {
		t.Fatalf("mark waiting: %v", err)
	}

	got, err := s.ListFeedbackOverdue(ctx, base.Add(49*time.Hour))
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(got) != 1 || got[0].ID != overdue.ID {
		t.Errorf("expected only notification %d overdue, got %+v", overdue.ID, got)
	}
}

func TestReactivateFailed(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	a := newWatch(t, s, 7, "messor barbarus", "de")
	b := newWatch(t, s, 7, "lasius niger", "de")
	other := newWatch(t, s, 8, "lasius niger", "de")
	for _, n := range []*model.Notification{a, b, other} {
		if err := s.TransitionStatus(ctx, n.ID, model.StatusActive, model.StatusFailed); err != nil {
			t.Fatalf("fail %d: %v", n.ID, err)
		}
	}

	count, err := s.ReactivateFailed(ctx, 7)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if count != 2 {
		t.Errorf("reactivated %d, want 2", count)
	}

	got, err := s.GetNotification(ctx, other.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Error("another user's failed notification must stay failed")
	}
}

func TestSeenLedger(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	// Nothing seen yet: everything is fresh, in input order.
	fresh, err := s.FilterNew(ctx, 7, []int64{3, 1, 2})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if diff := cmp.Diff([]int64{3, 1, 2}, fresh); diff != "" {
		t.Errorf("fresh mismatch (-want +got):\n%s", diff)
	}

	if err := s.CommitSeen(ctx, 7, []int64{1, 2}, []int64{1, 2, 3}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	fresh, err = s.FilterNew(ctx, 7, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if diff := cmp.Diff([]int64{3}, fresh); diff != "" {
		t.Errorf("fresh mismatch (-want +got):\n%s", diff)
	}

	// Listing 1 vanishes from the matched set: it gets pruned, so its
	// reappearance counts as new again.
	if err := s.CommitSeen(ctx, 7, nil, []int64{2}); err != nil {
		t.Fatalf("commit prune: %v", err)
	}
	fresh, err = s.FilterNew(ctx, 7, []int64{1, 2})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if diff := cmp.Diff([]int64{1}, fresh); diff != "" {
		t.Errorf("fresh after prune mismatch (-want +got):\n%s", diff)
	}

	// The ledger is per user.
	fresh, err = s.FilterNew(ctx, 8, []int64{2})
	if err != nil {
		t.Fatalf("filter other user: %v", err)
	}
	if diff := cmp.Diff([]int64{2}, fresh); diff != "" {
		t.Errorf("other user mismatch (-want +got):\n%s", diff)
	}
}

func TestWipeSeen(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	if err := s.CommitSeen(ctx, 7, []int64{1, 2}, []int64{1, 2}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.WipeSeen(ctx, 7); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	fresh, err := s.FilterNew(ctx, 7, []int64{1, 2})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2}, fresh); diff != "" {
		t.Errorf("everything must be fresh after a wipe (-want +got):\n%s", diff)
	}
}

func TestDeleteNotifications(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	mine := newWatch(t, s, 7, "messor barbarus", "de")
	other := newWatch(t, s, 8, "lasius niger", "de")

	deleted, err := s.DeleteNotifications(ctx, 7, []int64{mine.ID, other.ID, 9999})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if diff := cmp.Diff([]int64{mine.ID}, deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetNotification(ctx, mine.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted notification still readable: %v", err)
	}
	if _, err := s.GetNotification(ctx, other.ID); err != nil {
		t.Errorf("other user's notification must survive: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DeletedTotal != 1 {
		t.Errorf("deleted counter = %d, want 1", stats.DeletedTotal)
	}
}

func TestBlacklist(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	if err := s.AddBlacklist(ctx, 7, 42); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddBlacklist(ctx, 7, 42); err != nil {
		t.Fatalf("add twice: %v", err)
	}
	if err := s.AddBlacklist(ctx, 7, 43); err != nil {
		t.Fatalf("add second: %v", err)
	}

	got, err := s.ListBlacklist(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := map[int64]struct{}{42: {}, 43: {}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blacklist mismatch (-want +got):\n%s", diff)
	}

	if err := s.RemoveBlacklist(ctx, 7, 42); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = s.ListBlacklist(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(map[int64]struct{}{43: {}}, got); diff != "" {
		t.Errorf("blacklist after remove mismatch (-want +got):\n%s", diff)
	}
}

func TestFallbackBlocks(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	blocked, err := s.IsFallbackBlocked(ctx, 7, -100)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if blocked {
		t.Error("fresh pair must not be blocked")
	}

	if err := s.BlockFallback(ctx, 7, -100); err != nil {
		t.Fatalf("block: %v", err)
	}
	blocked, err = s.IsFallbackBlocked(ctx, 7, -100)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !blocked {
		t.Error("pair must be blocked after BlockFallback")
	}

	// A different channel for the same user is independent.
	blocked, err = s.IsFallbackBlocked(ctx, 7, -200)
	if err != nil {
		t.Fatalf("check other channel: %v", err)
	}
	if blocked {
		t.Error("blocks are per (user, channel) pair")
	}

	if err := s.UnblockFallback(ctx, 7); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	blocked, err = s.IsFallbackBlocked(ctx, 7, -100)
	if err != nil {
		t.Fatalf("check after unblock: %v", err)
	}
	if blocked {
		t.Error("unblock must clear the user's blocks")
	}
}

func TestUserChannels(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	for _, chat := range []int64{-200, -100, -200} {
		if err := s.RememberUserChannel(ctx, 7, chat); err != nil {
			t.Fatalf("remember %d: %v", chat, err)
		}
	}

	got, err := s.ListUserChannels(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]int64{-200, -100}, got); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

func TestVendorRatings(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	if err := s.UpsertVendorRating(ctx, 1, 4.0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertVendorRating(ctx, 1, 4.5); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := s.UpsertVendorRating(ctx, 2, 3.0); err != nil {
		t.Fatalf("upsert second: %v", err)
	}

	got, err := s.VendorRatings(ctx)
	if err != nil {
		t.Fatalf("ratings: %v", err)
	}
	want := map[int64]float64{1: 4.5, 2: 3.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ratings mismatch (-want +got):\n%s", diff)
	}
}

func TestStats(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	a := newWatch(t, s, 7, "messor barbarus", "de")
	newWatch(t, s, 8, "messor barbarus", "de")
	newWatch(t, s, 8, "lasius niger", "de")
	if err := s.TransitionStatus(ctx, a.ID, model.StatusActive, model.StatusFailed); err != nil {
		t.Fatalf("fail a: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Active != 2 || stats.Failed != 1 {
		t.Errorf("counts = active %d failed %d, want 2 and 1", stats.Active, stats.Failed)
	}
	want := []model.TermCount{
		{Term: "messor barbarus", Count: 2},
		{Term: "lasius niger", Count: 1},
	}
	if diff := cmp.Diff(want, stats.TopTerms); diff != "" {
		t.Errorf("top terms mismatch (-want +got):\n%s", diff)
	}
}

func TestGetNotificationRejectsMalformedTimestamp(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	n := newWatch(t, s, 7, "messor barbarus", "de")

	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET created_at = 'not-a-time' WHERE id = ?`, n.ID,
	); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := s.GetNotification(ctx, n.ID); err == nil {
		t.Fatal("expected error for malformed created_at, got zero-time record")
	}
}

func TestIntegrityCheck(t *testing.T) {
	s := newTestDB(t)
	result, err := s.IntegrityCheck(context.Background())
	if err != nil {
		t.Fatalf("integrity check: %v", err)
	}
	if result != "ok" {
		t.Errorf("integrity check = %q, want ok", result)
	}
}
