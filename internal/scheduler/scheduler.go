// Package scheduler drives the periodic matching pipeline, the daily
// expiry sweeps and the catalog refresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"antwatch/internal/catalog"
	"antwatch/internal/matcher"
	"antwatch/internal/model"
	"antwatch/internal/notify"
	"antwatch/internal/storage"
)

// retentionPeriod is how long an unanswered active notification is kept
// before the daily sweep expires it.
const retentionPeriod = 365 * 24 * time.Hour

// Scheduler runs the Matcher → Dedup → Dispatcher pipeline for every
// active notification on a timer.
type Scheduler struct {
	store      storage.Storage
	catalog    *catalog.Store
	allow      *matcher.AllowList
	dispatcher *notify.Dispatcher
	feedback   *notify.Feedback
	msgr       notify.Messenger
	log        *slog.Logger

	tick        time.Duration
	sweepTick   time.Duration
	refreshTick time.Duration
	workers     int

	// busy serializes ticks: a tick that fires while the previous one is
	// still running is skipped, while work within one tick fans out.
	busy atomic.Bool
	// userLocks holds one mutex per user so a tick and an immediate
	// post-/watch check never interleave on the same seen ledger.
	userLocks sync.Map
	now       func() time.Time
}

// New creates a Scheduler.
func New(store storage.Storage, cat *catalog.Store, allow *matcher.AllowList,
	dispatcher *notify.Dispatcher, feedback *notify.Feedback, msgr notify.Messenger,
	workers int, log *slog.Logger,
) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:       store,
		catalog:     cat,
		allow:       allow,
		dispatcher:  dispatcher,
		feedback:    feedback,
		msgr:        msgr,
		log:         log,
		tick:        5 * time.Minute,
		sweepTick:   24 * time.Hour,
		refreshTick: 30 * time.Minute,
		workers:     workers,
		now:         time.Now,
	}
}

// SetTickInterval overrides the default 5-minute poll interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetRefreshInterval overrides the default 30-minute catalog refresh.
func (s *Scheduler) SetRefreshInterval(d time.Duration) {
	s.refreshTick = d
}

// Run starts the scheduler loops, blocking until ctx is cancelled. The
// sweep runs once at startup so pending-feedback deadlines that passed
// while the process was down are reconciled immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.sweep(ctx)
	s.checkAll(ctx)

	poll := time.NewTicker(s.tick)
	defer poll.Stop()
	sweep := time.NewTicker(s.sweepTick)
	defer sweep.Stop()
	refresh := time.NewTicker(s.refreshTick)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.checkAll(ctx)
		case <-sweep.C:
			s.sweep(ctx)
		case <-refresh.C:
			if err := s.catalog.Load(ctx); err != nil {
				s.log.Error("refresh catalog", "error", err)
			}
		}
	}
}

// checkAll runs one poll tick: every user's active notifications go
// through the pipeline, users fanned out concurrently, one user's
// notifications strictly sequential (single writer per seen ledger).
func (s *Scheduler) checkAll(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Warn("previous tick still running, skipping")
		return
	}
	defer s.busy.Store(false)

	snap := s.catalog.Current()
	if snap == nil {
		s.log.Error("no catalog snapshot loaded yet")
		return
	}

	notifs, err := s.store.ListActiveNotifications(ctx)
	if err != nil {
		s.log.Error("list active notifications", "error", err)
		return
	}
	if len(notifs) == 0 {
		return
	}

	byUser := make(map[int64][]model.Notification)
	for _, n := range notifs {
		byUser[n.UserID] = append(byUser[n.UserID], n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for userID, userNotifs := range byUser {
		g.Go(func() error {
			s.processUser(gctx, snap, userID, userNotifs)
			return nil
		})
	}
	_ = g.Wait()
}

// processUser matches all of one user's notifications against the
// snapshot first, then delivers. The seen-ledger prune set is the union
// of everything the user currently matches, so a delivery for one
// notification cannot evict another notification's seen entries.
// A per-user mutex keeps the ledger single-writer even when a tick and
// a CheckOne run at the same time.
func (s *Scheduler) processUser(ctx context.Context, snap *catalog.Snapshot, userID int64, notifs []model.Notification) {
	lock, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	blacklist, err := s.store.ListBlacklist(ctx, userID)
	if err != nil {
		s.log.Error("list blacklist", "user_id", userID, "error", err)
		return
	}

	type matched struct {
		n    model.Notification
		hits []matcher.Hit
	}
	var results []matched
	unionSet := make(map[int64]struct{})
	for _, n := range notifs {
		if ctx.Err() != nil {
			return
		}
		hits, err := matcher.Match(snap, s.allow, matcher.Query{
			Term:      n.Term,
			Regions:   n.Regions,
			CHMode:    n.CHMode,
			Blacklist: blacklist,
			Excluded:  n.Excluded,
		})
		if err != nil {
			s.log.Error("match", "notification_id", n.ID, "term", n.Term, "error", err)
			continue
		}
		results = append(results, matched{n: n, hits: hits})
		for _, h := range hits {
			unionSet[h.Listing.ID] = struct{}{}
		}
	}

	// Listings matched by notifications awaiting feedback stay in the
	// ledger too; only listings gone from the catalog get pruned.
	if all, err := s.store.ListNotificationsByUser(ctx, userID); err != nil {
		s.log.Error("list user notifications", "user_id", userID, "error", err)
	} else {
		for _, m := range all {
			if m.Status != model.StatusPendingFeedback {
				continue
			}
			hits, err := matcher.Match(snap, s.allow, matcher.Query{
				Term:      m.Term,
				Regions:   m.Regions,
				CHMode:    m.CHMode,
				Blacklist: blacklist,
				Excluded:  m.Excluded,
			})
			if err != nil {
				continue
			}
			for _, h := range hits {
				unionSet[h.Listing.ID] = struct{}{}
			}
		}
	}

	unionIDs := make([]int64, 0, len(unionSet))
	for id := range unionSet {
		unionIDs = append(unionIDs, id)
	}

	for _, r := range results {
		if ctx.Err() != nil {
			return
		}
		if err := s.deliverNew(ctx, r.n, r.hits, unionIDs); err != nil {
			s.log.Error("process notification", "notification_id", r.n.ID, "error", err)
		}
	}

	// Prune even when nothing was delivered: a listing that vanished
	// from the matched set must leave the ledger so its reappearance
	// notifies again.
	if err := s.store.CommitSeen(ctx, userID, nil, unionIDs); err != nil {
		s.log.Error("prune seen ledger", "user_id", userID, "error", err)
	}
}

func (s *Scheduler) deliverNew(ctx context.Context, n model.Notification, hits []matcher.Hit, matchedIDs []int64) error {
	if len(hits) == 0 {
		return nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Listing.ID
	}
	fresh, err := s.store.FilterNew(ctx, n.UserID, ids)
	if err != nil {
		return fmt.Errorf("filter new: %w", err)
	}
	if len(fresh) == 0 {
		return nil
	}

	freshSet := make(map[int64]struct{}, len(fresh))
	for _, id := range fresh {
		freshSet[id] = struct{}{}
	}
	freshHits := make([]matcher.Hit, 0, len(fresh))
	for _, h := range hits {
		if _, ok := freshSet[h.Listing.ID]; ok {
			freshHits = append(freshHits, h)
		}
	}

	outcome, err := s.dispatcher.Deliver(ctx, n, freshHits)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	if outcome != notify.Delivered {
		return nil
	}

	if err := s.store.CommitSeen(ctx, n.UserID, fresh, matchedIDs); err != nil {
		return fmt.Errorf("commit seen: %w", err)
	}
	s.log.Info("delivered", "notification_id", n.ID, "user_id", n.UserID, "listings", len(fresh))
	return nil
}

// CheckOne runs the pipeline immediately after a watch is registered.
// The whole user is processed, not just the new notification, so the
// ledger prune set stays the union of everything the user matches.
func (s *Scheduler) CheckOne(ctx context.Context, n model.Notification) {
	snap := s.catalog.Current()
	if snap == nil {
		s.log.Warn("check skipped, no catalog snapshot", "notification_id", n.ID)
		return
	}

	notifs := []model.Notification{n}
	if all, err := s.store.ListNotificationsByUser(ctx, n.UserID); err != nil {
		s.log.Error("list user notifications", "user_id", n.UserID, "error", err)
	} else {
		notifs = notifs[:0]
		for _, m := range all {
			if m.Status == model.StatusActive {
				notifs = append(notifs, m)
			}
		}
	}
	s.processUser(ctx, snap, n.UserID, notifs)
}

// sweep expires aged-out active notifications and overdue feedback
// waits. Each expiry produces at most one best-effort notice, sent only
// after the status transition succeeded.
func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now().UTC()

	aged, err := s.store.ListActiveCreatedBefore(ctx, now.Add(-retentionPeriod))
	if err != nil {
		s.log.Error("list aged notifications", "error", err)
	} else {
		for _, n := range aged {
			if err := s.store.TransitionStatus(ctx, n.ID, model.StatusActive, model.StatusExpired); err != nil {
				s.log.Warn("expire aged notification", "notification_id", n.ID, "error", err)
				continue
			}
			text := fmt.Sprintf("Your watch for %q was active for a year without a match and has expired.", n.Term)
			if err := s.msgr.SendDM(ctx, n.UserID, text); err != nil {
				s.log.Warn("send expiry notice", "notification_id", n.ID, "error", err)
			}
		}
		if len(aged) > 0 {
			s.log.Info("expired aged notifications", "count", len(aged))
		}
	}

	s.feedback.SweepOverdue(ctx, now)
}
