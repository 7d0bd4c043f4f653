package bot

import (
	"fmt"
	"strings"
	"time"

	"antwatch/internal/model"
)

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusActive:
		return "watching"
	case model.StatusPendingFeedback:
		return "awaiting feedback"
	case model.StatusCompleted:
		return "completed"
	case model.StatusExpired:
		return "expired"
	case model.StatusFailed:
		return "failed"
	}
	return string(s)
}

func regionsLabel(n *model.Notification) string {
	if n.CHMode {
		return "CH delivery"
	}
	return strings.Join(n.Regions, ",")
}

// FormatWatchList formats a user's active watches.
func FormatWatchList(notifs []model.Notification) string {
	var active []model.Notification
	for _, n := range notifs {
		if n.Status == model.StatusActive || n.Status == model.StatusPendingFeedback {
			active = append(active, n)
		}
	}
	if len(active) == 0 {
		return "You have no active watches. Use /watch <species|genus> <regions> to add one."
	}

	var b strings.Builder
	b.WriteString("Your watches:\n")
	for _, n := range active {
		fmt.Fprintf(&b, "\n#%d %s in %s [%s]\n", n.ID, n.Term, regionsLabel(&n), statusLabel(n.Status))
		if len(n.Excluded) > 0 {
			fmt.Fprintf(&b, "   excluding: %s\n", strings.Join(n.Excluded, ", "))
		}
	}
	return b.String()
}

// FormatHistory formats all of a user's notifications grouped by status.
func FormatHistory(notifs []model.Notification) string {
	if len(notifs) == 0 {
		return "No notifications yet."
	}

	groups := map[model.Status][]model.Notification{}
	for _, n := range notifs {
		groups[n.Status] = append(groups[n.Status], n)
	}

	order := []model.Status{
		model.StatusActive, model.StatusPendingFeedback, model.StatusCompleted,
		model.StatusExpired, model.StatusFailed,
	}

	var b strings.Builder
	b.WriteString("Your history:\n")
	for _, status := range order {
		entries := groups[status]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", statusLabel(status))
		shown := entries
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for _, n := range shown {
			fmt.Fprintf(&b, "- #%d %s in %s (%s)\n",
				n.ID, n.Term, regionsLabel(&n), n.CreatedAt.Format("2006-01-02"))
		}
		if rest := len(entries) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "  ...and %d more\n", rest)
		}
	}
	return b.String()
}

// FormatStats formats the admin statistics summary.
func FormatStats(stats *model.Stats) string {
	var b strings.Builder
	b.WriteString("Statistics\n")
	fmt.Fprintf(&b, "Active: %d\n", stats.Active)
	fmt.Fprintf(&b, "Awaiting feedback: %d\n", stats.Pending)
	fmt.Fprintf(&b, "Completed: %d\n", stats.Completed)
	fmt.Fprintf(&b, "Expired: %d\n", stats.Expired)
	fmt.Fprintf(&b, "Failed: %d\n", stats.Failed)
	fmt.Fprintf(&b, "Deleted (all time): %d\n", stats.DeletedTotal)
	if len(stats.TopTerms) > 0 {
		b.WriteString("\nTop watched terms:\n")
		for _, tc := range stats.TopTerms {
			fmt.Fprintf(&b, "- %s: %d\n", tc.Term, tc.Count)
		}
	}
	return b.String()
}

// FormatSystem formats the admin system status report.
func FormatSystem(uptime time.Duration, integrity string, vendors, listings int, staleness time.Duration, haveSnapshot bool) string {
	var b strings.Builder
	b.WriteString("Bot status\n")
	fmt.Fprintf(&b, "Uptime: %s\n", uptime.Round(time.Second))
	fmt.Fprintf(&b, "Database integrity: %s\n", integrity)
	if haveSnapshot {
		fmt.Fprintf(&b, "Catalog: %d vendors, %d listings, source %s old\n",
			vendors, listings, staleness.Round(time.Minute))
	} else {
		b.WriteString("Catalog: no snapshot loaded\n")
	}
	return b.String()
}
