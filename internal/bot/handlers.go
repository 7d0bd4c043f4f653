package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"antwatch/internal/catalog"
	"antwatch/internal/model"
	"antwatch/internal/notify"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to AntWatch!

Get notified when an ant species you are looking for comes in stock.

Quick start:
1. /watch Messor barbarus de,ch — watch an exact species
2. /watch Messor de -x barbarus — watch a whole genus, with exclusions
3. /list — show your watches

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Watch management:
/watch <species|genus> <regions> [-x a,b] [force] — add a watch
   regions: comma-separated country codes, "eu", or "ch-delivery"
   -x: species to exclude from a genus watch
   force: register even if the term was never listed
/list — show active watches
/history — all notifications grouped by status
/delete <ids> — delete notifications (comma-separated IDs)

Vendors:
/blacklist <vendor_id> — hide a vendor from your matches
/unblacklist <vendor_id> — undo

Delivery:
/test — check that I can send you direct messages
/reset — after fixing your DM settings, reactivate failed watches

Admin:
/stats — notification statistics
/system — bot and catalog status`)
}

func (b *Bot) handleWatch(ctx context.Context, chatID, userID int64, args string) {
	req, err := ParseWatchArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if catalog.Normalize(req.Term) == "" {
		b.reply(chatID, "Empty search term.")
		return
	}

	snap := b.catalog.Current()
	if snap == nil {
		b.reply(chatID, "The catalog is not loaded yet, please try again in a few minutes.")
		return
	}

	if !req.CHMode {
		countries := make(map[string]struct{})
		for _, c := range snap.Countries() {
			countries[c] = struct{}{}
		}
		var valid []string
		for _, r := range req.Regions {
			if r == "eu" {
				valid = append(valid, r)
				continue
			}
			if _, ok := countries[r]; ok {
				valid = append(valid, r)
			}
		}
		if len(valid) == 0 {
			b.reply(chatID, fmt.Sprintf(
				"No valid regions given. Available regions: %s (ISO 3166 alpha-2, plus \"eu\").",
				strings.Join(snap.Countries(), ", ")))
			return
		}
		req.Regions = valid
	}

	known := snap.TermKnown(req.Term)
	if !known && !req.Force {
		b.reply(chatID, fmt.Sprintf(
			"%q has never been listed. Check the spelling, or append \"force\" to watch it anyway.", req.Term))
		return
	}

	// A group chat the watch was created in becomes a fallback channel.
	if chatID != userID {
		if err := b.store.RememberUserChannel(ctx, userID, chatID); err != nil {
			b.log.Error("remember user channel", "user_id", userID, "chat_id", chatID, "error", err)
		}
	}

	n := &model.Notification{
		UserID:       userID,
		Term:         req.Term,
		Regions:      req.Regions,
		CHMode:       req.CHMode,
		Excluded:     req.Excluded,
		OriginChatID: chatID,
	}
	if err := b.store.UpsertNotification(ctx, n); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save watch: %v", err))
		return
	}

	where := regionsLabel(n)
	switch {
	case !known:
		b.reply(chatID, fmt.Sprintf(
			"#%d: %q was never listed, but the watch is registered anyway (force).", n.ID, req.Term))
	default:
		b.reply(chatID, fmt.Sprintf("#%d: watching %q in %s.", n.ID, req.Term, where))
	}

	b.checker.CheckOne(ctx, *n)
}

func (b *Bot) handleList(ctx context.Context, chatID, userID int64) {
	notifs, err := b.store.ListNotificationsByUser(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatWatchList(notifs))
}

func (b *Bot) handleHistory(ctx context.Context, chatID, userID int64) {
	notifs, err := b.store.ListNotificationsByUser(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatHistory(notifs))
}

func (b *Bot) handleDelete(ctx context.Context, chatID, userID int64, args string) {
	ids, err := ParseIDList(args)
	if err != nil {
		b.reply(chatID, "Usage: /delete <id,id,...>")
		return
	}

	deleted, err := b.store.DeleteNotifications(ctx, userID, ids)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting: %v", err))
		return
	}
	if len(deleted) == 0 {
		b.reply(chatID, "None of those notifications belong to you.")
		return
	}

	parts := make([]string, len(deleted))
	for i, id := range deleted {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	b.reply(chatID, fmt.Sprintf("Deleted %s.", strings.Join(parts, ", ")))
}

func (b *Bot) handleBlacklist(ctx context.Context, chatID, userID int64, args string) {
	vendorID, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /blacklist <vendor_id>")
		return
	}

	name := fmt.Sprintf("vendor %d", vendorID)
	if snap := b.catalog.Current(); snap != nil {
		if v, ok := snap.Vendor(vendorID); ok {
			name = v.Name
		}
	}

	if err := b.store.AddBlacklist(ctx, userID, vendorID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("%s is now hidden from your matches.", name))
}

func (b *Bot) handleUnblacklist(ctx context.Context, chatID, userID int64, args string) {
	vendorID, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /unblacklist <vendor_id>")
		return
	}
	if err := b.store.RemoveBlacklist(ctx, userID, vendorID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Vendor %d is no longer blacklisted.", vendorID))
}

func (b *Bot) handleTest(ctx context.Context, chatID, userID int64) {
	err := b.sender.SendDM(ctx, userID, "Test message successful!")
	switch {
	case err == nil:
		if chatID != userID {
			b.reply(chatID, "Test message sent, check your direct messages.")
		}
	case errors.Is(err, notify.ErrForbidden):
		b.reply(chatID, "I cannot send you direct messages. Open a chat with me and try again.")
	default:
		b.reply(chatID, fmt.Sprintf("Test failed: %v", err))
	}
}

// handleReset is the only recovery path out of the failed state: a test
// DM must succeed, then all failed watches go back to active and the
// fallback channels are unblocked.
func (b *Bot) handleReset(ctx context.Context, chatID, userID int64) {
	if err := b.sender.SendDM(ctx, userID, "Direct messages are working again."); err != nil {
		b.reply(chatID, "I still cannot send you direct messages. Fix your privacy settings and try again.")
		return
	}

	count, err := b.store.ReactivateFailed(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if err := b.store.UnblockFallback(ctx, userID); err != nil {
		b.log.Error("unblock fallback", "user_id", userID, "error", err)
	}

	if count == 0 {
		b.reply(chatID, "Nothing to reset, you had no failed watches.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Reactivated %d failed watch(es).", count))
}

func (b *Bot) handleStats(ctx context.Context, chatID, userID int64) {
	if !b.cfg.IsAdmin(userID) {
		b.reply(chatID, "Admins only.")
		return
	}
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(stats))
}

func (b *Bot) handleSystem(ctx context.Context, chatID, userID int64) {
	if !b.cfg.IsAdmin(userID) {
		b.reply(chatID, "Admins only.")
		return
	}

	integrity, err := b.store.IntegrityCheck(ctx)
	if err != nil {
		integrity = fmt.Sprintf("error: %v", err)
	}

	var vendors, listings int
	if snap := b.catalog.Current(); snap != nil {
		vendors = snap.VendorCount()
		listings = snap.ListingCount()
	}
	staleness, haveSnapshot := b.catalog.Staleness(time.Now())

	b.reply(chatID, FormatSystem(time.Since(b.startedAt), integrity, vendors, listings, staleness, haveSnapshot))
}
