// Package chat holds the pure decision logic of the messaging subsystem:
// which messages a user may see after hiding a conversation, whether a hidden
// conversation should reappear, and how long a sent message stays editable.
//
// Nothing here touches the database or the HTTP layer. Callers feed the
// functions the latest full snapshot and re-run them on every change; they are
// cheap, deterministic and side-effect free, so recomputation is always safe.
package chat

import (
	"time"

	"tradeyard/m1/internal/models"
)

// DefaultEditWindow bounds how long an already-read message stays editable.
// Unread messages are editable indefinitely. The window is configurable via
// MESSAGE_EDIT_WINDOW_SECONDS; this is only the fallback.
const DefaultEditWindow = 2 * time.Minute

// VisibleMessages returns the messages the user may see given their deletion
// point. With no cutoff the input is returned as-is (it is already ordered by
// server timestamp ascending); with a cutoff only messages strictly after it
// survive. Messages without a server timestamp are dropped rather than
// failing the whole list: one corrupt row must not blank the conversation.
func VisibleMessages(all []models.Message, cutoff *time.Time) []models.Message {
	if cutoff == nil {
		// Still screen out malformed rows.
		if !hasMalformed(all) {
			return all
		}
		visible := make([]models.Message, 0, len(all))
		for _, m := range all {
			if !m.ServerTimestamp.IsZero() {
				visible = append(visible, m)
			}
		}
		return visible
	}

	visible := make([]models.Message, 0, len(all))
	for _, m := range all {
		if m.ServerTimestamp.IsZero() {
			continue
		}
		if m.ServerTimestamp.After(*cutoff) {
			visible = append(visible, m)
		}
	}
	return visible
}

func hasMalformed(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.ServerTimestamp.IsZero() {
			return true
		}
	}
	return false
}

// CanEdit reports whether the sender may still edit the message at time now.
// A deleted message is never editable. An unread message can always be
// corrected; once read, edits are allowed only strictly within the window
// after the message was sent (at exactly the window boundary editing closes).
func CanEdit(m models.Message, now time.Time, window time.Duration) bool {
	if m.IsDeleted {
		return false
	}
	if !m.IsRead {
		return true
	}
	return now.Sub(m.ServerTimestamp) < window
}

// NeedsDateSeparator reports whether a date header belongs above the message
// at index i of the visible sequence: at the top of the list, and whenever
// the calendar day (UTC year/month/day, not a rolling 24 hours) changes from
// the previous message.
func NeedsDateSeparator(msgs []models.Message, i int) bool {
	if i < 0 || i >= len(msgs) {
		return false
	}
	if i == 0 {
		return true
	}
	return !sameCalendarDay(msgs[i-1].ServerTimestamp, msgs[i].ServerTimestamp)
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
