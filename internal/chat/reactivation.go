package chat

import (
	"time"
)

// Decision is the outcome of evaluating one conversation for one user's list.
type Decision struct {
	// Show is true when the conversation belongs in the user's list.
	Show bool
	// ConsumeMarker is true when a pending reactivation marker was the (or a)
	// reason to show and should be cleared once the list has been surfaced.
	// Clearing happens as a separate, later write so that a concurrent
	// evaluation still in flight is not broken by early deletion; at worst the
	// marker is processed twice, and re-showing an already shown conversation
	// is harmless.
	ConsumeMarker bool
}

// ShouldShow decides whether a conversation appears in a user's list.
//
// With no deletion point the conversation always shows. With one, either of
// two independent triggers suffices: a message written strictly after the
// cutoff, or an explicit reactivation marker left by the counterpart's send.
// The marker exists because the new-message existence check can race the
// write it is looking for; the marker guarantees reactivation is never missed.
//
// Once a marker is consumed and no post-cutoff message exists, the
// conversation reverts to hidden on the next evaluation: the underlying cause
// (no visible activity) persists.
func ShouldShow(deletionPoint *time.Time, markerPresent, messageAfterCutoff bool) Decision {
	if deletionPoint == nil {
		return Decision{Show: true}
	}
	if markerPresent || messageAfterCutoff {
		return Decision{Show: true, ConsumeMarker: markerPresent}
	}
	return Decision{}
}
