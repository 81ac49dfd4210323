package models

import (
	"time"

	"tradeyard/m1/internal/utils"
)

// Conversation is a message thread between exactly two users about one
// listing. The listing may be deleted later, leaving ListingID dangling;
// readers must tolerate that.
//
// DeletionPoints and ReactivationMarkers are keyed by the SixID string of a
// participant. A user appears in DeletionPoints only while their view of the
// conversation is suppressed; a marker for a user means their hidden
// conversation must reappear and is removed once that has been surfaced.
type Conversation struct {
	ID                  utils.SixID          `bson:"_id,omitempty" json:"id,omitempty"`
	Participants        []utils.SixID        `bson:"participants" json:"participants"` // exactly 2
	ListingID           utils.SixID          `bson:"listing_id" json:"listing_id"`
	ListingTitle        string               `bson:"listing_title" json:"listing_title"` // denormalized
	LastMessage         string               `bson:"last_message" json:"last_message"`   // newest non-deleted text
	LastActivity        time.Time            `bson:"last_activity" json:"last_activity"`
	DeletionPoints      map[string]time.Time `bson:"deletion_points,omitempty" json:"-"`
	ReactivationMarkers map[string]time.Time `bson:"reactivation_markers,omitempty" json:"-"`
	CreatedAt           time.Time            `bson:"created_at" json:"created_at"`
}

// HasParticipant reports whether the given user belongs to the conversation.
func (c *Conversation) HasParticipant(userID utils.SixID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterpart of the given user, or the zero ID
// if the user is not a participant.
func (c *Conversation) OtherParticipant(userID utils.SixID) utils.SixID {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return utils.SixID{}
}

// DeletionPointFor returns the user's deletion point, or nil if their view is
// not suppressed.
func (c *Conversation) DeletionPointFor(userID utils.SixID) *time.Time {
	if c.DeletionPoints == nil {
		return nil
	}
	if t, ok := c.DeletionPoints[userID.String()]; ok {
		return &t
	}
	return nil
}

// HasReactivationMarker reports whether a reactivation marker is pending for
// the user.
func (c *Conversation) HasReactivationMarker(userID utils.SixID) bool {
	if c.ReactivationMarkers == nil {
		return false
	}
	_, ok := c.ReactivationMarkers[userID.String()]
	return ok
}
