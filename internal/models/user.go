package models

import (
	"time"
)

// DeviceToken is a push-notification registration for one of the user's
// devices. A user may have several (phone, tablet).
type DeviceToken struct {
	Token        string    `bson:"token" json:"token"`
	Platform     string    `bson:"platform" json:"platform"` // "android", "ios"
	RegisteredAt time.Time `bson:"registered_at" json:"registered_at"`
}

// NotificationPreferences controls which events trigger a push to the user.
type NotificationPreferences struct {
	NewMessage     bool `bson:"new_message" json:"new_message"`
	ListingFavored bool `bson:"listing_favored" json:"listing_favored"`
}

// User represents a marketplace account.
type User struct {
	Base                    `bson:",inline"`
	Name                    string                   `bson:"name" json:"name"`
	Email                   string                   `bson:"email" json:"email"`
	PasswordHash            string                   `bson:"password" json:"-"` // Store hash, not plaintext
	IsAdmin                 bool                     `bson:"is_admin" json:"is_admin"`
	Suspended               bool                     `bson:"suspended" json:"suspended"`
	CreatedAt               time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time                `bson:"updated_at" json:"updated_at"`
	DeviceTokens            []DeviceToken            `bson:"device_tokens,omitempty" json:"-"`
	NotificationPreferences *NotificationPreferences `bson:"notification_preferences,omitempty" json:"notification_preferences,omitempty"`
	Deleted                 bool                     `bson:"deleted" json:"-"` // Soft delete flag
}
