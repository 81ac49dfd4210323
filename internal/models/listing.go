package models

import (
	"time"

	"tradeyard/m1/internal/utils"
)

// AskingPrice defines the structure for monetary values.
type AskingPrice struct {
	Value        float64 `bson:"value" json:"value"`
	CurrencyCode string  `bson:"currency_code" json:"currency_code"`
}

// Listing represents a classified listing (a vehicle or other goods).
type Listing struct {
	ID          utils.SixID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID      utils.SixID  `bson:"user_id" json:"user_id"`
	Title       string       `bson:"title" json:"title"`
	Body        string       `bson:"body" json:"body"`
	Category    string       `bson:"category" json:"category"` // e.g. "vehicles", "electronics"
	Tags        []string     `bson:"tags" json:"tags"`
	Images      []string     `bson:"images" json:"images"` // S3 keys
	AskingPrice *AskingPrice `bson:"asking_price,omitempty" json:"asking_price,omitempty"`
	IsDraft     bool         `bson:"is_draft" json:"is_draft"`
	Hidden      bool         `bson:"hidden" json:"hidden"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
	PublishedAt *time.Time   `bson:"published_at,omitempty" json:"published_at,omitempty"`
	Deleted     bool         `bson:"deleted" json:"-"` // Soft delete flag
}

// Favorite marks a listing saved by a user. One document per (user, listing).
type Favorite struct {
	ID        utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	ListingID utils.SixID `bson:"listing_id" json:"listing_id"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}
