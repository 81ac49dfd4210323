package models

import (
	"time"

	"tradeyard/m1/internal/utils"
)

// Message is one entry in a conversation's append-only log.
//
// ServerTimestamp is assigned at write time and never mutated afterwards; it
// totally orders messages within a conversation, with the document ID as a
// stable tiebreak. IsRead, IsEdited and IsDeleted only ever flip false→true.
// Deleted messages are kept as tombstones; their content is replaced.
type Message struct {
	ID              utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
	ConversationID  utils.SixID `bson:"conversation_id" json:"conversation_id"`
	SenderID        utils.SixID `bson:"sender_id" json:"sender_id"`
	RecipientID     utils.SixID `bson:"recipient_id" json:"recipient_id"`
	ServerTimestamp time.Time   `bson:"server_timestamp" json:"server_timestamp"`
	Content         string      `bson:"content" json:"content"` // "" when attachments only
	Attachments     []string    `bson:"attachments,omitempty" json:"attachments,omitempty"`
	IsRead          bool        `bson:"is_read" json:"is_read"`
	IsEdited        bool        `bson:"is_edited" json:"is_edited"`
	IsDeleted       bool        `bson:"is_deleted" json:"is_deleted"`
	EditedAt        *time.Time  `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	DeletedAt       *time.Time  `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}
