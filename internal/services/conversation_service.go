package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"tradeyard/m1/internal/chat"
	"tradeyard/m1/internal/config"
	"tradeyard/m1/internal/db"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/utils"
)

var (
	// ErrConversationNotFound is returned when a conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotParticipant is returned when a user acts on a conversation they
	// are not part of.
	ErrNotParticipant = errors.New("user is not a participant of this conversation")
	// ErrNotSender is returned when a user edits or deletes someone else's message.
	ErrNotSender = errors.New("only the sender can modify a message")
	// ErrNotEditable is returned when a message is deleted or its edit window
	// has closed.
	ErrNotEditable = errors.New("message can no longer be edited")
	// ErrOwnListing is returned when a user starts a conversation about their
	// own listing.
	ErrOwnListing = errors.New("cannot message your own listing")
	// ErrEmptyMessage is returned when a message has neither text nor attachments.
	ErrEmptyMessage = errors.New("message must have text or attachments")
	// ErrMessageTooLong is returned when message text exceeds the configured limit.
	ErrMessageTooLong = errors.New("message text exceeds maximum length")
	// ErrTooManyAttachments is returned when a message carries too many attachments.
	ErrTooManyAttachments = errors.New("too many attachments")
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation models.Conversation `json:"conversation"`
	UnreadCount  int64               `json:"unread_count"`
}

// IConversationService defines the interface for conversation and message
// operations.
type IConversationService interface {
	SendMessage(ctx context.Context, senderID utils.SixID, listingID utils.SixID, conversationID *utils.SixID, content string, attachments []string) (*models.Message, *models.Conversation, error)
	EditMessage(ctx context.Context, userID, messageID utils.SixID, newContent string) (*models.Message, error)
	DeleteMessage(ctx context.Context, userID, messageID utils.SixID) (*models.Message, error)
	MarkMessagesRead(ctx context.Context, userID, conversationID utils.SixID) (int64, error)
	GetConversation(ctx context.Context, userID, conversationID utils.SixID) (*models.Conversation, error)
	GetMessages(ctx context.Context, userID, conversationID utils.SixID) ([]models.Message, error)
	ListConversations(ctx context.Context, userID utils.SixID) ([]ConversationSummary, error)
	DeleteConversationForUser(ctx context.Context, userID, conversationID utils.SixID) error
	RestoreConversationForUser(ctx context.Context, userID, conversationID utils.SixID) error
	CountUnread(ctx context.Context, userID utils.SixID) (int64, error)
}

// conversationService implements IConversationService.
type conversationService struct {
	db          *mongo.Database
	cfg         *config.Config
	settingsSvc ISettingsService
	listingSvc  IListingService
}

// NewConversationService creates a new ConversationService.
func NewConversationService(db *mongo.Database, cfg *config.Config, settingsSvc ISettingsService, listingSvc IListingService) IConversationService {
	return &conversationService{db: db, cfg: cfg, settingsSvc: settingsSvc, listingSvc: listingSvc}
}

// findConversationByID fetches a conversation and checks membership.
func (s *conversationService) findConversationByID(ctx context.Context, userID, conversationID utils.SixID) (*models.Conversation, error) {
	var conv models.Conversation
	collection := s.db.Collection(conversationsCollection)

	err := collection.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("error finding conversation %s: %w", conversationID.String(), err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return &conv, nil
}

// findOrCreateConversation resolves the thread between the sender and the
// listing owner, creating it on first contact.
func (s *conversationService) findOrCreateConversation(ctx context.Context, senderID, listingID utils.SixID) (*models.Conversation, error) {
	listing, err := s.listingSvc.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID == senderID {
		return nil, ErrOwnListing
	}

	collection := s.db.Collection(conversationsCollection)

	var conv models.Conversation
	filter := bson.M{
		"listing_id":   listingID,
		"participants": bson.M{"$all": []utils.SixID{senderID, listing.UserID}},
	}
	err = collection.FindOne(ctx, filter).Decode(&conv)
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error finding conversation for listing %s: %w", listingID.String(), err)
	}

	now := time.Now().UTC()
	var newConv *models.Conversation
	operation := func() error {
		newConv = &models.Conversation{
			ID:           utils.NewSixID(), // ID regenerated on each attempt
			Participants: []utils.SixID{senderID, listing.UserID},
			ListingID:    listingID,
			ListingTitle: listing.Title,
			LastActivity: now,
			CreatedAt:    now,
		}
		_, insertErr := collection.InsertOne(ctx, newConv)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return newConv, nil
}

// SendMessage appends a message to a conversation, starting the conversation
// on first contact about a listing. If the recipient had removed the
// conversation from their list, a reactivation marker is set so it reappears
// for them.
func (s *conversationService) SendMessage(ctx context.Context, senderID utils.SixID, listingID utils.SixID, conversationID *utils.SixID, content string, attachments []string) (*models.Message, *models.Conversation, error) {
	if content == "" && len(attachments) == 0 {
		return nil, nil, ErrEmptyMessage
	}
	maxLen := s.settingsSvc.GetInt(ctx, keyMaxMessageLength, s.cfg.MaxMessageLength)
	if len([]rune(content)) > maxLen {
		return nil, nil, ErrMessageTooLong
	}
	maxAtt := s.settingsSvc.GetInt(ctx, keyMaxAttachmentsPerMessage, s.cfg.MaxAttachments)
	if len(attachments) > maxAtt {
		return nil, nil, ErrTooManyAttachments
	}

	var conv *models.Conversation
	var err error
	if conversationID != nil {
		conv, err = s.findConversationByID(ctx, senderID, *conversationID)
	} else {
		conv, err = s.findOrCreateConversation(ctx, senderID, listingID)
	}
	if err != nil {
		return nil, nil, err
	}

	recipientID := conv.OtherParticipant(senderID)
	now := time.Now().UTC()

	messages := s.db.Collection(messagesCollection)
	var msg *models.Message
	operation := func() error {
		msg = &models.Message{
			ID:              utils.NewSixID(),
			ConversationID:  conv.ID,
			SenderID:        senderID,
			RecipientID:     recipientID,
			ServerTimestamp: now,
			Content:         content,
			Attachments:     attachments,
		}
		_, insertErr := messages.InsertOne(ctx, msg)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, nil, fmt.Errorf("failed to insert message: %w", err)
	}

	preview := content
	if preview == "" {
		preview = "Attachment"
	}
	update := bson.M{"$set": bson.M{
		"last_message":  preview,
		"last_activity": now,
	}}
	// The counterpart removed this conversation from their list; mark it so
	// the next list build surfaces it again.
	if conv.DeletionPointFor(recipientID) != nil {
		update["$set"].(bson.M)["reactivation_markers."+recipientID.String()] = now
	}

	conversations := s.db.Collection(conversationsCollection)
	if _, err := conversations.UpdateOne(ctx, bson.M{"_id": conv.ID}, update); err != nil {
		return nil, nil, fmt.Errorf("failed to update conversation %s after send: %w", conv.ID.String(), err)
	}

	conv.LastMessage = preview
	conv.LastActivity = now
	return msg, conv, nil
}

// EditMessage rewrites a message's text. Allowed to the sender while the
// message is unread, or within the edit window once read. Deleted messages
// cannot be edited.
func (s *conversationService) EditMessage(ctx context.Context, userID, messageID utils.SixID, newContent string) (*models.Message, error) {
	if newContent == "" {
		return nil, ErrEmptyMessage
	}
	maxLen := s.settingsSvc.GetInt(ctx, keyMaxMessageLength, s.cfg.MaxMessageLength)
	if len([]rune(newContent)) > maxLen {
		return nil, ErrMessageTooLong
	}

	messages := s.db.Collection(messagesCollection)

	var msg models.Message
	err := messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("error finding message %s: %w", messageID.String(), err)
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}

	now := time.Now().UTC()
	window := s.settingsSvc.MessageEditWindow(ctx)
	if !chat.CanEdit(msg, now, window) {
		return nil, ErrNotEditable
	}

	// The filter repeats the gate so a concurrent read or delete between the
	// check and the write cannot slip an edit through.
	filter := bson.M{
		"_id":        messageID,
		"sender_id":  userID,
		"is_deleted": false,
		"$or": bson.A{
			bson.M{"is_read": false},
			bson.M{"server_timestamp": bson.M{"$gt": now.Add(-window)}},
		},
	}
	update := bson.M{"$set": bson.M{
		"content":   newContent,
		"is_edited": true,
		"edited_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Message
	err = messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotEditable
		}
		return nil, fmt.Errorf("failed to edit message %s: %w", messageID.String(), err)
	}

	if err := s.refreshLastMessage(ctx, updated.ConversationID); err != nil {
		log.Printf("Warning: failed to refresh last message for conversation %s: %v", updated.ConversationID.String(), err)
	}
	return &updated, nil
}

// DeleteMessage tombstones a message. The document stays in place so ordering
// and separators are unaffected; only its content is replaced.
func (s *conversationService) DeleteMessage(ctx context.Context, userID, messageID utils.SixID) (*models.Message, error) {
	messages := s.db.Collection(messagesCollection)

	now := time.Now().UTC()
	filter := bson.M{
		"_id":        messageID,
		"sender_id":  userID,
		"is_deleted": false,
	}
	update := bson.M{"$set": bson.M{
		"is_deleted": true,
		"content":    s.cfg.MessageTombstone,
		"deleted_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var deleted models.Message
	err := messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&deleted)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to delete message %s: %w", messageID.String(), err)
		}
		// Diagnose: missing, foreign, or already deleted.
		var msg models.Message
		errCheck := messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
		if errors.Is(errCheck, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		if errCheck == nil && msg.SenderID != userID {
			return nil, ErrNotSender
		}
		return nil, ErrMessageNotFound
	}

	if err := s.refreshLastMessage(ctx, deleted.ConversationID); err != nil {
		log.Printf("Warning: failed to refresh last message for conversation %s: %v", deleted.ConversationID.String(), err)
	}
	return &deleted, nil
}

// refreshLastMessage recomputes a conversation's preview from the newest
// non-deleted message, after an edit or delete changed what that message says.
// With nothing left but tombstones the preview goes blank.
func (s *conversationService) refreshLastMessage(ctx context.Context, conversationID utils.SixID) error {
	messages := s.db.Collection(messagesCollection)

	preview := ""
	opts := options.FindOne().SetSort(bson.D{{Key: "server_timestamp", Value: -1}, {Key: "_id", Value: -1}})
	var newest models.Message
	err := messages.FindOne(ctx, bson.M{"conversation_id": conversationID, "is_deleted": false}, opts).Decode(&newest)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	if err == nil {
		preview = newest.Content
		if preview == "" && len(newest.Attachments) > 0 {
			preview = "Attachment"
		}
	}

	conversations := s.db.Collection(conversationsCollection)
	_, err = conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"last_message": preview}},
	)
	return err
}

// MarkMessagesRead flips every unread message addressed to the user in one
// update, so a partially-read conversation never persists. Returns the number
// of messages affected.
func (s *conversationService) MarkMessagesRead(ctx context.Context, userID, conversationID utils.SixID) (int64, error) {
	if _, err := s.findConversationByID(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	messages := s.db.Collection(messagesCollection)
	result, err := messages.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"recipient_id":    userID,
			"is_read":         false,
		},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read in conversation %s: %w", conversationID.String(), err)
	}
	return result.ModifiedCount, nil
}

// GetConversation returns a conversation the user participates in.
func (s *conversationService) GetConversation(ctx context.Context, userID, conversationID utils.SixID) (*models.Conversation, error) {
	return s.findConversationByID(ctx, userID, conversationID)
}

// GetMessages returns the messages of a conversation as the user sees them:
// ordered by server timestamp (document ID as tiebreak) and filtered against
// the user's deletion point, so nothing from before their removal resurfaces.
func (s *conversationService) GetMessages(ctx context.Context, userID, conversationID utils.SixID) ([]models.Message, error) {
	conv, err := s.findConversationByID(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	messages := s.db.Collection(messagesCollection)
	opts := options.Find().SetSort(bson.D{{Key: "server_timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for conversation %s: %w", conversationID.String(), err)
	}
	defer cur.Close(ctx)

	var all []models.Message
	if err := cur.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("failed to decode messages for conversation %s: %w", conversationID.String(), err)
	}

	return chat.VisibleMessages(all, conv.DeletionPointFor(userID)), nil
}

// ListConversations builds the user's conversation list. Conversations the
// user removed stay hidden until the counterpart writes again; a pending
// reactivation marker or fresh activity past the user's cutoff surfaces them.
// Markers consumed by this build are cleared afterwards in a separate write,
// so a crash mid-build never loses a reactivation.
func (s *conversationService) ListConversations(ctx context.Context, userID utils.SixID) ([]ConversationSummary, error) {
	conversations := s.db.Collection(conversationsCollection)
	messages := s.db.Collection(messagesCollection)

	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}})
	cur, err := conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations for user %s: %w", userID.String(), err)
	}
	defer cur.Close(ctx)

	var all []models.Conversation
	if err := cur.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("failed to decode conversations for user %s: %w", userID.String(), err)
	}

	summaries := make([]ConversationSummary, 0, len(all))
	var consumed []utils.SixID
	for _, conv := range all {
		cutoff := conv.DeletionPointFor(userID)
		// last_activity moves only when a message is inserted, so it stands
		// in for querying whether any message postdates the cutoff.
		activityAfterCutoff := cutoff == nil || conv.LastActivity.After(*cutoff)
		decision := chat.ShouldShow(cutoff, conv.HasReactivationMarker(userID), activityAfterCutoff)
		if decision.ConsumeMarker {
			consumed = append(consumed, conv.ID)
		}
		if !decision.Show {
			continue
		}

		// Unread counts only cover what the user can actually see.
		unreadFilter := bson.M{
			"conversation_id": conv.ID,
			"recipient_id":    userID,
			"is_read":         false,
		}
		if cutoff != nil {
			unreadFilter["server_timestamp"] = bson.M{"$gt": *cutoff}
		}
		unread, err := messages.CountDocuments(ctx, unreadFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages for conversation %s: %w", conv.ID.String(), err)
		}
		summaries = append(summaries, ConversationSummary{Conversation: conv, UnreadCount: unread})
	}

	// Clear consumed markers only after the list is fully assembled.
	if len(consumed) > 0 {
		_, err := conversations.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": consumed}},
			bson.M{"$unset": bson.M{"reactivation_markers." + userID.String(): ""}},
		)
		if err != nil {
			log.Printf("Warning: failed to clear reactivation markers for user %s: %v", userID.String(), err)
		}
	}

	return summaries, nil
}

// DeleteConversationForUser removes the conversation from the user's list
// without touching the counterpart's view. The deletion point doubles as the
// visibility cutoff for any later reactivation.
func (s *conversationService) DeleteConversationForUser(ctx context.Context, userID, conversationID utils.SixID) error {
	if _, err := s.findConversationByID(ctx, userID, conversationID); err != nil {
		return err
	}

	conversations := s.db.Collection(conversationsCollection)
	uid := userID.String()
	_, err := conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{
			"$set":   bson.M{"deletion_points." + uid: time.Now().UTC()},
			"$unset": bson.M{"reactivation_markers." + uid: ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to set deletion point for user %s on conversation %s: %w", uid, conversationID.String(), err)
	}
	return nil
}

// RestoreConversationForUser clears the user's deletion point so the full
// history becomes visible again.
func (s *conversationService) RestoreConversationForUser(ctx context.Context, userID, conversationID utils.SixID) error {
	if _, err := s.findConversationByID(ctx, userID, conversationID); err != nil {
		return err
	}

	conversations := s.db.Collection(conversationsCollection)
	uid := userID.String()
	_, err := conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$unset": bson.M{
			"deletion_points." + uid:      "",
			"reactivation_markers." + uid: "",
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear deletion point for user %s on conversation %s: %w", uid, conversationID.String(), err)
	}
	return nil
}

// CountUnread returns the user's total unread messages across all
// conversations, for the app badge. Messages behind the user's deletion point
// are excluded; the badge never promises anything the message list won't show.
func (s *conversationService) CountUnread(ctx context.Context, userID utils.SixID) (int64, error) {
	conversations := s.db.Collection(conversationsCollection)
	messages := s.db.Collection(messagesCollection)
	uid := userID.String()

	cur, err := conversations.Find(ctx, bson.M{
		"participants":           userID,
		"deletion_points." + uid: bson.M{"$exists": true},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query hidden conversations for user %s: %w", uid, err)
	}
	defer cur.Close(ctx)

	var hidden []models.Conversation
	if err := cur.All(ctx, &hidden); err != nil {
		return 0, fmt.Errorf("failed to decode hidden conversations for user %s: %w", uid, err)
	}

	filter := bson.M{
		"recipient_id": userID,
		"is_read":      false,
	}
	if len(hidden) > 0 {
		ids := make([]utils.SixID, 0, len(hidden))
		for _, conv := range hidden {
			ids = append(ids, conv.ID)
		}
		filter["conversation_id"] = bson.M{"$nin": ids}
	}
	count, err := messages.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages for user %s: %w", uid, err)
	}

	for _, conv := range hidden {
		cutoff := conv.DeletionPointFor(userID)
		if cutoff == nil {
			continue
		}
		visible, err := messages.CountDocuments(ctx, bson.M{
			"conversation_id":  conv.ID,
			"recipient_id":     userID,
			"is_read":          false,
			"server_timestamp": bson.M{"$gt": *cutoff},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count unread messages for conversation %s: %w", conv.ID.String(), err)
		}
		count += visible
	}
	return count, nil
}
