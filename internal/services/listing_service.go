package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"tradeyard/m1/internal/config"
	"tradeyard/m1/internal/db"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/utils"
)

// ErrListingNotFound is returned when a listing does not exist or is not
// visible to the caller.
var ErrListingNotFound = errors.New("listing not found")

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, userID utils.SixID, title, body, category string, tags []string, askingPrice *models.AskingPrice) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, userID utils.SixID, updates map[string]interface{}) (*models.Listing, error)
	PublishListing(ctx context.Context, listingID, userID utils.SixID) error
	HideListing(ctx context.Context, listingID, userID utils.SixID) error
	UnhideListing(ctx context.Context, listingID, userID utils.SixID) error
	DeleteListing(ctx context.Context, listingID, userID utils.SixID) error
	SearchListings(ctx context.Context, query *string, category *string, tags []string, limit int, cursor *string) ([]models.Listing, string, error)
	FindListingsByUserID(ctx context.Context, userID utils.SixID) ([]models.Listing, error)
	AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// CreateListing creates a new listing in draft state.
func (s *listingService) CreateListing(ctx context.Context, userID utils.SixID, title, body, category string, tags []string, askingPrice *models.AskingPrice) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	now := time.Now().UTC()
	var newListing *models.Listing

	operation := func() error {
		newListing = &models.Listing{
			ID:          utils.NewSixID(), // ID regenerated on each attempt
			UserID:      userID,
			Title:       title,
			Body:        body,
			Category:    category,
			Tags:        tags,
			Images:      []string{},
			AskingPrice: askingPrice,
			IsDraft:     true,
			Hidden:      false,
			Deleted:     false,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, insertErr := collection.InsertOne(ctx, newListing)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert listing: %w", err)
	}

	return newListing, nil
}

// FindListingByID returns a listing by ID. Listings whose owner is deleted or
// suspended are treated as not found.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	collection := s.db.Collection(listingsCollection)

	err := collection.FindOne(ctx, bson.M{"_id": listingID, "deleted": false}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID.String(), err)
	}

	userColl := s.db.Collection(usersCollection)
	var owner models.User
	err = userColl.FindOne(ctx, bson.M{"_id": listing.UserID, "deleted": false}).Decode(&owner)
	if err != nil || owner.Suspended {
		return nil, ErrListingNotFound
	}

	return &listing, nil
}

// UpdateListing updates mutable fields of a listing owned by the user.
func (s *listingService) UpdateListing(ctx context.Context, listingID, userID utils.SixID, updates map[string]interface{}) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	// Only allowed fields may change (never ownership or lifecycle flags).
	allowedUpdates := bson.M{}
	for key, value := range updates {
		switch key {
		case "title", "body", "category", "tags", "asking_price":
			allowedUpdates[key] = value
		default:
			return nil, fmt.Errorf("field '%s' cannot be updated via UpdateListing", key)
		}
	}
	if len(allowedUpdates) == 0 {
		return nil, fmt.Errorf("no valid fields provided for update")
	}
	allowedUpdates["updated_at"] = time.Now().UTC()

	filter := bson.M{
		"_id":     listingID,
		"user_id": userID,
		"deleted": false,
	}
	update := bson.M{"$set": allowedUpdates}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedListing models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updatedListing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing not found, not owned by user, or cannot be updated")
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID.String(), err)
	}

	return &updatedListing, nil
}

// updateListingStatus is a helper to apply a status update while checking
// ownership, with a diagnostic re-query when nothing matched.
func (s *listingService) updateListingStatus(ctx context.Context, listingID, userID utils.SixID, filter, update bson.M) error {
	collection := s.db.Collection(listingsCollection)

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error updating listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		var listing models.Listing
		errCheck := collection.FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
		if errors.Is(errCheck, mongo.ErrNoDocuments) {
			return fmt.Errorf("listing %s not found", listingID.String())
		}
		if listing.UserID != userID {
			return fmt.Errorf("listing %s does not belong to user %s", listingID.String(), userID.String())
		}
		if listing.Deleted {
			return fmt.Errorf("listing %s is deleted", listingID.String())
		}
		return fmt.Errorf("listing %s cannot be updated (already in desired state or other condition not met)", listingID.String())
	}
	return nil
}

// PublishListing publishes a draft listing.
func (s *listingService) PublishListing(ctx context.Context, listingID, userID utils.SixID) error {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":      listingID,
		"user_id":  userID,
		"deleted":  false,
		"is_draft": true,
	}
	update := bson.M{"$set": bson.M{
		"is_draft":     false,
		"published_at": now,
		"updated_at":   now,
	}}
	return s.updateListingStatus(ctx, listingID, userID, filter, update)
}

// HideListing temporarily removes a published listing from search results.
func (s *listingService) HideListing(ctx context.Context, listingID, userID utils.SixID) error {
	filter := bson.M{
		"_id":      listingID,
		"user_id":  userID,
		"deleted":  false,
		"is_draft": false,
		"hidden":   false,
	}
	update := bson.M{"$set": bson.M{"hidden": true, "updated_at": time.Now().UTC()}}
	return s.updateListingStatus(ctx, listingID, userID, filter, update)
}

// UnhideListing makes a hidden listing visible again.
func (s *listingService) UnhideListing(ctx context.Context, listingID, userID utils.SixID) error {
	filter := bson.M{
		"_id":      listingID,
		"user_id":  userID,
		"deleted":  false,
		"is_draft": false,
		"hidden":   true,
	}
	update := bson.M{"$set": bson.M{"hidden": false, "updated_at": time.Now().UTC()}}
	return s.updateListingStatus(ctx, listingID, userID, filter, update)
}

// DeleteListing soft-deletes a listing. Existing conversations about it stay
// readable; only the listing itself disappears.
func (s *listingService) DeleteListing(ctx context.Context, listingID, userID utils.SixID) error {
	filter := bson.M{
		"_id":     listingID,
		"user_id": userID,
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}}
	return s.updateListingStatus(ctx, listingID, userID, filter, update)
}

// SearchListings returns published, visible listings matching the filters,
// paginated with a published_at/_id cursor (newest first).
func (s *listingService) SearchListings(ctx context.Context, query *string, category *string, tags []string, limit int, cursor *string) ([]models.Listing, string, error) {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{
		"is_draft": false,
		"hidden":   false,
		"deleted":  false,
	}

	if query != nil && *query != "" {
		filter["$text"] = bson.M{"$search": *query}
	}
	if category != nil && *category != "" {
		filter["category"] = *category
	}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$all": tags}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1))
	opts.SetSort(bson.D{{Key: "published_at", Value: -1}, {Key: "_id", Value: -1}})

	// Cursor format: "<unix seconds>_<listing id>" of the last item seen.
	if cursor != nil && *cursor != "" {
		parts := strings.Split(*cursor, "_")
		if len(parts) == 2 {
			timestampSec, tsErr := strconv.ParseInt(parts[0], 10, 64)
			lastID, idErr := utils.ParseSixID(parts[1])
			if tsErr == nil && idErr == nil {
				cursorTime := time.Unix(timestampSec, 0)
				filter["$or"] = bson.A{
					bson.M{"published_at": cursorTime, "_id": bson.M{"$lt": lastID}},
					bson.M{"published_at": bson.M{"$lt": cursorTime}},
				}
			} else {
				log.Printf("WARN: Invalid cursor format received: %s", *cursor)
			}
		} else {
			log.Printf("WARN: Invalid cursor format received: %s", *cursor)
		}
	}

	listCursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute listing search query: %w", err)
	}
	defer listCursor.Close(ctx)

	var results []models.Listing
	if err = listCursor.All(ctx, &results); err != nil {
		return nil, "", fmt.Errorf("failed to decode listing search results: %w", err)
	}

	// Drop listings whose owner is deleted or suspended.
	userColl := s.db.Collection(usersCollection)
	filtered := make([]models.Listing, 0, len(results))
	for _, l := range results {
		var owner models.User
		err := userColl.FindOne(ctx, bson.M{"_id": l.UserID, "deleted": false}).Decode(&owner)
		if err != nil || owner.Suspended {
			continue
		}
		filtered = append(filtered, l)
	}

	nextCursor := ""
	if len(filtered) > limit {
		lastItem := filtered[limit-1]
		if lastItem.PublishedAt != nil {
			nextCursor = fmt.Sprintf("%d_%s", lastItem.PublishedAt.Unix(), lastItem.ID.String())
		}
		filtered = filtered[:limit]
	}

	return filtered, nextCursor, nil
}

// FindListingsByUserID returns all non-deleted listings owned by the user,
// drafts and hidden ones included.
func (s *listingService) FindListingsByUserID(ctx context.Context, userID utils.SixID) ([]models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := collection.Find(ctx, bson.M{"user_id": userID, "deleted": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings for user %s: %w", userID.String(), err)
	}
	defer cur.Close(ctx)

	var listings []models.Listing
	if err := cur.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings for user %s: %w", userID.String(), err)
	}
	return listings, nil
}

// AddImageToListing appends a processed image key to a listing's image array.
// Called once the image processing task has finished.
func (s *listingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	collection := s.db.Collection(listingsCollection)

	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{
			"$addToSet": bson.M{"images": imageKey},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to add image to listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return ErrListingNotFound
	}
	return nil
}
