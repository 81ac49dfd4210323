package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"tradeyard/m1/internal/db"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/utils"
)

// IFavoriteService defines the interface for saved-listing operations.
type IFavoriteService interface {
	AddFavorite(ctx context.Context, userID, listingID utils.SixID) error
	RemoveFavorite(ctx context.Context, userID, listingID utils.SixID) error
	ListFavorites(ctx context.Context, userID utils.SixID) ([]models.Listing, error)
	IsFavorite(ctx context.Context, userID, listingID utils.SixID) (bool, error)
}

const favoritesCollection = "favorites"

// favoriteService implements IFavoriteService.
type favoriteService struct {
	db         *mongo.Database
	listingSvc IListingService
}

// NewFavoriteService creates a new FavoriteService.
func NewFavoriteService(db *mongo.Database, listingSvc IListingService) IFavoriteService {
	return &favoriteService{db: db, listingSvc: listingSvc}
}

// AddFavorite saves a listing for the user. Idempotent: favoring an already
// favored listing is a no-op thanks to the unique (user_id, listing_id) index.
func (s *favoriteService) AddFavorite(ctx context.Context, userID, listingID utils.SixID) error {
	// The listing must currently be visible to be favored.
	if _, err := s.listingSvc.FindListingByID(ctx, listingID); err != nil {
		return err
	}

	collection := s.db.Collection(favoritesCollection)

	count, err := collection.CountDocuments(ctx, bson.M{"user_id": userID, "listing_id": listingID})
	if err != nil {
		return fmt.Errorf("error checking existing favorite: %w", err)
	}
	if count > 0 {
		return nil
	}

	operation := func() error {
		fav := &models.Favorite{
			ID:        utils.NewSixID(),
			UserID:    userID,
			ListingID: listingID,
			CreatedAt: time.Now().UTC(),
		}
		_, insertErr := collection.InsertOne(ctx, fav)
		return insertErr
	}

	err = db.Try(operation)
	if err != nil {
		// A duplicate on the compound index means a concurrent add won; fine.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unsaves a listing. Removing a non-existent favorite is a no-op.
func (s *favoriteService) RemoveFavorite(ctx context.Context, userID, listingID utils.SixID) error {
	collection := s.db.Collection(favoritesCollection)
	_, err := collection.DeleteOne(ctx, bson.M{"user_id": userID, "listing_id": listingID})
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

// ListFavorites returns the user's saved listings, newest first. Favorites
// pointing at listings that have since been deleted or hidden are skipped,
// not errors.
func (s *favoriteService) ListFavorites(ctx context.Context, userID utils.SixID) ([]models.Listing, error) {
	collection := s.db.Collection(favoritesCollection)

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites for user %s: %w", userID.String(), err)
	}
	defer cur.Close(ctx)

	var favorites []models.Favorite
	if err := cur.All(ctx, &favorites); err != nil {
		return nil, fmt.Errorf("failed to decode favorites for user %s: %w", userID.String(), err)
	}

	listings := make([]models.Listing, 0, len(favorites))
	for _, fav := range favorites {
		listing, err := s.listingSvc.FindListingByID(ctx, fav.ListingID)
		if err != nil {
			if errors.Is(err, ErrListingNotFound) {
				continue // dangling reference, skip
			}
			return nil, err
		}
		if listing.Hidden || listing.IsDraft {
			continue
		}
		listings = append(listings, *listing)
	}
	return listings, nil
}

// IsFavorite reports whether the user has saved the listing.
func (s *favoriteService) IsFavorite(ctx context.Context, userID, listingID utils.SixID) (bool, error) {
	collection := s.db.Collection(favoritesCollection)
	count, err := collection.CountDocuments(ctx, bson.M{"user_id": userID, "listing_id": listingID})
	if err != nil {
		return false, fmt.Errorf("error checking favorite: %w", err)
	}
	return count > 0, nil
}
