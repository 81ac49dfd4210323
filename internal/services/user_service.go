package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"tradeyard/m1/internal/auth"
	"tradeyard/m1/internal/db"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/utils"
)

// ErrEmailExists is returned when an attempt is made to use an email that already exists.
var ErrEmailExists = errors.New("email already in use by another account")

// ErrInvalidCredentials is returned when authentication fails for any reason.
// Callers must not distinguish a wrong password from an unknown email.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrUserSuspended is returned when a suspended account tries to authenticate.
var ErrUserSuspended = errors.New("account is suspended")

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	RegisterDeviceToken(ctx context.Context, userID utils.SixID, token, platform string) error
	RemoveDeviceToken(ctx context.Context, userID utils.SixID, token string) error
	DeviceTokensFor(ctx context.Context, userID utils.SixID) ([]string, error)
	UpdateNotificationPreferences(ctx context.Context, userID utils.SixID, prefs models.NotificationPreferences) error
	SuspendUser(ctx context.Context, userIDToSuspend, adminUserID utils.SixID) error
	UnsuspendUser(ctx context.Context, userIDToUnsuspend utils.SixID) error
	DeleteUserAndListings(ctx context.Context, userID utils.SixID) error
}

const usersCollection = "users"

// userService implements IUserService.
type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

// Register creates a new account with a bcrypt-hashed password.
func (s *userService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	collection := s.db.Collection(usersCollection)

	email = strings.ToLower(strings.TrimSpace(email))

	// Check uniqueness among non-deleted users before inserting; the unique
	// email index is the backstop against races.
	count, err := collection.CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("error checking email uniqueness for %s: %w", email, err)
	}
	if count > 0 {
		return nil, ErrEmailExists
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var newUser *models.User

	operation := func() error {
		newUser = &models.User{
			Base:         models.NewBase(), // ID regenerated on each attempt
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			IsAdmin:      false,
			Suspended:    false,
			Deleted:      false,
			CreatedAt:    now,
			UpdatedAt:    now,
			NotificationPreferences: &models.NotificationPreferences{
				NewMessage:     true,
				ListingFavored: true,
			},
		}
		_, insertErr := collection.InsertOne(ctx, newUser)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "email_1") {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	log.Printf("Registered user %s (%s)", newUser.ID.String(), email)
	return newUser, nil
}

// Authenticate verifies email and password and returns the matching account.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if user.Suspended {
		return nil, ErrUserSuspended
	}
	return user, nil
}

// FindByEmail finds a non-deleted user by their email address.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"email": email, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// FindByID finds a non-deleted user by their ID.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"_id": userID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.String(), err)
	}
	return &user, nil
}

// RegisterDeviceToken records a push registration for one of the user's
// devices. Re-registering the same token refreshes its timestamp.
func (s *userService) RegisterDeviceToken(ctx context.Context, userID utils.SixID, token, platform string) error {
	collection := s.db.Collection(usersCollection)

	// Pull any stale copy first so the token appears at most once.
	_, err := collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"device_tokens": bson.M{"token": token}}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear existing device token for user %s: %w", userID.String(), err)
	}

	entry := models.DeviceToken{
		Token:        token,
		Platform:     platform,
		RegisteredAt: time.Now().UTC(),
	}
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{
			"$push": bson.M{"device_tokens": entry},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to register device token for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// RemoveDeviceToken drops a push registration, e.g. on logout.
func (s *userService) RemoveDeviceToken(ctx context.Context, userID utils.SixID, token string) error {
	collection := s.db.Collection(usersCollection)
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"device_tokens": bson.M{"token": token}}},
	)
	if err != nil {
		return fmt.Errorf("failed to remove device token for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeviceTokensFor returns the raw token strings registered for a user, or an
// empty slice when the user opted out of new-message pushes.
func (s *userService) DeviceTokensFor(ctx context.Context, userID utils.SixID) ([]string, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.NotificationPreferences != nil && !user.NotificationPreferences.NewMessage {
		return nil, nil
	}
	tokens := make([]string, 0, len(user.DeviceTokens))
	for _, dt := range user.DeviceTokens {
		tokens = append(tokens, dt.Token)
	}
	return tokens, nil
}

// UpdateNotificationPreferences replaces the user's notification settings.
func (s *userService) UpdateNotificationPreferences(ctx context.Context, userID utils.SixID, prefs models.NotificationPreferences) error {
	collection := s.db.Collection(usersCollection)
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{
			"notification_preferences": prefs,
			"updated_at":               time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update notification preferences for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SuspendUser marks a user as suspended. Admins cannot suspend themselves.
func (s *userService) SuspendUser(ctx context.Context, userIDToSuspend, adminUserID utils.SixID) error {
	if userIDToSuspend == adminUserID {
		return errors.New("admins cannot suspend themselves")
	}

	collection := s.db.Collection(usersCollection)
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": userIDToSuspend, "deleted": false},
		bson.M{"$set": bson.M{"suspended": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to suspend user %s: %w", userIDToSuspend.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	log.Printf("User %s suspended by admin %s", userIDToSuspend.String(), adminUserID.String())
	return nil
}

// UnsuspendUser clears the suspension flag.
func (s *userService) UnsuspendUser(ctx context.Context, userIDToUnsuspend utils.SixID) error {
	collection := s.db.Collection(usersCollection)
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": userIDToUnsuspend, "deleted": false},
		bson.M{"$set": bson.M{"suspended": false, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to unsuspend user %s: %w", userIDToUnsuspend.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteUserAndListings soft-deletes the account and all of its listings.
// Conversations are left intact so counterparts keep their history.
func (s *userService) DeleteUserAndListings(ctx context.Context, userID utils.SixID) error {
	now := time.Now().UTC()

	users := s.db.Collection(usersCollection)
	result, err := users.UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{
			"deleted":       true,
			"device_tokens": []models.DeviceToken{},
			"updated_at":    now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to soft-delete user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}

	listings := s.db.Collection(listingsCollection)
	listingResult, err := listings.UpdateMany(ctx,
		bson.M{"user_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to soft-delete listings for user %s: %w", userID.String(), err)
	}

	log.Printf("Soft-deleted user %s and %d listing(s)", userID.String(), listingResult.ModifiedCount)
	return nil
}
