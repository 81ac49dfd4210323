package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"tradeyard/m1/internal/config"
)

// ISettingsService defines the interface for runtime-tunable settings. Values
// live in Mongo and override the .env defaults; instances reload on a Redis
// Pub/Sub notification so a change takes effect everywhere without restarts.
type ISettingsService interface {
	GetAllPublic(ctx context.Context) (map[string]interface{}, error)
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetString(ctx context.Context, key string, defaultValue string) string
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	MessageEditWindow(ctx context.Context) time.Duration
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
	SetValue(ctx context.Context, key string, value interface{}, isPublic bool) error
}

const (
	settingsCollection          = "settings"
	settingsUpdateChannel       = "settings_updates"
	keyMessageEditWindow        = "MESSAGE_EDIT_WINDOW_SECONDS"
	keyMaxMessageLength         = "MAX_MESSAGE_LENGTH"
	keyMaxAttachmentsPerMessage = "MAX_ATTACHMENTS_PER_MESSAGE"
)

// settingsService implements ISettingsService.
type settingsService struct {
	db    *mongo.Database
	cfg   *config.Config // initial defaults loaded from .env
	rdb   *redis.Client
	cache map[string]interface{}
	mutex sync.RWMutex
}

// NewSettingsService creates a new SettingsService, loads the current values
// from the DB and starts the background Pub/Sub listener.
func NewSettingsService(db *mongo.Database, initialCfg *config.Config, rdb *redis.Client) ISettingsService {
	s := &settingsService{
		db:    db,
		cfg:   initialCfg,
		rdb:   rdb,
		cache: make(map[string]interface{}),
	}
	if err := s.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load initial settings from DB: %v. Using defaults from .env", err)
	}
	go func() {
		if err := s.SubscribeToChanges(context.Background()); err != nil {
			log.Printf("CRITICAL: Settings Pub/Sub listener stopped: %v", err)
		}
	}()
	return s
}

// SettingEntry represents a document in the settings collection.
type SettingEntry struct {
	Key    string      `bson:"key"`
	Value  interface{} `bson:"value"`
	Public bool        `bson:"public"`
}

// Load fetches all settings entries from DB and populates the in-memory cache.
func (s *settingsService) Load(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	collection := s.db.Collection(settingsCollection)
	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query settings collection: %w", err)
	}
	defer cursor.Close(ctx)

	newCache := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry SettingEntry
		if err := cursor.Decode(&entry); err == nil {
			newCache[entry.Key] = entry.Value
		} else {
			log.Printf("Warning: Failed to decode settings entry during load: %v", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating settings cursor: %w", err)
	}

	s.cache = newCache
	log.Printf("Loaded %d entries into settings cache from DB.", len(s.cache))
	return nil
}

// GetAllPublic retrieves all settings marked as public from the DB. Clients
// fetch these at startup so things like the edit window stay in sync with the
// server.
func (s *settingsService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	publicSettings := map[string]interface{}{}
	collection := s.db.Collection(settingsCollection)
	cursor, err := collection.Find(ctx, bson.M{"public": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query public settings from DB: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var entry SettingEntry
		if err := cursor.Decode(&entry); err == nil {
			publicSettings[entry.Key] = entry.Value
		} else {
			log.Printf("Warning: Failed to decode public settings entry: %v", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public settings cursor: %w", err)
	}

	if _, exists := publicSettings[keyMessageEditWindow]; !exists {
		publicSettings[keyMessageEditWindow] = int(s.cfg.MessageEditWindow.Seconds())
	}
	if _, exists := publicSettings[keyMaxMessageLength]; !exists {
		publicSettings[keyMaxMessageLength] = s.cfg.MaxMessageLength
	}

	return publicSettings, nil
}

// Get retrieves a specific settings value, checking cache first, then the
// .env-derived defaults.
func (s *settingsService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, exists := s.cache[key]
	s.mutex.RUnlock()

	if exists {
		return val, nil
	}

	switch key {
	case keyMessageEditWindow:
		return int(s.cfg.MessageEditWindow.Seconds()), nil
	case keyMaxMessageLength:
		return s.cfg.MaxMessageLength, nil
	case keyMaxAttachmentsPerMessage:
		return s.cfg.MaxAttachments, nil
	default:
		return nil, fmt.Errorf("settings key '%s' not found", key)
	}
}

func (s *settingsService) GetString(ctx context.Context, key string, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if strVal, ok := val.(string); ok {
		return strVal
	}
	log.Printf("Warning: Settings key '%s' is not a string, using default.", key)
	return defaultValue
}

func (s *settingsService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	// MongoDB might store numbers as float64 or int32/64
	switch v := val.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		log.Printf("Warning: Settings key '%s' is not an integer type (%T), using default.", key, val)
		return defaultValue
	}
}

func (s *settingsService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if boolVal, ok := val.(bool); ok {
		return boolVal
	}
	log.Printf("Warning: Settings key '%s' is not a boolean, using default.", key)
	return defaultValue
}

// GetDuration retrieves a settings value as time.Duration (stored as seconds).
func (s *settingsService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	switch v := val.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int32:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	default:
		log.Printf("Warning: Settings key '%s' is not a numeric type for duration (%T), using default.", key, val)
		return defaultValue
	}
}

// MessageEditWindow returns the window during which a read message stays
// editable. Unread messages are editable regardless of this value.
func (s *settingsService) MessageEditWindow(ctx context.Context) time.Duration {
	return s.GetDuration(ctx, keyMessageEditWindow, s.cfg.MessageEditWindow)
}

// SubscribeToChanges listens for update messages on Redis Pub/Sub.
func (s *settingsService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		log.Println("Redis client not configured, cannot subscribe to settings changes.")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, settingsUpdateChannel)
	defer pubsub.Close()

	// Wait for confirmation that the subscription is created.
	_, err := pubsub.Receive(ctx)
	if err != nil {
		return fmt.Errorf("failed to receive confirmation from Redis Pub/Sub subscription: %w", err)
	}

	ch := pubsub.Channel()
	log.Println("Subscribed to Redis channel for settings updates:", settingsUpdateChannel)

	for msg := range ch {
		log.Printf("Received settings update notification on channel %s: %s", msg.Channel, msg.Payload)
		// Reload everything on any notification, settings are tiny.
		if err := s.Load(context.Background()); err != nil {
			log.Printf("ERROR reloading settings from DB after notification: %v", err)
		}
	}

	log.Println("Settings Pub/Sub listener stopped.")
	return nil
}

// SetValue updates or inserts a settings value in the DB and publishes an
// update notification.
func (s *settingsService) SetValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	collection := s.db.Collection(settingsCollection)
	filter := bson.M{"key": key}
	update := bson.M{
		"$set": bson.M{
			"key":    key,
			"value":  value,
			"public": isPublic,
		},
	}
	opts := options.Update().SetUpsert(true)

	_, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert settings key '%s' in DB: %w", key, err)
	}

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, settingsUpdateChannel, key).Err(); err != nil {
			log.Printf("Warning: Failed to publish settings update notification for key '%s': %v", key, err)
		}
	}

	log.Printf("Updated settings key '%s' and published notification.", key)
	return nil
}
