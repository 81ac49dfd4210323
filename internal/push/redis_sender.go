package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSender implements the Sender interface by storing notifications in
// Redis instead of dispatching them. Used in mock mode so integration tests
// can observe what would have been pushed.
type RedisSender struct {
	client *redis.Client
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client) Sender {
	return &RedisSender{client: client}
}

// Send stores a JSON representation of the notification under a per-sender
// key with a short TTL.
func (s *RedisSender) Send(ctx context.Context, deviceTokens []string, n Notification) error {
	data := map[string]interface{}{
		"devices":         len(deviceTokens),
		"title":           n.Title,
		"body":            n.Body,
		"conversation_id": n.ConversationID,
		"message_id":      n.MessageID,
		"sender_id":       n.SenderID,
		"sent_at":         time.Now().UTC().Format(time.RFC3339Nano),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal push data: %w", err)
	}

	key := fmt.Sprintf("mockpush:%s", n.ConversationID)
	ttl := 5 * time.Minute

	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store push in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock push stored in Redis key '%s' (TTL: %v, Title: %s)", key, ttl, n.Title)
	return nil
}
