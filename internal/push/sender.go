package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"tradeyard/m1/internal/config"
)

// Notification is the payload delivered to a user's devices when something
// happens in one of their conversations.
type Notification struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
}

// Sender defines the interface for dispatching push notifications. Delivery
// is best-effort: a failed push must never block or roll back the message
// send that triggered it.
type Sender interface {
	Send(ctx context.Context, deviceTokens []string, n Notification) error
}

// FCMSender implements Sender against the FCM HTTP endpoint.
type FCMSender struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewFCMSender creates the production push sender. If no server key is
// configured it falls back to a logging sender so development setups work
// without FCM credentials.
func NewFCMSender(cfg *config.Config) Sender {
	if cfg.FcmServerKey == "" {
		log.Println("FCM server key not configured, using logging push sender.")
		return &LoggingSender{}
	}
	return &FCMSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// fcmRequest is the downstream message format of the legacy FCM HTTP API.
type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    map[string]string `json:"notification"`
	Data            Notification      `json:"data"`
}

// Send posts the notification to FCM for all given device tokens in one call.
func (s *FCMSender) Send(ctx context.Context, deviceTokens []string, n Notification) error {
	if len(deviceTokens) == 0 {
		return nil
	}

	payload := fcmRequest{
		RegistrationIDs: deviceTokens,
		Notification: map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		Data: n,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal FCM payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.FcmEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create FCM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.cfg.FcmServerKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to contact FCM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("FCM returned status %d: %s", resp.StatusCode, string(respBody))
	}

	log.Printf("Push sent to %d device(s) (conversation %s)", len(deviceTokens), n.ConversationID)
	return nil
}

// LoggingSender is a mock implementation that just logs notification details.
// Useful for development or when FCM isn't configured.
type LoggingSender struct{}

// Send logs the notification instead of dispatching it.
func (s *LoggingSender) Send(ctx context.Context, deviceTokens []string, n Notification) error {
	log.Printf("--- Push Notification (Logged) ---")
	log.Printf("Devices: %d", len(deviceTokens))
	log.Printf("Title: %s", n.Title)
	log.Printf("Body: %s", n.Body)
	log.Printf("Conversation: %s, Message: %s", n.ConversationID, n.MessageID)
	log.Printf("--- End Push ---")
	return nil
}
