package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"tradeyard/m1/internal/api/handlers"
	"tradeyard/m1/internal/api/middleware"
	"tradeyard/m1/internal/config"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/services"
	"tradeyard/m1/internal/storage"
	"tradeyard/m1/internal/utils"
	"tradeyard/m1/internal/ws"
)

type chatHandlerFixture struct {
	handler     *handlers.ChatHandler
	convService *MockConversationService
	userService *MockUserService
	settingsSvc *MockSettingsService
	storage     *MockS3Storage
	taskClient  *MockAsynqClient
	hub         *ws.Hub
}

func newChatHandlerFixture(t *testing.T) *chatHandlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &chatHandlerFixture{
		convService: new(MockConversationService),
		userService: new(MockUserService),
		settingsSvc: new(MockSettingsService),
		storage:     new(MockS3Storage),
		taskClient:  new(MockAsynqClient),
		hub:         ws.NewHub(),
	}
	go f.hub.Run()
	t.Cleanup(f.hub.Shutdown)

	cfg := &config.Config{JwtSecret: "test-secret"}
	f.handler = handlers.NewChatHandler(cfg, f.convService, f.userService, f.settingsSvc, f.storage, f.taskClient, f.hub)
	return f
}

// newChatRouter stands in for the JWT middleware by injecting the caller's
// identity directly into the context.
func (f *chatHandlerFixture) newChatRouter(userID utils.SixID) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID.String())
		c.Next()
	})
	router.GET("/v1/conversations", f.handler.ListConversations)
	router.GET("/v1/conversations/:id/messages", f.handler.GetMessages)
	router.POST("/v1/conversations/:id/read", f.handler.MarkRead)
	router.DELETE("/v1/conversations/:id", f.handler.DeleteConversation)
	router.POST("/v1/conversations/:id/restore", f.handler.RestoreConversation)
	router.POST("/v1/messages", f.handler.SendMessage)
	router.PUT("/v1/messages/:id", f.handler.EditMessage)
	router.DELETE("/v1/messages/:id", f.handler.DeleteMessage)
	router.GET("/v1/me/unread", f.handler.UnreadCount)
	router.POST("/v1/attachments", f.handler.RequestAttachmentUpload)
	return router
}

func sampleConversation(buyerID, sellerID utils.SixID) *models.Conversation {
	return &models.Conversation{
		ID:           utils.NewSixID(),
		Participants: []utils.SixID{buyerID, sellerID},
		ListingID:    utils.NewSixID(),
		ListingTitle: "Old bicycle",
		LastMessage:  "Is this still available?",
		LastActivity: time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
}

func TestSendMessageStartsConversation(t *testing.T) {
	f := newChatHandlerFixture(t)
	buyerID := utils.NewSixID()
	sellerID := utils.NewSixID()
	listingID := utils.NewSixID()

	conv := sampleConversation(buyerID, sellerID)
	msg := &models.Message{
		ID:              utils.NewSixID(),
		ConversationID:  conv.ID,
		SenderID:        buyerID,
		RecipientID:     sellerID,
		ServerTimestamp: time.Now().UTC(),
		Content:         "Is this still available?",
	}

	f.convService.On("SendMessage", mock.Anything, buyerID, listingID, (*utils.SixID)(nil), "Is this still available?", []string(nil)).
		Return(msg, conv, nil)
	f.userService.On("FindByID", mock.Anything, buyerID).
		Return(&models.User{Name: "Bob Buyer"}, nil)
	f.taskClient.On("EnqueueContext", mock.Anything, mock.Anything).Return(nil, nil)

	body, _ := json.Marshal(gin.H{"listing_id": listingID.String(), "content": "Is this still available?"})
	req, _ := http.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(buyerID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	var resp map[string]json.RawMessage
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Contains(t, resp, "message")
	assert.Contains(t, resp, "conversation")
	f.convService.AssertExpectations(t)
	f.taskClient.AssertExpectations(t)
}

func TestSendMessageRejectsAmbiguousTarget(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	router := f.newChatRouter(userID)

	cases := []gin.H{
		{"content": "hello"}, // neither
		{"content": "hello", "listing_id": utils.NewSixID().String(), "conversation_id": utils.NewSixID().String()}, // both
	}
	for i, payload := range cases {
		body, _ := json.Marshal(payload)
		req, _ := http.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBuffer(body))
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "case %d", i)
	}
	f.convService.AssertNotCalled(t, "SendMessage")
}

func TestSendMessageToOwnListing(t *testing.T) {
	f := newChatHandlerFixture(t)
	sellerID := utils.NewSixID()
	listingID := utils.NewSixID()

	f.convService.On("SendMessage", mock.Anything, sellerID, listingID, (*utils.SixID)(nil), "hi me", []string(nil)).
		Return(nil, nil, services.ErrOwnListing)

	body, _ := json.Marshal(gin.H{"listing_id": listingID.String(), "content": "hi me"})
	req, _ := http.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(sellerID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSendMessageRejectsMissingAttachment(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	convID := utils.NewSixID()

	f.storage.On("VerifyObject", mock.Anything, "attachments/x/missing.jpg").
		Return(fmt.Errorf("checking object %s: %w", "attachments/x/missing.jpg", storage.ErrObjectNotFound))

	body, _ := json.Marshal(gin.H{
		"conversation_id": convID.String(),
		"content":         "",
		"attachments":     []string{"attachments/x/missing.jpg"},
	})
	req, _ := http.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	f.convService.AssertNotCalled(t, "SendMessage")
}

func TestEditMessageConflict(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	messageID := utils.NewSixID()

	f.convService.On("EditMessage", mock.Anything, userID, messageID, "too late").
		Return(nil, services.ErrNotEditable)

	body, _ := json.Marshal(gin.H{"content": "too late"})
	req, _ := http.NewRequest(http.MethodPut, "/v1/messages/"+messageID.String(), bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestEditMessageForbiddenForNonSender(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	messageID := utils.NewSixID()

	f.convService.On("EditMessage", mock.Anything, userID, messageID, "not mine").
		Return(nil, services.ErrNotSender)

	body, _ := json.Marshal(gin.H{"content": "not mine"})
	req, _ := http.NewRequest(http.MethodPut, "/v1/messages/"+messageID.String(), bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestDeleteMessageReturnsTombstone(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	otherID := utils.NewSixID()
	messageID := utils.NewSixID()
	now := time.Now().UTC()

	tombstone := &models.Message{
		ID:              messageID,
		ConversationID:  utils.NewSixID(),
		SenderID:        userID,
		RecipientID:     otherID,
		ServerTimestamp: now.Add(-time.Minute),
		Content:         "Message deleted",
		IsDeleted:       true,
		DeletedAt:       &now,
	}
	f.convService.On("DeleteMessage", mock.Anything, userID, messageID).Return(tombstone, nil)

	req, _ := http.NewRequest(http.MethodDelete, "/v1/messages/"+messageID.String(), nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp models.Message
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.True(t, resp.IsDeleted)
	assert.Equal(t, "Message deleted", resp.Content)
}

func TestListConversations(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	otherID := utils.NewSixID()

	summaries := []services.ConversationSummary{
		{Conversation: *sampleConversation(userID, otherID), UnreadCount: 3},
	}
	f.convService.On("ListConversations", mock.Anything, userID).Return(summaries, nil)

	req, _ := http.NewRequest(http.MethodGet, "/v1/conversations", nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp struct {
		Data []services.ConversationSummary `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, int64(3), resp.Data[0].UnreadCount)
}

func TestGetMessagesIncludesEditWindow(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	convID := utils.NewSixID()

	f.convService.On("GetMessages", mock.Anything, userID, convID).Return([]models.Message{}, nil)
	f.settingsSvc.On("MessageEditWindow", mock.Anything).Return(90 * time.Second)

	req, _ := http.NewRequest(http.MethodGet, "/v1/conversations/"+convID.String()+"/messages", nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp struct {
		EditWindowSeconds int `json:"edit_window_seconds"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, 90, resp.EditWindowSeconds)
}

func TestGetMessagesForbiddenForOutsider(t *testing.T) {
	f := newChatHandlerFixture(t)
	outsiderID := utils.NewSixID()
	convID := utils.NewSixID()

	f.convService.On("GetMessages", mock.Anything, outsiderID, convID).
		Return(nil, services.ErrNotParticipant)

	req, _ := http.NewRequest(http.MethodGet, "/v1/conversations/"+convID.String()+"/messages", nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(outsiderID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestMarkReadNotifiesCounterpart(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	otherID := utils.NewSixID()
	conv := sampleConversation(userID, otherID)

	f.convService.On("MarkMessagesRead", mock.Anything, userID, conv.ID).Return(int64(2), nil)
	f.convService.On("GetConversation", mock.Anything, userID, conv.ID).Return(conv, nil)

	req, _ := http.NewRequest(http.MethodPost, "/v1/conversations/"+conv.ID.String()+"/read", nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp struct {
		MarkedRead int64 `json:"marked_read"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.MarkedRead)
	f.convService.AssertExpectations(t)
}

func TestMarkReadSkipsNotifyWhenNothingChanged(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	convID := utils.NewSixID()

	f.convService.On("MarkMessagesRead", mock.Anything, userID, convID).Return(int64(0), nil)

	req, _ := http.NewRequest(http.MethodPost, "/v1/conversations/"+convID.String()+"/read", nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	f.convService.AssertNotCalled(t, "GetConversation")
}

func TestDeleteAndRestoreConversation(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	convID := utils.NewSixID()

	f.convService.On("DeleteConversationForUser", mock.Anything, userID, convID).Return(nil)
	f.convService.On("RestoreConversationForUser", mock.Anything, userID, convID).Return(nil)
	router := f.newChatRouter(userID)

	req, _ := http.NewRequest(http.MethodDelete, "/v1/conversations/"+convID.String(), nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)

	req, _ = http.NewRequest(http.MethodPost, "/v1/conversations/"+convID.String()+"/restore", nil)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	f.convService.AssertExpectations(t)
}

func TestDeleteConversationNotFound(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	convID := utils.NewSixID()

	f.convService.On("DeleteConversationForUser", mock.Anything, userID, convID).
		Return(services.ErrConversationNotFound)

	req, _ := http.NewRequest(http.MethodDelete, "/v1/conversations/"+convID.String(), nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestUnreadCount(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()

	f.convService.On("CountUnread", mock.Anything, userID).Return(int64(7), nil)

	req, _ := http.NewRequest(http.MethodGet, "/v1/me/unread", nil)
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp struct {
		Unread int64 `json:"unread"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Unread)
}

func TestRequestAttachmentUploadChecksMembership(t *testing.T) {
	f := newChatHandlerFixture(t)
	outsiderID := utils.NewSixID()
	convID := utils.NewSixID()

	f.convService.On("GetConversation", mock.Anything, outsiderID, convID).
		Return(nil, services.ErrNotParticipant)

	body, _ := json.Marshal(gin.H{
		"conversation_id": convID.String(),
		"filename":        "photo.jpg",
		"content_type":    "image/jpeg",
	})
	req, _ := http.NewRequest(http.MethodPost, "/v1/attachments", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(outsiderID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
	f.storage.AssertNotCalled(t, "GeneratePresignedPutURL")
}

func TestRequestAttachmentUpload(t *testing.T) {
	f := newChatHandlerFixture(t)
	userID := utils.NewSixID()
	otherID := utils.NewSixID()
	conv := sampleConversation(userID, otherID)

	f.convService.On("GetConversation", mock.Anything, userID, conv.ID).Return(conv, nil)
	f.storage.On("GeneratePresignedPutURL", mock.Anything, userID.String(), "attachments/"+conv.ID.String(), "photo.jpg", "image/jpeg").
		Return("https://s3.example.com/signed", "attachments/"+conv.ID.String()+"/abc_photo.jpg", nil)

	body, _ := json.Marshal(gin.H{
		"conversation_id": conv.ID.String(),
		"filename":        "photo.jpg",
		"content_type":    "image/jpeg",
	})
	req, _ := http.NewRequest(http.MethodPost, "/v1/attachments", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newChatRouter(userID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp struct {
		UploadURL string `json:"upload_url"`
		ObjectKey string `json:"object_key"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UploadURL)
	assert.NotEmpty(t, resp.ObjectKey)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	f := newChatHandlerFixture(t)
	gin.SetMode(gin.TestMode)

	// No identity middleware at all.
	router := gin.New()
	router.GET("/v1/conversations", f.handler.ListConversations)

	req, _ := http.NewRequest(http.MethodGet, "/v1/conversations", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
