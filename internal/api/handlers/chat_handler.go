package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"tradeyard/m1/internal/auth"
	"tradeyard/m1/internal/config"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/services"
	"tradeyard/m1/internal/storage"
	"tradeyard/m1/internal/tasks"
	"tradeyard/m1/internal/utils"
	"tradeyard/m1/internal/ws"
)

// ChatHandler handles conversations, messages and the realtime socket.
type ChatHandler struct {
	cfg            *config.Config
	convService    services.IConversationService
	userService    services.IUserService
	settingsSvc    services.ISettingsService
	storageService storage.IS3Storage
	taskClient     IAsynqClient
	hub            *ws.Hub
	upgrader       websocket.Upgrader
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(
	cfg *config.Config,
	convService services.IConversationService,
	userService services.IUserService,
	settingsSvc services.ISettingsService,
	storageService storage.IS3Storage,
	taskClient IAsynqClient,
	hub *ws.Hub,
) *ChatHandler {
	return &ChatHandler{
		cfg:            cfg,
		convService:    convService,
		userService:    userService,
		settingsSvc:    settingsSvc,
		storageService: storageService,
		taskClient:     taskClient,
		hub:            hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are already constrained by CORS on the REST surface;
			// the socket carries no data, only notifications.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// mapChatError translates service errors to HTTP responses.
func mapChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotEditable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrOwnListing),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrTooManyAttachments):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// ListConversations handles GET /v1/conversations
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	summaries, err := h.convService.ListConversations(c.Request.Context(), userID)
	if err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

// GetMessages handles GET /v1/conversations/:id/messages
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
		return
	}

	messages, err := h.convService.GetMessages(c.Request.Context(), userID, conversationID)
	if err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":                messages,
		"edit_window_seconds": int(h.settingsSvc.MessageEditWindow(c.Request.Context()).Seconds()),
	})
}

type sendMessageRequest struct {
	ConversationID *string  `json:"conversation_id"`
	ListingID      *string  `json:"listing_id"`
	Content        string   `json:"content"`
	Attachments    []string `json:"attachments"`
}

// SendMessage handles POST /v1/messages. Exactly one of conversation_id and
// listing_id must be set; listing_id starts a conversation on first contact.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if (req.ConversationID == nil) == (req.ListingID == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Exactly one of conversation_id and listing_id is required"})
		return
	}

	var conversationID *utils.SixID
	var listingID utils.SixID
	var err error
	if req.ConversationID != nil {
		id, parseErr := utils.ParseSixID(*req.ConversationID)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
			return
		}
		conversationID = &id
	} else {
		listingID, err = utils.ParseSixID(*req.ListingID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
			return
		}
	}

	// Attachment keys must reference objects that actually landed in S3.
	ctx := c.Request.Context()
	for _, key := range req.Attachments {
		if err := h.storageService.VerifyObject(ctx, key); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Attachment not found: " + key})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify attachment"})
			return
		}
	}

	msg, conv, err := h.convService.SendMessage(ctx, userID, listingID, conversationID, req.Content, req.Attachments)
	if err != nil {
		mapChatError(c, err)
		return
	}

	h.afterSend(c, msg, conv)

	c.JSON(http.StatusCreated, gin.H{"message": msg, "conversation": conv})
}

// afterSend fans out the side effects of a successful send: socket events for
// both participants, a push task for the recipient and processing tasks for
// attachments. All best-effort; the message is already stored.
func (h *ChatHandler) afterSend(c *gin.Context, msg *models.Message, conv *models.Conversation) {
	ctx := c.Request.Context()

	h.hub.Notify(ws.Event{
		Type:           ws.EventMessageNew,
		ConversationID: conv.ID.String(),
		MessageID:      msg.ID.String(),
		SenderID:       msg.SenderID.String(),
	}, msg.SenderID.String(), msg.RecipientID.String())

	senderName := "New message"
	if sender, err := h.userService.FindByID(ctx, msg.SenderID); err == nil {
		senderName = sender.Name
	}
	preview := msg.Content
	if preview == "" {
		preview = "Attachment"
	}
	payload, err := json.Marshal(tasks.PushTaskPayload{
		RecipientID:    msg.RecipientID.String(),
		SenderID:       msg.SenderID.String(),
		SenderName:     senderName,
		ConversationID: conv.ID.String(),
		MessageID:      msg.ID.String(),
		Preview:        preview,
	})
	if err == nil {
		task := asynq.NewTask(tasks.TypePushNotify, payload, asynq.Queue("default"))
		if _, enqueueErr := h.taskClient.EnqueueContext(ctx, task); enqueueErr != nil {
			log.Printf("Failed to enqueue push task for message %s: %v", msg.ID.String(), enqueueErr)
		}
	}

	for _, key := range msg.Attachments {
		attPayload, err := json.Marshal(tasks.AttachmentTaskPayload{S3Key: key, ConversationID: conv.ID.String()})
		if err != nil {
			continue
		}
		task := asynq.NewTask(tasks.TypeAttachmentProcess, attPayload, asynq.Queue("images"))
		if _, enqueueErr := h.taskClient.EnqueueContext(ctx, task); enqueueErr != nil {
			log.Printf("Failed to enqueue attachment task for key %s: %v", key, enqueueErr)
		}
	}
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage handles PUT /v1/messages/:id
func (h *ChatHandler) EditMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID format"})
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	msg, err := h.convService.EditMessage(c.Request.Context(), userID, messageID, req.Content)
	if err != nil {
		mapChatError(c, err)
		return
	}

	h.hub.Notify(ws.Event{
		Type:           ws.EventMessageEdited,
		ConversationID: msg.ConversationID.String(),
		MessageID:      msg.ID.String(),
		SenderID:       msg.SenderID.String(),
	}, msg.SenderID.String(), msg.RecipientID.String())

	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /v1/messages/:id
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID format"})
		return
	}

	msg, err := h.convService.DeleteMessage(c.Request.Context(), userID, messageID)
	if err != nil {
		mapChatError(c, err)
		return
	}

	h.hub.Notify(ws.Event{
		Type:           ws.EventMessageDeleted,
		ConversationID: msg.ConversationID.String(),
		MessageID:      msg.ID.String(),
		SenderID:       msg.SenderID.String(),
	}, msg.SenderID.String(), msg.RecipientID.String())

	c.JSON(http.StatusOK, msg)
}

// MarkRead handles POST /v1/conversations/:id/read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
		return
	}

	ctx := c.Request.Context()
	modified, err := h.convService.MarkMessagesRead(ctx, userID, conversationID)
	if err != nil {
		mapChatError(c, err)
		return
	}

	// Tell the counterpart their messages were read.
	if modified > 0 {
		if conv, convErr := h.convService.GetConversation(ctx, userID, conversationID); convErr == nil {
			other := conv.OtherParticipant(userID)
			h.hub.Notify(ws.Event{
				Type:           ws.EventMessagesRead,
				ConversationID: conversationID.String(),
				SenderID:       userID.String(),
			}, other.String())
		}
	}

	c.JSON(http.StatusOK, gin.H{"marked_read": modified})
}

// DeleteConversation handles DELETE /v1/conversations/:id. Removal is
// per-user: the counterpart's view is untouched.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
		return
	}

	if err := h.convService.DeleteConversationForUser(c.Request.Context(), userID, conversationID); err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RestoreConversation handles POST /v1/conversations/:id/restore
func (h *ChatHandler) RestoreConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
		return
	}

	if err := h.convService.RestoreConversationForUser(c.Request.Context(), userID, conversationID); err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UnreadCount handles GET /v1/me/unread
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	count, err := h.convService.CountUnread(c.Request.Context(), userID)
	if err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

type attachmentUploadRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Filename       string `json:"filename" binding:"required"`
	ContentType    string `json:"content_type" binding:"required"`
}

// RequestAttachmentUpload handles POST /v1/attachments. The returned key is
// referenced from a subsequent SendMessage call.
func (h *ChatHandler) RequestAttachmentUpload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req attachmentUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	conversationID, err := utils.ParseSixID(req.ConversationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
		return
	}
	// Membership check; also 404s unknown conversations.
	if _, err := h.convService.GetConversation(c.Request.Context(), userID, conversationID); err != nil {
		mapChatError(c, err)
		return
	}

	url, key, err := h.storageService.GeneratePresignedPutURL(c.Request.Context(), userID.String(), "attachments/"+req.ConversationID, req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "object_key": key})
}

// ServeWS handles GET /v1/ws. Browsers cannot set headers on websocket
// dials, so the JWT arrives as a query parameter.
func (h *ChatHandler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token query parameter required"})
		return
	}
	claims, err := auth.ValidateJWT(token, h.cfg.JwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	client := ws.NewClient(h.hub, conn, claims.UserID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
