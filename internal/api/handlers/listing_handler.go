package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/services"
	"tradeyard/m1/internal/storage"
	"tradeyard/m1/internal/tasks"
	"tradeyard/m1/internal/utils"
)

// IAsynqClient abstracts the asynq client so handlers can be tested with a mock.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ListingHandler handles listing CRUD and image uploads.
type ListingHandler struct {
	listingService services.IListingService
	storageService storage.IS3Storage
	taskClient     IAsynqClient
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(listingService services.IListingService, storageService storage.IS3Storage, taskClient IAsynqClient) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		storageService: storageService,
		taskClient:     taskClient,
	}
}

// SearchListings handles GET /v1/listing/search
func (h *ListingHandler) SearchListings(c *gin.Context) {
	query := c.Query("q")
	category := c.Query("category")
	tagsStr := c.Query("tags")
	limitStr := c.DefaultQuery("limit", "50")
	cursor := c.Query("cursor")

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	var tags []string
	if tagsStr != "" {
		for _, tag := range strings.Split(tagsStr, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}

	var queryPtr, categoryPtr, cursorPtr *string
	if query != "" {
		queryPtr = &query
	}
	if category != "" {
		categoryPtr = &category
	}
	if cursor != "" {
		cursorPtr = &cursor
	}

	listings, nextCursor, err := h.listingService.SearchListings(c.Request.Context(), queryPtr, categoryPtr, tags, limit, cursorPtr)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        listings,
		"next_cursor": nextCursor,
	})
}

// GetListingByID handles GET /v1/listing/:id
func (h *ListingHandler) GetListingByID(c *gin.Context) {
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		}
		return
	}
	c.JSON(http.StatusOK, listing)
}

type createListingRequest struct {
	Title       string              `json:"title" binding:"required"`
	Body        string              `json:"body"`
	Category    string              `json:"category" binding:"required"`
	Tags        []string            `json:"tags"`
	AskingPrice *models.AskingPrice `json:"asking_price"`
}

// CreateListing handles POST /v1/listing
func (h *ListingHandler) CreateListing(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), userID, req.Title, req.Body, req.Category, req.Tags, req.AskingPrice)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create listing"})
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PUT /v1/listing/:id
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	listing, err := h.listingService.UpdateListing(c.Request.Context(), listingID, userID, updates)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// lifecycleAction applies one of the status transitions guarded by ownership.
func (h *ListingHandler) lifecycleAction(c *gin.Context, action func(ctx context.Context, listingID, userID utils.SixID) error) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := action(c.Request.Context(), listingID, userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PublishListing handles POST /v1/listing/:id/publish
func (h *ListingHandler) PublishListing(c *gin.Context) {
	h.lifecycleAction(c, h.listingService.PublishListing)
}

// HideListing handles POST /v1/listing/:id/hide
func (h *ListingHandler) HideListing(c *gin.Context) {
	h.lifecycleAction(c, h.listingService.HideListing)
}

// UnhideListing handles POST /v1/listing/:id/unhide
func (h *ListingHandler) UnhideListing(c *gin.Context) {
	h.lifecycleAction(c, h.listingService.UnhideListing)
}

// DeleteListing handles DELETE /v1/listing/:id
func (h *ListingHandler) DeleteListing(c *gin.Context) {
	h.lifecycleAction(c, h.listingService.DeleteListing)
}

// GetMyListings handles GET /v1/me/listings
func (h *ListingHandler) GetMyListings(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	listings, err := h.listingService.FindListingsByUserID(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": listings})
}

type imageUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// RequestImageUpload handles POST /v1/listing/:id/images. It returns a
// pre-signed URL; once the client has uploaded, it calls ConfirmImageUpload.
func (h *ListingHandler) RequestImageUpload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req imageUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	// Only the owner may attach images.
	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil || listing.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}

	url, key, err := h.storageService.GeneratePresignedPutURL(c.Request.Context(), userID.String(), "listings/"+listingID.String(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload URL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_url": url, "object_key": key})
}

type confirmImageRequest struct {
	ObjectKey string `json:"object_key" binding:"required"`
}

// ConfirmImageUpload handles POST /v1/listing/:id/images/confirm. It checks
// the object landed in S3 and enqueues the processing task that attaches it
// to the listing.
func (h *ListingHandler) ConfirmImageUpload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req confirmImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil || listing.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}

	if err := h.storageService.VerifyObject(c.Request.Context(), req.ObjectKey); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded object not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify upload"})
		return
	}

	payload, err := json.Marshal(tasks.ImageTaskPayload{S3Key: req.ObjectKey, ListingID: listingID.String()})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue image processing"})
		return
	}
	task := asynq.NewTask(tasks.TypeImageProcess, payload, asynq.Queue("images"))
	taskInfo, err := h.taskClient.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue image processing"})
		return
	}
	log.Printf("Enqueued image processing task ID %s for key %s, listing %s", taskInfo.ID, req.ObjectKey, listingID.String())

	c.JSON(http.StatusAccepted, gin.H{"success": true})
}
