package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"tradeyard/m1/internal/api/handlers"
	"tradeyard/m1/internal/api/middleware"
	"tradeyard/m1/internal/models"
	"tradeyard/m1/internal/services"
	"tradeyard/m1/internal/utils"
)

type listingHandlerFixture struct {
	handler        *handlers.ListingHandler
	listingService *MockListingService
	storage        *MockS3Storage
	taskClient     *MockAsynqClient
}

func newListingHandlerFixture(t *testing.T) *listingHandlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &listingHandlerFixture{
		listingService: new(MockListingService),
		storage:        new(MockS3Storage),
		taskClient:     new(MockAsynqClient),
	}
	f.handler = handlers.NewListingHandler(f.listingService, f.storage, f.taskClient)
	return f
}

func (f *listingHandlerFixture) newListingRouter(userID utils.SixID) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID.String())
		c.Next()
	})
	router.GET("/v1/listing/search", f.handler.SearchListings)
	router.GET("/v1/listing/:id", f.handler.GetListingByID)
	router.POST("/v1/listing", f.handler.CreateListing)
	router.PUT("/v1/listing/:id", f.handler.UpdateListing)
	router.POST("/v1/listing/:id/publish", f.handler.PublishListing)
	router.DELETE("/v1/listing/:id", f.handler.DeleteListing)
	router.GET("/v1/me/listings", f.handler.GetMyListings)
	router.POST("/v1/listing/:id/images", f.handler.RequestImageUpload)
	router.POST("/v1/listing/:id/images/confirm", f.handler.ConfirmImageUpload)
	return router
}

func sampleListing(ownerID utils.SixID) *models.Listing {
	now := time.Now().UTC()
	return &models.Listing{
		ID:        utils.NewSixID(),
		UserID:    ownerID,
		Title:     "Old bicycle",
		Body:      "Some rust, rides fine",
		Category:  "sports",
		Tags:      []string{"bike"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestGetListingByID(t *testing.T) {
	f := newListingHandlerFixture(t)
	ownerID := utils.NewSixID()
	listing := sampleListing(ownerID)

	f.listingService.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)

	req, _ := http.NewRequest(http.MethodGet, "/v1/listing/"+listing.ID.String(), nil)
	recorder := httptest.NewRecorder()
	f.newListingRouter(utils.NewSixID()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp models.Listing
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, listing.Title, resp.Title)
}

func TestGetListingByIDNotFound(t *testing.T) {
	f := newListingHandlerFixture(t)
	listingID := utils.NewSixID()

	f.listingService.On("FindListingByID", mock.Anything, listingID).
		Return(nil, services.ErrListingNotFound)

	req, _ := http.NewRequest(http.MethodGet, "/v1/listing/"+listingID.String(), nil)
	recorder := httptest.NewRecorder()
	f.newListingRouter(utils.NewSixID()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestCreateListing(t *testing.T) {
	f := newListingHandlerFixture(t)
	ownerID := utils.NewSixID()
	listing := sampleListing(ownerID)
	listing.IsDraft = true

	f.listingService.On("CreateListing", mock.Anything, ownerID, "Old bicycle", "Some rust, rides fine", "sports", []string{"bike"}, (*models.AskingPrice)(nil)).
		Return(listing, nil)

	body, _ := json.Marshal(gin.H{
		"title":    "Old bicycle",
		"body":     "Some rust, rides fine",
		"category": "sports",
		"tags":     []string{"bike"},
	})
	req, _ := http.NewRequest(http.MethodPost, "/v1/listing", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newListingRouter(ownerID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	f.listingService.AssertExpectations(t)
}

func TestCreateListingRequiresTitle(t *testing.T) {
	f := newListingHandlerFixture(t)

	body, _ := json.Marshal(gin.H{"category": "sports"})
	req, _ := http.NewRequest(http.MethodPost, "/v1/listing", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newListingRouter(utils.NewSixID()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	f.listingService.AssertNotCalled(t, "CreateListing")
}

func TestPublishListing(t *testing.T) {
	f := newListingHandlerFixture(t)
	ownerID := utils.NewSixID()
	listingID := utils.NewSixID()

	f.listingService.On("PublishListing", mock.Anything, listingID, ownerID).Return(nil)

	req, _ := http.NewRequest(http.MethodPost, "/v1/listing/"+listingID.String()+"/publish", nil)
	recorder := httptest.NewRecorder()
	f.newListingRouter(ownerID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	f.listingService.AssertExpectations(t)
}

func TestSearchListingsReturnsCursor(t *testing.T) {
	f := newListingHandlerFixture(t)
	ownerID := utils.NewSixID()
	results := []models.Listing{*sampleListing(ownerID)}

	f.listingService.On("SearchListings", mock.Anything, mock.Anything, mock.Anything, []string(nil), 50, (*string)(nil)).
		Return(results, "1693000000_abc123", nil)

	req, _ := http.NewRequest(http.MethodGet, "/v1/listing/search?q=bicycle", nil)
	recorder := httptest.NewRecorder()
	f.newListingRouter(utils.NewSixID()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp struct {
		Data       []models.Listing `json:"data"`
		NextCursor string           `json:"next_cursor"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, "1693000000_abc123", resp.NextCursor)
}

func TestRequestImageUploadOwnerOnly(t *testing.T) {
	f := newListingHandlerFixture(t)
	ownerID := utils.NewSixID()
	strangerID := utils.NewSixID()
	listing := sampleListing(ownerID)

	f.listingService.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)

	body, _ := json.Marshal(gin.H{"filename": "bike.jpg", "content_type": "image/jpeg"})
	req, _ := http.NewRequest(http.MethodPost, "/v1/listing/"+listing.ID.String()+"/images", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newListingRouter(strangerID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	f.storage.AssertNotCalled(t, "GeneratePresignedPutURL")
}

func TestConfirmImageUploadEnqueuesProcessing(t *testing.T) {
	f := newListingHandlerFixture(t)
	ownerID := utils.NewSixID()
	listing := sampleListing(ownerID)
	objectKey := "listings/" + listing.ID.String() + "/abc_bike.jpg"

	f.listingService.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)
	f.storage.On("VerifyObject", mock.Anything, objectKey).Return(nil)
	f.taskClient.On("EnqueueContext", mock.Anything, mock.Anything).
		Return(&asynq.TaskInfo{ID: "task-1", Queue: "images"}, nil)

	body, _ := json.Marshal(gin.H{"object_key": objectKey})
	req, _ := http.NewRequest(http.MethodPost, "/v1/listing/"+listing.ID.String()+"/images/confirm", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	f.newListingRouter(ownerID).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusAccepted, recorder.Code)
	f.taskClient.AssertExpectations(t)
}
