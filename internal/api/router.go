package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"tradeyard/m1/internal/api/handlers"
	"tradeyard/m1/internal/api/middleware"
	"tradeyard/m1/internal/config"
	"tradeyard/m1/internal/services"
	"tradeyard/m1/internal/storage"
	"tradeyard/m1/internal/ws"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient, settingsSvc services.ISettingsService, hub *ws.Hub) *gin.Engine {
	// Initialize services needed by API handlers HERE
	userService := services.NewUserService(db)
	listingService := services.NewListingService(db, cfg)
	favoriteService := services.NewFavoriteService(db, listingService)
	conversationService := services.NewConversationService(db, cfg, settingsSvc, listingService)
	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	r := gin.Default()

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, settingsSvc)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg, userService)
	listingHandler := handlers.NewListingHandler(listingService, s3StorageService, taskClient)
	favoriteHandler := handlers.NewFavoriteHandler(favoriteService)
	chatHandler := handlers.NewChatHandler(cfg, conversationService, userService, settingsSvc, s3StorageService, taskClient, hub)
	settingsHandler := handlers.NewSettingsHandler(settingsSvc)
	adminHandler := handlers.NewAdminHandler(userService)

	v1 := r.Group("/v1")
	{
		// Public Routes (Rate limiting already applied globally)
		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)
		v1.GET("/settings", settingsHandler.GetPublicSettings)

		// Listing routes - make them more specific to avoid conflicts
		v1.GET("/listing/search", listingHandler.SearchListings)
		v1.GET("/listing/:id", listingHandler.GetListingByID)

		// The socket authenticates itself via a token query parameter.
		v1.GET("/ws", chatHandler.ServeWS)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated Routes (already have rate limiting from global middleware)
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/me", authHandler.GetMe)
			authRequired.DELETE("/me", authHandler.DeleteAccount)
			authRequired.POST("/me/devices", authHandler.RegisterDevice)
			authRequired.DELETE("/me/devices", authHandler.RemoveDevice)
			authRequired.PUT("/me/notifications", authHandler.UpdateNotificationPreferences)
			authRequired.GET("/me/listings", listingHandler.GetMyListings)
			authRequired.GET("/me/unread", chatHandler.UnreadCount)

			authRequired.POST("/listing", listingHandler.CreateListing)
			authRequired.PUT("/listing/:id", listingHandler.UpdateListing)
			authRequired.DELETE("/listing/:id", listingHandler.DeleteListing)
			authRequired.POST("/listing/:id/publish", listingHandler.PublishListing)
			authRequired.POST("/listing/:id/hide", listingHandler.HideListing)
			authRequired.POST("/listing/:id/unhide", listingHandler.UnhideListing)
			authRequired.POST("/listing/:id/images", listingHandler.RequestImageUpload)
			authRequired.POST("/listing/:id/images/confirm", listingHandler.ConfirmImageUpload)

			authRequired.GET("/me/favorites", favoriteHandler.ListFavorites)
			authRequired.PUT("/me/favorites/:listing_id", favoriteHandler.AddFavorite)
			authRequired.DELETE("/me/favorites/:listing_id", favoriteHandler.RemoveFavorite)

			authRequired.GET("/conversations", chatHandler.ListConversations)
			authRequired.GET("/conversations/:id/messages", chatHandler.GetMessages)
			authRequired.POST("/conversations/:id/read", chatHandler.MarkRead)
			authRequired.DELETE("/conversations/:id", chatHandler.DeleteConversation)
			authRequired.POST("/conversations/:id/restore", chatHandler.RestoreConversation)
			authRequired.POST("/messages", chatHandler.SendMessage)
			authRequired.PUT("/messages/:id", chatHandler.EditMessage)
			authRequired.DELETE("/messages/:id", chatHandler.DeleteMessage)
			authRequired.POST("/attachments", chatHandler.RequestAttachmentUpload)
		}

		// Admin Routes (already have rate limiting from global middleware)
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.POST("/users/:id/suspend", adminHandler.SuspendUser)
			adminRequired.POST("/users/:id/unsuspend", adminHandler.UnsuspendUser)
			adminRequired.PUT("/settings", settingsHandler.UpdateSetting)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
// Requires Redis client for the getTestPush endpoint.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestPush":
			var args []string // Expect ["conversation_id"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [conversationID]"})
				return
			}
			redisKey := fmt.Sprintf("mockpush:%s", args[0])

			// Poll Redis briefly for the key
			var pushJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ { // Poll up to ~2 seconds
				pushJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey) // Delete after fetching
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test push not found in Redis for key %s", redisKey)})
				return
			}

			var pushData map[string]interface{}
			if err := json.Unmarshal([]byte(pushJsonData), &pushData); err != nil {
				log.Printf("Service API: Error unmarshalling push data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored push data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": pushData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
