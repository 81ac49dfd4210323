package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tradeyard/m1/internal/services"
)

// SettingsHandler handles the /settings REST endpoints.
type SettingsHandler struct {
	settingsService services.ISettingsService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settingsService services.ISettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

// GetPublicSettings returns the publicly accessible runtime settings, such as
// the message edit window. Handles GET /v1/settings
func (h *SettingsHandler) GetPublicSettings(c *gin.Context) {
	publicSettings, err := h.settingsService.GetAllPublic(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settings"})
		return
	}
	c.JSON(http.StatusOK, publicSettings)
}

type updateSettingRequest struct {
	Key    string      `json:"key" binding:"required"`
	Value  interface{} `json:"value" binding:"required"`
	Public bool        `json:"public"`
}

// UpdateSetting stores a runtime setting and broadcasts the change to all
// instances. Handles PUT /v1/admin/settings
func (h *SettingsHandler) UpdateSetting(c *gin.Context) {
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if err := h.settingsService.SetValue(c.Request.Context(), req.Key, req.Value, req.Public); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
