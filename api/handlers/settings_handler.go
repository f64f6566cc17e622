package handlers

import (
	"net/http"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/gin-gonic/gin"
)

// NetworkReporter accepts connectivity reports from the host
type NetworkReporter interface {
	domain.Connectivity
	Set(connType domain.ConnectionType) error
}

// SettingsHandler exposes user preferences and the reported network state
type SettingsHandler struct {
	prefs   domain.Preferences
	network NetworkReporter
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(prefs domain.Preferences, network NetworkReporter) *SettingsHandler {
	return &SettingsHandler{prefs: prefs, network: network}
}

type mobileDownloadsBody struct {
	Allowed *bool `json:"allowed" binding:"required"`
}

// GetMobileDownloads handles GET /api/v1/preferences/mobile-downloads
func (h *SettingsHandler) GetMobileDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allowed": h.prefs.MobileDownloadsAllowed()})
}

// SetMobileDownloads handles PUT /api/v1/preferences/mobile-downloads
func (h *SettingsHandler) SetMobileDownloads(c *gin.Context) {
	var body mobileDownloadsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.prefs.SetMobileDownloadsAllowed(*body.Allowed); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": *body.Allowed})
}

type networkBody struct {
	ConnectionType domain.ConnectionType `json:"connection_type" binding:"required"`
}

// GetNetwork handles GET /api/v1/network
func (h *SettingsHandler) GetNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connection_type": h.network.ConnectionType(),
		"online":          h.network.IsOnline(),
	})
}

// SetNetwork handles PUT /api/v1/network
func (h *SettingsHandler) SetNetwork(c *gin.Context) {
	var body networkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.network.Set(body.ConnectionType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.GetNetwork(c)
}
