package handlers

import (
	"net/http"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthSource reports the last API health check
type HealthSource interface {
	Last() domain.APIHealth
}

// ActivitySource reports whether transfers are in flight
type ActivitySource interface {
	HasActiveDownloads() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	health    HealthSource
	downloads ActivitySource
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(health HealthSource, downloads ActivitySource) *HealthHandler {
	return &HealthHandler{
		health:    health,
		downloads: downloads,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status          string           `json:"status"`
	Version         string           `json:"version"`
	API             domain.APIHealth `json:"api"`
	ActiveDownloads bool             `json:"active_downloads"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         Version,
		API:             h.health.Last(),
		ActiveDownloads: h.downloads.HasActiveDownloads(),
	})
}

// Ready handles GET /ready. The service is not ready while the remote API
// is under maintenance or has retired the client's API version.
func (h *HealthHandler) Ready(c *gin.Context) {
	last := h.health.Last()
	switch {
	case last.State == domain.HealthMaintenance, last.State == domain.HealthExpired:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": string(last.State),
		})
		return
	case !last.Compatible:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "incompatible server version " + last.ServerVersion,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
