package handlers

import (
	"context"
	"net/http"

	"github.com/Guna-13/xikolo-android/internal/app"
	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DownloadService is the part of the download manager the API exposes
type DownloadService interface {
	StartDownload(ctx context.Context, req app.StartRequest) (*domain.Download, error)
	PauseDownload(ctx context.Context, identity domain.DownloadIdentity) (*domain.Download, error)
	CancelDownload(ctx context.Context, identity domain.DownloadIdentity) error
	DeleteDownload(ctx context.Context, identity domain.DownloadIdentity) error
	GetDownload(identity domain.DownloadIdentity) (*domain.Download, error)
	ListDownloads(filter domain.DownloadFilter) ([]*domain.Download, error)
	GetStats() (*domain.DownloadStats, error)
}

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	downloads DownloadService
	logger    *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(downloads DownloadService, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		logger:    logger,
	}
}

// StartDownloadRequest represents a request to start a download
type StartDownloadRequest struct {
	FileType  string `json:"file_type" binding:"required"`
	CourseID  string `json:"course_id" binding:"required"`
	ModuleID  string `json:"module_id" binding:"required"`
	ItemID    string `json:"item_id" binding:"required"`
	RemoteURI string `json:"remote_uri" binding:"required"`
	Title     string `json:"title,omitempty"`
}

// identityParam reads the identity from the route
func identityParam(c *gin.Context) domain.DownloadIdentity {
	return domain.DownloadIdentity{
		FileType: domain.FileType(c.Param("file_type")),
		CourseID: c.Param("course_id"),
		ModuleID: c.Param("module_id"),
		ItemID:   c.Param("item_id"),
	}
}

// StartDownload handles POST /api/v1/downloads
func (h *DownloadHandler) StartDownload(c *gin.Context) {
	var req StartDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	download, err := h.downloads.StartDownload(c.Request.Context(), app.StartRequest{
		Identity: domain.DownloadIdentity{
			FileType: domain.FileType(req.FileType),
			CourseID: req.CourseID,
			ModuleID: req.ModuleID,
			ItemID:   req.ItemID,
		},
		RemoteURI: req.RemoteURI,
		Title:     req.Title,
	})
	if err != nil {
		h.logger.Warn("Failed to start download", zap.Error(err))
		respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if download.Status == domain.StatusCompleted {
		status = http.StatusOK
	}
	c.JSON(status, download)
}

// GetDownload handles GET /api/v1/downloads/:file_type/:course_id/:module_id/:item_id
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	identity := identityParam(c)
	download, err := h.downloads.GetDownload(identity)
	if err != nil {
		respondError(c, err)
		return
	}
	if download == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	c.JSON(http.StatusOK, download)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	filter := domain.DownloadFilter{
		CourseID: c.Query("course_id"),
		Status:   domain.DownloadStatus(c.Query("status")),
	}

	downloads, err := h.downloads.ListDownloads(filter)
	if err != nil {
		h.logger.Error("Failed to list downloads", zap.Error(err))
		respondError(c, err)
		return
	}
	if downloads == nil {
		downloads = []*domain.Download{}
	}

	c.JSON(http.StatusOK, downloads)
}

// GetStats handles GET /api/v1/downloads/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	stats, err := h.downloads.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// PauseDownload handles POST /api/v1/downloads/:file_type/:course_id/:module_id/:item_id/pause
func (h *DownloadHandler) PauseDownload(c *gin.Context) {
	identity := identityParam(c)
	download, err := h.downloads.PauseDownload(c.Request.Context(), identity)
	if err != nil {
		h.logger.Warn("Failed to pause download", zap.String("id", identity.Key()), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, download)
}

// CancelDownload handles POST /api/v1/downloads/:file_type/:course_id/:module_id/:item_id/cancel
func (h *DownloadHandler) CancelDownload(c *gin.Context) {
	identity := identityParam(c)
	if err := h.downloads.CancelDownload(c.Request.Context(), identity); err != nil {
		h.logger.Warn("Failed to cancel download", zap.String("id", identity.Key()), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download cancelled"})
}

// DeleteDownload handles DELETE /api/v1/downloads/:file_type/:course_id/:module_id/:item_id
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	identity := identityParam(c)
	if err := h.downloads.DeleteDownload(c.Request.Context(), identity); err != nil {
		h.logger.Error("Failed to delete download", zap.String("id", identity.Key()), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download deleted"})
}
