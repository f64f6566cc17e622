package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Guna-13/xikolo-android/internal/app"
	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Coordinator is the part of the request coordinator the API exposes
type Coordinator interface {
	Fetch(req app.FetchRequest, handler app.FetchHandler) *app.Call
	Send(req app.JobRequest, handler app.FetchHandler) *app.Call
	Cancel(jobID string) bool
}

// ResourceEvictor removes cached resources
type ResourceEvictor interface {
	Delete(resourceType, resourceID string) error
}

// ResourceHandler serves cached and fetched resources
type ResourceHandler struct {
	coordinator Coordinator
	store       ResourceEvictor
	logger      *zap.Logger
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(coordinator Coordinator, store ResourceEvictor, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{
		coordinator: coordinator,
		store:       store,
		logger:      logger,
	}
}

// ResourceResponse is the JSON form of a fetch result
type ResourceResponse struct {
	JobID        string          `json:"job_id,omitempty"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	ETag         string          `json:"etag,omitempty"`
	Version      int64           `json:"version,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
	FromCache    bool            `json:"from_cache"`
	Payload      json.RawMessage `json:"payload"`
}

func toResourceResponse(result domain.FetchResult) ResourceResponse {
	r := result.Resource
	resp := ResourceResponse{
		JobID:     result.JobID,
		FromCache: result.FromCache,
	}
	if r != nil {
		resp.ResourceType = r.ResourceType
		resp.ResourceID = r.ResourceID
		resp.ETag = r.ETag
		resp.Version = r.Version
		resp.FetchedAt = r.FetchedAt
		if len(r.Payload) > 0 {
			resp.Payload = json.RawMessage(r.Payload)
		}
	}
	return resp
}

// respondCall waits for the call and writes its final result. A client that
// goes away cancels the call.
func (h *ResourceHandler) respondCall(c *gin.Context, call *app.Call) {
	select {
	case <-call.Done():
	case <-c.Request.Context().Done():
		call.Cancel()
		return
	}

	result, ok := call.Result()
	switch {
	case !ok:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no result"})
	case result.Kind == domain.ResultCanceled:
		c.JSON(http.StatusConflict, gin.H{"error": "request canceled", "job_id": result.JobID})
	case result.Kind == domain.ResultFailure:
		c.JSON(statusFor(result.Err), gin.H{"error": result.Err.Error(), "job_id": result.JobID})
	default:
		c.JSON(http.StatusOK, toResourceResponse(result))
	}
}

// GetResource handles GET /api/v1/resources/:type/:id?policy=&auth=
func (h *ResourceHandler) GetResource(c *gin.Context) {
	policy := domain.CachePolicy(c.DefaultQuery("policy", string(domain.PolicyCacheThenNetwork)))
	if !domain.ValidatePolicy(policy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cache policy"})
		return
	}
	auth, _ := strconv.ParseBool(c.DefaultQuery("auth", "true"))

	call := h.coordinator.Fetch(app.FetchRequest{
		ResourceType: c.Param("type"),
		ResourceID:   c.Param("id"),
		Policy:       policy,
		AuthRequired: auth,
	}, nil)
	h.respondCall(c, call)
}

// DeleteResource handles DELETE /api/v1/resources/:type/:id
func (h *ResourceHandler) DeleteResource(c *gin.Context) {
	if err := h.store.Delete(c.Param("type"), c.Param("id")); err != nil {
		h.logger.Error("Failed to evict resource", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "resource evicted"})
}

// SendJobRequest describes a network operation
type SendJobRequest struct {
	Method       string          `json:"method"`
	URL          string          `json:"url" binding:"required"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AuthRequired *bool           `json:"auth_required,omitempty"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
}

// SendJob handles POST /api/v1/jobs
func (h *ResourceHandler) SendJob(c *gin.Context) {
	var req SendJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auth := true
	if req.AuthRequired != nil {
		auth = *req.AuthRequired
	}
	call := h.coordinator.Send(app.JobRequest{
		Method:       req.Method,
		URL:          req.URL,
		Payload:      req.Payload,
		AuthRequired: auth,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	}, nil)
	h.respondCall(c, call)
}

// CancelJob handles DELETE /api/v1/jobs/:id
func (h *ResourceHandler) CancelJob(c *gin.Context) {
	if !h.coordinator.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}
