package handlers

import (
	"errors"
	"net/http"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var statusErr *domain.StatusError
	switch {
	case errors.Is(err, domain.ErrInvalidIdentity), errors.Is(err, domain.ErrInvalidURI):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthRequired), errors.Is(err, domain.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrMobileDownloadRestricted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransient), errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
