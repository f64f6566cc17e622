package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// HealthChecker probes the API base and classifies the answer
type HealthChecker struct {
	client     *http.Client
	config     domain.APIConfig
	constraint *semver.Constraints
	logger     *zap.Logger

	mu   sync.RWMutex
	last domain.APIHealth
}

// NewHealthChecker creates a checker. An empty version constraint accepts
// every server version.
func NewHealthChecker(cfg domain.APIConfig, logger *zap.Logger) (*HealthChecker, error) {
	h := &HealthChecker{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
		last:   domain.APIHealth{State: domain.HealthUnknown, Compatible: true},
	}
	if cfg.VersionConstraint != "" {
		c, err := semver.NewConstraint(cfg.VersionConstraint)
		if err != nil {
			return nil, fmt.Errorf("invalid api version constraint %q: %w", cfg.VersionConstraint, err)
		}
		h.constraint = c
	}
	return h, nil
}

// Check runs one health check and records the result
func (h *HealthChecker) Check(ctx context.Context) domain.APIHealth {
	result := h.check(ctx)

	h.mu.Lock()
	h.last = result
	h.mu.Unlock()

	if result.State == domain.HealthOK {
		h.logger.Debug("Health check: successful", zap.String("server_version", result.ServerVersion))
	} else {
		h.logger.Warn("Health check: degraded",
			zap.String("state", string(result.State)),
			zap.String("server_version", result.ServerVersion),
			zap.Bool("compatible", result.Compatible),
			zap.String("error", result.Error))
	}
	return result
}

// Last returns the most recent result
func (h *HealthChecker) Last() domain.APIHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

func (h *HealthChecker) check(ctx context.Context) domain.APIHealth {
	result := domain.APIHealth{State: domain.HealthError, CheckedAt: time.Now(), Compatible: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.config.BaseURL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	ClientHeaders(req, h.config)

	resp, err := h.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp.Body.Close()

	result.ServerVersion = resp.Header.Get(headerAPIVersion)
	result.Compatible = h.compatible(result.ServerVersion)

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		result.State = domain.HealthOK
		if raw := resp.Header.Get(headerAPIVersionExp); raw != "" {
			result.State = domain.HealthDeprecated
			if expires, err := http.ParseTime(raw); err == nil {
				result.ExpiresAt = &expires
			}
		}
	case code == http.StatusNotAcceptable:
		result.State = domain.HealthExpired
	case code == http.StatusServiceUnavailable:
		result.State = domain.HealthMaintenance
	default:
		result.Error = fmt.Sprintf("unclassified response status: %s", resp.Status)
	}
	return result
}

// compatible checks the advertised server version against the constraint.
// A missing or unparseable version is not held against the server.
func (h *HealthChecker) compatible(version string) bool {
	if h.constraint == nil || version == "" {
		return true
	}
	v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		h.logger.Debug("Unparseable server api version", zap.String("version", version), zap.Error(err))
		return true
	}
	return h.constraint.Check(v)
}
