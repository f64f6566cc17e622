package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"go.uber.org/zap"
)

const (
	mediaTypeJSONAPI = "application/vnd.api+json"

	headerUserPlatform   = "X-User-Platform"
	headerResourceVer    = "X-Resource-Version"
	headerAPIVersion     = "X-Api-Version"
	headerAPIVersionExp  = "X-Api-Version-Expiration-Date"
	maxResponseBodyBytes = 32 << 20
)

// ClientHeaders sets the headers every request to the platform carries
func ClientHeaders(req *http.Request, cfg domain.APIConfig) {
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}
	req.Header.Set("Accept", mediaTypeJSONAPI+"; xikolo-version="+cfg.Version)
	if cfg.Platform != "" {
		req.Header.Set(headerUserPlatform, cfg.Platform)
	}
	if cfg.Language != "" {
		req.Header.Set("Accept-Language", cfg.Language)
	}
}

// HTTPTransport executes network jobs against the platform API
type HTTPTransport struct {
	client *http.Client
	config domain.APIConfig
	logger *zap.Logger
}

// NewHTTPTransport creates a transport using the API configuration
func NewHTTPTransport(cfg domain.APIConfig, logger *zap.Logger) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

// Do performs the request described by the job. Network failures and 5xx
// responses are wrapped with domain.ErrTransient.
func (t *HTTPTransport) Do(ctx context.Context, job *domain.Job, token string) (*domain.Response, error) {
	var body io.Reader
	if len(job.Payload) > 0 {
		body = bytes.NewReader(job.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, job.Method, job.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	ClientHeaders(req, t.config)
	if body != nil {
		req.Header.Set("Content-Type", mediaTypeJSONAPI)
	}
	if token != "" {
		req.Header.Set("Authorization", t.config.AuthScheme+token)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: reading body: %w", domain.ErrTransient, err)
	}

	t.logger.Debug("Request finished",
		zap.String("job_id", job.ID),
		zap.String("method", job.Method),
		zap.String("url", job.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if err := statusError(resp); err != nil {
		return nil, err
	}

	response := &domain.Response{
		StatusCode: resp.StatusCode,
		Body:       raw,
		ETag:       resp.Header.Get("ETag"),
		ReceivedAt: time.Now(),
	}
	if v := resp.Header.Get(headerResourceVer); v != "" {
		if version, err := strconv.ParseInt(v, 10, 64); err == nil {
			response.Version = version
		}
	}
	return response, nil
}

func statusError(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	statusErr := &domain.StatusError{StatusCode: code, Status: resp.Status}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, statusErr)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, statusErr)
	case code >= 500:
		return fmt.Errorf("%w: %w", domain.ErrTransient, statusErr)
	default:
		return statusErr
	}
}

// RouteTable resolves resource identities against the configured API routes
type RouteTable struct {
	base   *url.URL
	routes map[string]string
}

// NewRouteTable parses the API base URL and keeps the route templates
func NewRouteTable(cfg domain.APIConfig) (*RouteTable, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", cfg.BaseURL)
	}
	return &RouteTable{base: base, routes: cfg.Routes}, nil
}

// URLFor returns the absolute URL of a resource
func (r *RouteTable) URLFor(resourceType, resourceID string) (string, error) {
	template, ok := r.routes[resourceType]
	if !ok {
		return "", fmt.Errorf("%w: no route for resource type %q", domain.ErrNotFound, resourceType)
	}
	ref, err := url.Parse(strings.ReplaceAll(template, "{id}", url.PathEscape(resourceID)))
	if err != nil {
		return "", fmt.Errorf("invalid route for %q: %w", resourceType, err)
	}
	return r.base.ResolveReference(ref).String(), nil
}

// Host is the host name of the API
func (r *RouteTable) Host() string {
	return r.base.Host
}

