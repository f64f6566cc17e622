package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"go.uber.org/zap"
)

// HTTPSource serves downloads over HTTP(S) with Range resume
type HTTPSource struct {
	client  *http.Client
	config  domain.APIConfig
	apiHost string
	auth    domain.AuthProvider
	logger  *zap.Logger
}

// NewHTTPSource creates a media source. The access token is attached only to
// requests whose host is apiHost.
func NewHTTPSource(cfg domain.APIConfig, apiHost string, auth domain.AuthProvider, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		// no client timeout: transfers are bounded by the inactivity watchdog
		client:  &http.Client{},
		config:  cfg,
		apiHost: apiHost,
		auth:    auth,
		logger:  logger,
	}
}

// Supports reports whether uri is an absolute http(s) URL
func (s *HTTPSource) Supports(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (s *HTTPSource) newRequest(ctx context.Context, method, uri string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURI, err)
	}
	ClientHeaders(req, s.config)
	if s.auth != nil && req.URL.Host == s.apiHost {
		if token, ok := s.auth.ResolveAccessToken(); ok {
			req.Header.Set("Authorization", s.config.AuthScheme+token)
		}
	}
	return req, nil
}

// Probe performs a HEAD request for the size and entity tag
func (s *HTTPSource) Probe(ctx context.Context, uri string) (domain.RemoteInfo, error) {
	info := domain.RemoteInfo{Size: domain.SizeUnknown}

	req, err := s.newRequest(ctx, http.MethodHead, uri)
	if err != nil {
		return info, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return info, fmt.Errorf("performing HEAD request: %w", err)
	}
	resp.Body.Close()

	if err := statusError(resp); err != nil {
		return info, err
	}
	// a zero Content-Length on HEAD is as good as unknown
	if resp.ContentLength > 0 {
		info.Size = resp.ContentLength
	}
	info.ETag = resp.Header.Get("ETag")
	return info, nil
}

// Open starts a GET at offset. When the server ignores the Range header the
// body starts at 0 and so does the returned start.
func (s *HTTPSource) Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error) {
	req, err := s.newRequest(ctx, http.MethodGet, uri)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("performing GET request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			s.logger.Debug("Server ignored range request, restarting from zero",
				zap.String("uri", uri),
				zap.Int64("offset", offset))
		}
		return resp.Body, 0, nil
	case http.StatusPartialContent:
		start, err := contentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, 0, err
		}
		if start != offset {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("server resumed at byte %d, requested %d", start, offset)
		}
		return resp.Body, start, nil
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		if offset > 0 {
			return nil, 0, fmt.Errorf("%w: %w", domain.ErrRangeNotSatisfiable, statusError(resp))
		}
		return nil, 0, statusError(resp)
	default:
		resp.Body.Close()
		if err := statusError(resp); err != nil {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("unexpected response status: %s", resp.Status)
	}
}

// contentRangeStart parses the first byte of "bytes start-end/total"
func contentRangeStart(header string) (int64, error) {
	if header == "" {
		return 0, fmt.Errorf("partial response without Content-Range")
	}
	rangeSpec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, fmt.Errorf("unsupported Content-Range %q", header)
	}
	first, _, ok := strings.Cut(rangeSpec, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", header, err)
	}
	return start, nil
}
