package infrastructure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testAPIConfig(baseURL string) domain.APIConfig {
	cfg := domain.DefaultConfig().API
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestHTTPTransport_SendsClientHeadersAndToken(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("X-Resource-Version", "7")
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(testAPIConfig(server.URL+"/"), zap.NewNop())
	job := domain.NewJob(http.MethodGet, server.URL+"/courses/1", true, domain.PolicyNetworkOnly, nil)

	resp, err := transport.Do(context.Background(), job, "secret")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"data":{}}`, string(resp.Body))
	assert.Equal(t, `"v1"`, resp.ETag)
	assert.Equal(t, int64(7), resp.Version)

	assert.Equal(t, "Legacy-Token token=secret", got.Get("Authorization"))
	assert.Equal(t, "application/vnd.api+json; xikolo-version=4", got.Get("Accept"))
	assert.Equal(t, "xikolo-sync/1.0", got.Get("User-Agent"))
	assert.Equal(t, "en", got.Get("Accept-Language"))
	assert.Equal(t, "desktop", got.Get("X-User-Platform"))
}

func TestHTTPTransport_SendsPayload(t *testing.T) {
	var body string
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(testAPIConfig(server.URL+"/"), zap.NewNop())
	job := domain.NewJob(http.MethodPost, server.URL+"/enrollments", true, domain.PolicyNetworkOnly, []byte(`{"data":{"type":"enrollments"}}`))

	resp, err := transport.Do(context.Background(), job, "t")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"data":{"type":"enrollments"}}`, body)
	assert.Equal(t, "application/vnd.api+json", contentType)
}

func TestHTTPTransport_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthExpired},
		{"forbidden", http.StatusForbidden, domain.ErrAuthExpired},
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"server error", http.StatusBadGateway, domain.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			transport := NewHTTPTransport(testAPIConfig(server.URL+"/"), zap.NewNop())
			job := domain.NewJob(http.MethodGet, server.URL, false, domain.PolicyNetworkOnly, nil)

			_, err := transport.Do(context.Background(), job, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPTransport_ClientErrorIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	transport := NewHTTPTransport(testAPIConfig(server.URL+"/"), zap.NewNop())
	job := domain.NewJob(http.MethodGet, server.URL, false, domain.PolicyNetworkOnly, nil)

	_, err := transport.Do(context.Background(), job, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransient)

	var statusErr *domain.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
}

func TestHTTPTransport_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	transport := NewHTTPTransport(testAPIConfig(url+"/"), zap.NewNop())
	job := domain.NewJob(http.MethodGet, url, false, domain.PolicyNetworkOnly, nil)

	_, err := transport.Do(context.Background(), job, "")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestHTTPTransport_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := NewHTTPTransport(testAPIConfig(server.URL+"/"), zap.NewNop())
	job := domain.NewJob(http.MethodGet, server.URL, false, domain.PolicyNetworkOnly, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := transport.Do(ctx, job, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTransient)
}

func TestRouteTable_URLFor(t *testing.T) {
	routes, err := NewRouteTable(domain.DefaultConfig().API)
	require.NoError(t, err)

	url, err := routes.URLFor("courses", "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://open.hpi.de/api/v2/courses/abc?include=user_enrollment", url)

	url, err = routes.URLFor("course-sections", "c 1")
	require.NoError(t, err)
	assert.Contains(t, url, "https://open.hpi.de/api/v2/course-sections?")
	assert.Contains(t, url, "c%201")

	_, err = routes.URLFor("unicorns", "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, "open.hpi.de", routes.Host())
}

func TestNewRouteTable_RejectsRelativeBase(t *testing.T) {
	cfg := domain.DefaultConfig().API
	cfg.BaseURL = "/api/v2/"

	_, err := NewRouteTable(cfg)
	assert.Error(t, err)
}
