package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Guna-13/xikolo-android/internal/app"
	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/internal/infrastructure"
)

type fakeDownloads struct {
	startErr  error
	downloads map[string]*domain.Download
}

func (f *fakeDownloads) StartDownload(ctx context.Context, req app.StartRequest) (*domain.Download, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if err := req.Identity.Validate(); err != nil {
		return nil, err
	}
	d := domain.NewDownload(req.Identity, req.RemoteURI, "/tmp/"+req.Identity.RelativePath(), req.Title)
	d.MarkQueued()
	f.downloads[d.ID] = d
	return d, nil
}

func (f *fakeDownloads) PauseDownload(ctx context.Context, identity domain.DownloadIdentity) (*domain.Download, error) {
	d, ok := f.downloads[identity.Key()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d.MarkPaused()
	return d, nil
}

func (f *fakeDownloads) CancelDownload(ctx context.Context, identity domain.DownloadIdentity) error {
	if _, ok := f.downloads[identity.Key()]; !ok {
		return domain.ErrNotFound
	}
	delete(f.downloads, identity.Key())
	return nil
}

func (f *fakeDownloads) DeleteDownload(ctx context.Context, identity domain.DownloadIdentity) error {
	delete(f.downloads, identity.Key())
	return nil
}

func (f *fakeDownloads) GetDownload(identity domain.DownloadIdentity) (*domain.Download, error) {
	return f.downloads[identity.Key()], nil
}

func (f *fakeDownloads) ListDownloads(filter domain.DownloadFilter) ([]*domain.Download, error) {
	var out []*domain.Download
	for _, d := range f.downloads {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDownloads) GetStats() (*domain.DownloadStats, error) {
	return &domain.DownloadStats{Total: int64(len(f.downloads)), QueueDepth: 2}, nil
}

func (f *fakeDownloads) HasActiveDownloads() bool { return false }

func (f *fakeDownloads) OnStateChange(listener func(event domain.DownloadEvent)) func() {
	return func() {}
}

type fakeHealth struct {
	state domain.APIHealth
}

func (f *fakeHealth) Last() domain.APIHealth { return f.state }

type fakeProgress struct {
	snapshots []domain.ProgressSnapshot
}

func (f *fakeProgress) Stream(ctx context.Context, identity domain.DownloadIdentity) (<-chan domain.ProgressSnapshot, error) {
	if identity.ItemID == "missing" {
		return nil, domain.ErrNotFound
	}
	ch := make(chan domain.ProgressSnapshot, len(f.snapshots))
	for _, s := range f.snapshots {
		ch <- s
	}
	close(ch)
	return ch, nil
}

type transportFunc func(ctx context.Context, job *domain.Job, token string) (*domain.Response, error)

func (f transportFunc) Do(ctx context.Context, job *domain.Job, token string) (*domain.Response, error) {
	return f(ctx, job, token)
}

type routerFixture struct {
	router       http.Handler
	downloads    *fakeDownloads
	health       *fakeHealth
	connectivity *infrastructure.ReportedConnectivity
}

func setupRouter(t *testing.T) *routerFixture {
	t.Helper()
	log := zap.NewNop()

	store, err := infrastructure.NewSQLiteCacheStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := app.NewDispatcher(log, nil)
	require.NoError(t, dispatcher.Start())
	t.Cleanup(dispatcher.Stop)

	pool := app.NewWorkerPool("jobs", 2, 8, log, nil)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Stop() })

	cfg := domain.DefaultConfig()
	routes, err := infrastructure.NewRouteTable(cfg.API)
	require.NoError(t, err)

	connectivity := infrastructure.NewReportedConnectivity(domain.ConnectionWifi)
	coordinator := app.NewRequestCoordinator(app.CoordinatorDeps{
		Store: store,
		Transport: transportFunc(func(ctx context.Context, job *domain.Job, token string) (*domain.Response, error) {
			return &domain.Response{StatusCode: http.StatusOK, Body: []byte(`{"id":"c1","title":"Intro"}`), ReceivedAt: time.Now()}, nil
		}),
		Auth:         infrastructure.NewTokenStore(filepath.Join(t.TempDir(), "token"), ""),
		Connectivity: connectivity,
		Mapper:       infrastructure.JSONPassthroughMapper{},
		Locator:      routes,
		Pool:         pool,
		Dispatcher:   dispatcher,
		Config:       &cfg.Network,
		Logger:       log,
	})
	t.Cleanup(coordinator.Stop)

	f := &routerFixture{
		downloads:    &fakeDownloads{downloads: make(map[string]*domain.Download)},
		health:       &fakeHealth{state: domain.APIHealth{State: domain.HealthOK, Compatible: true}},
		connectivity: connectivity,
	}
	f.router = SetupRouter(RouterDeps{
		Coordinator:  coordinator,
		Store:        store,
		Downloads:    f.downloads,
		Progress: &fakeProgress{snapshots: []domain.ProgressSnapshot{
			{DownloadID: "a", Status: domain.StatusRunning, BytesDownloadedSoFar: 10},
			{DownloadID: "a", Status: domain.StatusCompleted, BytesDownloadedSoFar: 20, Terminal: true},
		}},
		Preferences:  infrastructure.NewSQLitePreferences(store, false),
		Connectivity: connectivity,
		Health:       f.health,
		LogsDir:      t.TempDir(),
		Logger:       log,
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["api"].(map[string]interface{})["state"])

	rec = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.health.state = domain.APIHealth{State: domain.HealthMaintenance, Compatible: true}
	rec = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "maintenance", decode(t, rec)["reason"])
}

func TestGetResource(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=cache_only", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=network_only&auth=false", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "courses", body["resource_type"])
	assert.Equal(t, false, body["from_cache"])
	assert.Equal(t, "Intro", body["payload"].(map[string]interface{})["title"])

	rec = f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=cache_only", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["from_cache"])

	rec = f.do(t, http.MethodDelete, "/api/v1/resources/courses/c1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=cache_only", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetResource_Errors(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=whenever", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no token on disk or in the environment
	rec = f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=network_only", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, f.connectivity.Set(domain.ConnectionNone))
	rec = f.do(t, http.MethodGet, "/api/v1/resources/courses/c1?policy=network_only&auth=false", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelJob_Unknown(t *testing.T) {
	f := setupRouter(t)
	rec := f.do(t, http.MethodDelete, "/api/v1/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadEndpoints(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodPost, "/api/v1/downloads", map[string]string{"course_id": "c1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	start := map[string]string{
		"file_type":  "slides",
		"course_id":  "c1",
		"module_id":  "s1",
		"item_id":    "i1",
		"remote_uri": "https://open.hpi.de/files/slides.pdf",
	}
	rec = f.do(t, http.MethodPost, "/api/v1/downloads", start)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "queued", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/downloads/slides/c1/s1/i1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/downloads/slides/c1/s1/i1/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/downloads", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/downloads/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(2), stats["queue_depth"])

	rec = f.do(t, http.MethodPost, "/api/v1/downloads/slides/c1/s1/i1/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/downloads/slides/c1/s1/i1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/downloads/slides/c1/s1/i1/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.downloads.startErr = domain.ErrMobileDownloadRestricted
	rec = f.do(t, http.MethodPost, "/api/v1/downloads", start)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodGet, "/api/v1/preferences/mobile-downloads", nil)
	assert.Equal(t, false, decode(t, rec)["allowed"])

	rec = f.do(t, http.MethodPut, "/api/v1/preferences/mobile-downloads", map[string]bool{"allowed": true})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/preferences/mobile-downloads", nil)
	assert.Equal(t, true, decode(t, rec)["allowed"])

	rec = f.do(t, http.MethodPut, "/api/v1/network", map[string]string{"connection_type": "satellite"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/network", map[string]string{"connection_type": "mobile"})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "mobile", body["connection_type"])
	assert.Equal(t, true, body["online"])
}

func TestLogEndpoints(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodGet, "/api/v1/logs/categories", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["categories"], 3)

	rec = f.do(t, http.MethodGet, "/api/v1/logs/downloads", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/v1/logs/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/logs/jobs?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressWebSocket(t *testing.T) {
	f := setupRouter(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/downloads/slides/c1/s1/i1/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []domain.ProgressSnapshot
	for {
		var snap domain.ProgressSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		got = append(got, snap)
	}
	require.Len(t, got, 2)
	assert.True(t, got[1].Terminal)

	_, resp, err := websocket.DefaultDialer.Dial(strings.Replace(wsURL, "/i1/", "/missing/", 1), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
