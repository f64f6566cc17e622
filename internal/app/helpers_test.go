package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore implements domain.ResourceRepository and domain.DownloadRepository
type memStore struct {
	mu        sync.Mutex
	resources map[string]*domain.Resource
	downloads map[string]*domain.Download
	putErr    error
}

func newMemStore() *memStore {
	return &memStore{
		resources: make(map[string]*domain.Resource),
		downloads: make(map[string]*domain.Download),
	}
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func (m *memStore) Get(resourceType, resourceID string) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceKey(resourceType, resourceID)]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (m *memStore) Put(resource *domain.Resource) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return false, m.putErr
	}
	key := resourceKey(resource.ResourceType, resource.ResourceID)
	if existing, ok := m.resources[key]; ok && !resource.NotOlderThan(existing) {
		return false, nil
	}
	c := *resource
	m.resources[key] = &c
	return true, nil
}

func (m *memStore) Delete(resourceType, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, resourceKey(resourceType, resourceID))
	return nil
}

func (m *memStore) PruneResources(olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.resources {
		if r.FetchedAt.Before(olderThan) {
			delete(m.resources, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetDownload(id string) (*domain.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.downloads[id]; ok {
		return d.Clone(), nil
	}
	return nil, nil
}

func (m *memStore) PutDownload(download *domain.Download) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[download.ID] = download.Clone()
	return nil
}

func (m *memStore) DeleteDownload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.downloads, id)
	return nil
}

func (m *memStore) ListDownloads(filter domain.DownloadFilter) ([]*domain.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Download
	for _, d := range m.downloads {
		if filter.CourseID != "" && d.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetStats() (*domain.DownloadStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.DownloadStats{Total: int64(len(m.downloads))}
	for _, d := range m.downloads {
		switch d.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusRunning:
			stats.Running++
		case domain.StatusPaused:
			stats.Paused++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type fakeConnectivity struct {
	mu       sync.Mutex
	connType domain.ConnectionType
}

func newFakeConnectivity(t domain.ConnectionType) *fakeConnectivity {
	return &fakeConnectivity{connType: t}
}

func (c *fakeConnectivity) IsOnline() bool {
	return c.ConnectionType() != domain.ConnectionNone
}

func (c *fakeConnectivity) ConnectionType() domain.ConnectionType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connType
}

func (c *fakeConnectivity) set(t domain.ConnectionType) {
	c.mu.Lock()
	c.connType = t
	c.mu.Unlock()
}

type fakePrefs struct {
	mu          sync.Mutex
	allowMobile bool
}

func (p *fakePrefs) MobileDownloadsAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowMobile
}

func (p *fakePrefs) SetMobileDownloadsAllowed(allowed bool) error {
	p.mu.Lock()
	p.allowMobile = allowed
	p.mu.Unlock()
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *fakeNotifier) NotifyDownloadCompleted(title string) {
	n.mu.Lock()
	n.completed = append(n.completed, title)
	n.mu.Unlock()
}

func (n *fakeNotifier) NotifyDownloadFailed(title string, err error) {
	n.mu.Lock()
	n.failed = append(n.failed, title)
	n.mu.Unlock()
}

func (n *fakeNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.failed)
}

// fakeSource serves in-memory objects under fake:// uris. When hold is set,
// readers stop after holdAfter bytes until hold is closed.
type fakeSource struct {
	mu        sync.Mutex
	objects   map[string][]byte
	etags     map[string]string
	noRange   bool
	openErr   error
	statErr   error
	hold      chan struct{}
	holdAfter int64
	offsets   []int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		objects: make(map[string][]byte),
		etags:   make(map[string]string),
	}
}

func (s *fakeSource) put(uri string, content []byte, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri] = content
	s.etags[uri] = etag
}

func (s *fakeSource) holdAt(n int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	s.holdAfter = n
	return s.hold
}

func (s *fakeSource) noHold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = nil
}

func (s *fakeSource) openedAt() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

func (s *fakeSource) Supports(uri string) bool {
	return strings.HasPrefix(uri, "fake://")
}

func (s *fakeSource) Probe(ctx context.Context, uri string) (domain.RemoteInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statErr != nil {
		return domain.RemoteInfo{}, s.statErr
	}
	content, ok := s.objects[uri]
	if !ok {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %s", domain.ErrNotFound, uri)
	}
	size := int64(len(content))
	if size == 0 {
		size = domain.SizeUnknown
	}
	return domain.RemoteInfo{Size: size, ETag: s.etags[uri]}, nil
}

func (s *fakeSource) Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, offset)
	if s.openErr != nil {
		return nil, 0, s.openErr
	}
	content, ok := s.objects[uri]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrNotFound, uri)
	}
	if s.noRange {
		offset = 0
	}
	if offset > 0 && offset >= int64(len(content)) {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrRangeNotSatisfiable,
			&domain.StatusError{StatusCode: 416, Status: "416 Requested Range Not Satisfiable"})
	}
	return &heldReader{
		ctx:       ctx,
		r:         bytes.NewReader(content[offset:]),
		pos:       offset,
		hold:      s.hold,
		holdAfter: s.holdAfter,
	}, offset, nil
}

type heldReader struct {
	ctx       context.Context
	r         *bytes.Reader
	pos       int64
	hold      chan struct{}
	holdAfter int64
}

func (h *heldReader) Read(p []byte) (int, error) {
	if err := h.ctx.Err(); err != nil {
		return 0, err
	}
	if h.hold != nil && h.pos >= h.holdAfter {
		select {
		case <-h.hold:
			h.hold = nil
		case <-h.ctx.Done():
			return 0, h.ctx.Err()
		}
	}
	if h.hold != nil && int64(len(p)) > h.holdAfter-h.pos {
		p = p[:h.holdAfter-h.pos]
	}
	n, err := h.r.Read(p)
	h.pos += int64(n)
	return n, err
}

func (h *heldReader) Close() error { return nil }

// startDispatcher starts a dispatcher stopped on cleanup
func startDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(zap.NewNop(), nil)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d
}

// startPool starts a worker pool stopped on cleanup
func startPool(t *testing.T, name string, workers, queueSize int) *WorkerPool {
	t.Helper()
	p := NewWorkerPool(name, workers, queueSize, zap.NewNop(), nil)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		if p.IsRunning() {
			_ = p.Stop()
		}
	})
	return p
}

// flush waits until every callback posted so far has run
func flush(t *testing.T, d *Dispatcher) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, d.Post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
}
