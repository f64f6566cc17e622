package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/pkg/logger"
	"go.uber.org/zap"
)

// FetchRequest asks for one resource under a cache policy
type FetchRequest struct {
	ResourceType string
	ResourceID   string
	Policy       domain.CachePolicy
	AuthRequired bool
	URL          string // overrides the route table when set
}

// JobRequest is a network operation that always goes to the network, such as
// creating an enrollment. The result is cached when it names a resource.
type JobRequest struct {
	Method       string
	URL          string
	Payload      []byte
	AuthRequired bool
	ResourceType string
	ResourceID   string
}

// FetchHandler receives results on the dispatcher goroutine
type FetchHandler func(result domain.FetchResult)

// Call is the handle of one Fetch or Send
type Call struct {
	// JobID is empty when the call was answered without a network job
	JobID string

	handler  FetchHandler
	cancel   context.CancelFunc
	canceled atomic.Bool
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	result domain.FetchResult
	hasRes bool

	onFinish func()
}

func newCall(handler FetchHandler) *Call {
	return &Call{handler: handler, done: make(chan struct{})}
}

// Done is closed after the last callback of the call has run, or on Cancel
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the last result delivered. Only meaningful after Done.
func (c *Call) Result() (domain.FetchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.hasRes
}

// Cancel stops further callbacks. The in-flight request is aborted on a
// best-effort basis.
func (c *Call) Cancel() {
	select {
	case <-c.done:
		return
	default:
	}
	if !c.canceled.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.record(domain.FetchResult{JobID: c.JobID, Kind: domain.ResultCanceled, Err: context.Canceled})
	c.close()
}

func (c *Call) record(result domain.FetchResult) {
	c.mu.Lock()
	c.result = result
	c.hasRes = true
	c.mu.Unlock()
}

func (c *Call) close() {
	c.once.Do(func() {
		close(c.done)
		if c.onFinish != nil {
			c.onFinish()
		}
	})
}

// RequestCoordinator decides between cache and network for every fetch and
// runs network jobs on a bounded pool
type RequestCoordinator struct {
	store        domain.ResourceRepository
	transport    domain.Transport
	auth         domain.AuthProvider
	connectivity domain.Connectivity
	mapper       domain.PayloadMapper
	locator      domain.ResourceLocator
	pool         *WorkerPool
	dispatcher   *Dispatcher
	config       *domain.NetworkConfig
	logger       *zap.Logger
	multiLogger  *logger.MultiLogger

	mu    sync.Mutex
	calls map[string]*Call
}

// CoordinatorDeps are the collaborators of a RequestCoordinator
type CoordinatorDeps struct {
	Store        domain.ResourceRepository
	Transport    domain.Transport
	Auth         domain.AuthProvider
	Connectivity domain.Connectivity
	Mapper       domain.PayloadMapper
	Locator      domain.ResourceLocator
	Pool         *WorkerPool
	Dispatcher   *Dispatcher
	Config       *domain.NetworkConfig
	Logger       *zap.Logger
	MultiLogger  *logger.MultiLogger
}

// NewRequestCoordinator creates a coordinator
func NewRequestCoordinator(deps CoordinatorDeps) *RequestCoordinator {
	return &RequestCoordinator{
		store:        deps.Store,
		transport:    deps.Transport,
		auth:         deps.Auth,
		connectivity: deps.Connectivity,
		mapper:       deps.Mapper,
		locator:      deps.Locator,
		pool:         deps.Pool,
		dispatcher:   deps.Dispatcher,
		config:       deps.Config,
		logger:       deps.Logger,
		multiLogger:  deps.MultiLogger,
		calls:        make(map[string]*Call),
	}
}

// Fetch resolves a resource according to req.Policy. handler may be nil when
// the caller only waits on the returned Call.
func (rc *RequestCoordinator) Fetch(req FetchRequest, handler FetchHandler) *Call {
	call := newCall(handler)

	if !domain.ValidatePolicy(req.Policy) {
		rc.finish(call, failure("", fmt.Errorf("invalid cache policy: %q", req.Policy)))
		return call
	}

	var cached *domain.Resource
	if req.Policy != domain.PolicyNetworkOnly {
		var err error
		cached, err = rc.store.Get(req.ResourceType, req.ResourceID)
		if err != nil {
			rc.logger.Warn("Cache read failed",
				zap.String("resource_type", req.ResourceType),
				zap.String("resource_id", req.ResourceID),
				zap.Error(err))
			if req.Policy == domain.PolicyCacheOnly {
				rc.finish(call, failure("", fmt.Errorf("cache read failed: %w", err)))
				return call
			}
			cached = nil
		}
	}

	if req.Policy == domain.PolicyCacheOnly {
		if cached == nil {
			rc.finish(call, failure("", fmt.Errorf("%w: %s/%s not cached", domain.ErrNotFound, req.ResourceType, req.ResourceID)))
			return call
		}
		rc.finish(call, domain.FetchResult{Kind: domain.ResultSuccess, Resource: cached, FromCache: true})
		return call
	}

	if cached != nil {
		rc.deliver(call, domain.FetchResult{Kind: domain.ResultSuccess, Resource: cached, FromCache: true})
	}

	url := req.URL
	if url == "" {
		var err error
		url, err = rc.locator.URLFor(req.ResourceType, req.ResourceID)
		if err != nil {
			rc.failAfter(call, cached != nil, "", err)
			return call
		}
	}

	job := domain.NewJob(http.MethodGet, url, req.AuthRequired, req.Policy, nil)
	job.ResourceType = req.ResourceType
	job.ResourceID = req.ResourceID
	rc.submit(call, job, cached != nil)
	return call
}

// Send runs a network operation. It never consults the cache.
func (rc *RequestCoordinator) Send(req JobRequest, handler FetchHandler) *Call {
	call := newCall(handler)
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	if req.URL == "" {
		rc.finish(call, failure("", fmt.Errorf("%w: request has no url", domain.ErrInvalidURI)))
		return call
	}

	job := domain.NewJob(req.Method, req.URL, req.AuthRequired, domain.PolicyNetworkOnly, req.Payload)
	job.ResourceType = req.ResourceType
	job.ResourceID = req.ResourceID
	rc.submit(call, job, false)
	return call
}

// Cancel cancels the call owning jobID. It reports whether such a call was pending.
func (rc *RequestCoordinator) Cancel(jobID string) bool {
	rc.mu.Lock()
	call, ok := rc.calls[jobID]
	rc.mu.Unlock()
	if !ok {
		return false
	}
	call.Cancel()
	rc.multiLogger.LogJobEvent(domain.JobCanceled.Event(), zap.String("job_id", jobID))
	return true
}

// Pending returns the number of queued or running jobs
func (rc *RequestCoordinator) Pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.calls)
}

// Stop cancels every pending call
func (rc *RequestCoordinator) Stop() {
	rc.mu.Lock()
	calls := make([]*Call, 0, len(rc.calls))
	for _, c := range rc.calls {
		calls = append(calls, c)
	}
	rc.mu.Unlock()

	for _, c := range calls {
		c.Cancel()
	}
}

// submit checks the gates that need no job, then hands the job to the pool
func (rc *RequestCoordinator) submit(call *Call, job *domain.Job, cacheDelivered bool) {
	if !rc.connectivity.IsOnline() {
		rc.failAfter(call, cacheDelivered, "", domain.ErrNoNetwork)
		return
	}
	if job.AuthRequired {
		if _, ok := rc.auth.ResolveAccessToken(); !ok {
			rc.failAfter(call, cacheDelivered, "", domain.ErrAuthRequired)
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	call.JobID = job.ID
	call.cancel = cancel
	call.onFinish = func() {
		cancel()
		rc.mu.Lock()
		delete(rc.calls, job.ID)
		rc.mu.Unlock()
	}

	rc.mu.Lock()
	rc.calls[job.ID] = call
	rc.mu.Unlock()

	rc.multiLogger.LogJobEvent(domain.JobQueued.Event(),
		zap.String("job_id", job.ID),
		zap.String("method", job.Method),
		zap.String("url", job.URL),
		zap.String("policy", string(job.CachePolicy)))

	err := rc.pool.Submit(ctx, func(poolCtx context.Context) {
		runCtx, stop := mergeCancel(ctx, poolCtx)
		defer stop()
		rc.runJob(runCtx, call, job, cacheDelivered)
	})
	if err != nil {
		rc.failAfter(call, cacheDelivered, job.ID, fmt.Errorf("failed to submit job: %w", err))
	}
}

func (rc *RequestCoordinator) runJob(ctx context.Context, call *Call, job *domain.Job, cacheDelivered bool) {
	if call.canceled.Load() {
		return
	}
	rc.multiLogger.LogJobEvent(domain.JobRunning.Event(), zap.String("job_id", job.ID))

	resp, err := rc.execute(ctx, job)
	if err != nil {
		if call.canceled.Load() || ctx.Err() != nil {
			return
		}
		rc.multiLogger.LogJobEvent(domain.JobFailed.Event(), zap.String("job_id", job.ID), zap.Error(err))
		rc.failAfter(call, cacheDelivered, job.ID, err)
		return
	}

	result, deliver, err := rc.writeThrough(job, resp)
	if err != nil {
		rc.multiLogger.LogJobEvent(domain.JobFailed.Event(), zap.String("job_id", job.ID), zap.Error(err))
		rc.failAfter(call, cacheDelivered, job.ID, err)
		return
	}

	rc.multiLogger.LogJobEvent(domain.JobSucceeded.Event(),
		zap.String("job_id", job.ID),
		zap.Int("status", resp.StatusCode),
		zap.Bool("delivered", deliver))

	if !deliver {
		rc.finishSilently(call)
		return
	}
	result.JobID = job.ID
	rc.finish(call, result)
}

// execute performs the job with retries on transient failures. The token is
// resolved again before every attempt.
func (rc *RequestCoordinator) execute(ctx context.Context, job *domain.Job) (*domain.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		if attempt > 0 {
			rc.logger.Info("Retrying job",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", rc.config.MaxRetries),
				zap.Error(lastErr))

			timer := time.NewTimer(rc.config.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		token := ""
		if job.AuthRequired {
			var ok bool
			token, ok = rc.auth.ResolveAccessToken()
			if !ok {
				return nil, domain.ErrAuthRequired
			}
		}

		resp, err := rc.transport.Do(ctx, job, token)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errors.Is(err, domain.ErrTransient) {
			return nil, err
		}
	}
	return nil, lastErr
}

// writeThrough writes the response through the cache. deliver is false when the
// write lost against a fresher stored copy that the caller has already seen.
func (rc *RequestCoordinator) writeThrough(job *domain.Job, resp *domain.Response) (domain.FetchResult, bool, error) {
	resource := &domain.Resource{
		ResourceType: job.ResourceType,
		ResourceID:   job.ResourceID,
		ETag:         resp.ETag,
		Version:      resp.Version,
		FetchedAt:    resp.ReceivedAt,
	}

	if len(resp.Body) > 0 {
		payload, err := rc.mapper.ToPayload(job.ResourceType, resp.Body)
		if err != nil {
			return domain.FetchResult{}, false, err
		}
		resource.Payload = payload
	}

	if !job.HasResource() {
		return domain.FetchResult{Kind: domain.ResultSuccess, Resource: resource}, true, nil
	}

	applied, err := rc.store.Put(resource)
	if err != nil {
		return domain.FetchResult{}, false, fmt.Errorf("failed to cache response: %w", err)
	}
	if applied {
		return domain.FetchResult{Kind: domain.ResultSuccess, Resource: resource}, true, nil
	}

	rc.logger.Debug("Discarded stale response",
		zap.String("job_id", job.ID),
		zap.String("resource_type", job.ResourceType),
		zap.String("resource_id", job.ResourceID),
		zap.Int64("version", resp.Version))

	if job.CachePolicy == domain.PolicyCacheThenNetwork {
		return domain.FetchResult{}, false, nil
	}

	stored, err := rc.store.Get(job.ResourceType, job.ResourceID)
	if err != nil || stored == nil {
		// the fresher copy vanished between Put and Get
		return domain.FetchResult{Kind: domain.ResultSuccess, Resource: resource}, true, nil
	}
	return domain.FetchResult{Kind: domain.ResultSuccess, Resource: stored, FromCache: true}, true, nil
}

// failAfter delivers err, unless a cached copy was already delivered, in
// which case it is only logged
func (rc *RequestCoordinator) failAfter(call *Call, cacheDelivered bool, jobID string, err error) {
	if cacheDelivered {
		rc.logger.Warn("Refresh after cache hit failed",
			zap.String("job_id", jobID),
			zap.Error(err))
		rc.finishSilently(call)
		return
	}
	rc.finish(call, failure(jobID, err))
}

func failure(jobID string, err error) domain.FetchResult {
	return domain.FetchResult{JobID: jobID, Kind: domain.ResultFailure, Err: err}
}

func (rc *RequestCoordinator) deliver(call *Call, result domain.FetchResult) {
	rc.post(call, func() {
		call.record(result)
		if call.handler != nil {
			call.handler(result)
		}
	})
}

func (rc *RequestCoordinator) finish(call *Call, result domain.FetchResult) {
	rc.post(call, func() {
		call.record(result)
		if call.handler != nil {
			call.handler(result)
		}
		call.close()
	})
}

func (rc *RequestCoordinator) finishSilently(call *Call) {
	rc.post(call, call.close)
}

func (rc *RequestCoordinator) post(call *Call, fn func()) {
	ok := rc.dispatcher.Post(func() {
		if call.canceled.Load() {
			return
		}
		fn()
	})
	if !ok {
		call.Cancel()
	}
}

// mergeCancel returns a context canceled when either parent is
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
