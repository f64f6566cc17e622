package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/pkg/logger"
	"go.uber.org/zap"
)

// StartRequest describes a download to start or resume
type StartRequest struct {
	Identity  domain.DownloadIdentity `json:"identity"`
	RemoteURI string                  `json:"remote_uri"`
	Title     string                  `json:"title,omitempty"`
}

// DownloadManager owns the lifecycle of file downloads
type DownloadManager struct {
	repo         domain.DownloadRepository
	source       domain.RemoteSource
	connectivity domain.Connectivity
	prefs        domain.Preferences
	notifier     domain.Notifier
	pool         *WorkerPool
	dispatcher   *Dispatcher
	config       *domain.DownloadConfig
	logger       *zap.Logger
	multiLogger  *logger.MultiLogger

	mu        sync.Mutex
	active    map[string]*transfer
	listeners map[int]func(event domain.DownloadEvent)
	nextID    int
	stopped   bool

	// interrupted runs between stopping a transfer and removing its record
	interrupted func(id string)
}

// DownloadManagerDeps are the collaborators of a DownloadManager
type DownloadManagerDeps struct {
	Repo         domain.DownloadRepository
	Source       domain.RemoteSource
	Connectivity domain.Connectivity
	Preferences  domain.Preferences
	Notifier     domain.Notifier
	Pool         *WorkerPool
	Dispatcher   *Dispatcher
	Config       *domain.DownloadConfig
	Logger       *zap.Logger
	MultiLogger  *logger.MultiLogger
}

// NewDownloadManager creates a new download manager
func NewDownloadManager(deps DownloadManagerDeps) *DownloadManager {
	return &DownloadManager{
		repo:         deps.Repo,
		source:       deps.Source,
		connectivity: deps.Connectivity,
		prefs:        deps.Preferences,
		notifier:     deps.Notifier,
		pool:         deps.Pool,
		dispatcher:   deps.Dispatcher,
		config:       deps.Config,
		logger:       deps.Logger,
		multiLogger:  deps.MultiLogger,
		active:       make(map[string]*transfer),
		listeners:    make(map[int]func(event domain.DownloadEvent)),
	}
}

// StartDownload queues a transfer for the identity. An identity that is
// already queued or running is returned as is; a completed download whose
// file is still present is not downloaded again.
func (dm *DownloadManager) StartDownload(ctx context.Context, req StartRequest) (*domain.Download, error) {
	if err := req.Identity.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.RemoteURI) == "" || !dm.source.Supports(req.RemoteURI) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURI, req.RemoteURI)
	}
	if err := dm.checkNetwork(); err != nil {
		return nil, err
	}

	id := req.Identity.Key()

	dm.mu.Lock()
	if dm.stopped {
		dm.mu.Unlock()
		return nil, fmt.Errorf("download manager stopped")
	}
	if t, ok := dm.active[id]; ok {
		dm.mu.Unlock()
		return t.snapshot(), nil
	}

	existing, err := dm.repo.GetDownload(id)
	if err != nil {
		dm.mu.Unlock()
		return nil, fmt.Errorf("failed to load download: %w", err)
	}

	download := existing
	if download == nil {
		localPath := filepath.Join(dm.config.FilesDir(), filepath.FromSlash(req.Identity.RelativePath()))
		download = domain.NewDownload(req.Identity, req.RemoteURI, localPath, req.Title)
	} else {
		if download.Status == domain.StatusCompleted && fileExists(download.LocalPath) && download.RemoteURI == req.RemoteURI {
			dm.mu.Unlock()
			return download, nil
		}
		dm.prepareRestart(download, req)
	}

	download.MarkQueued()
	if err := dm.repo.PutDownload(download); err != nil {
		dm.mu.Unlock()
		return nil, fmt.Errorf("failed to persist download: %w", err)
	}

	t := newTransfer(download)
	dm.active[id] = t
	queued := download.Clone()
	dm.emit(domain.DownloadEvent{Download: queued})
	dm.mu.Unlock()

	// Submit blocks while the queue is full; workers need dm.mu to finish
	if err := dm.pool.Submit(ctx, func(context.Context) { dm.work(t) }); err != nil {
		if t.claim.CompareAndSwap(claimPending, claimControl) {
			dm.finalize(t, fmt.Errorf("failed to schedule transfer: %w", err))
		}
		return nil, fmt.Errorf("failed to schedule transfer: %w", err)
	}

	dm.multiLogger.LogDownloadEvent("download_queued",
		zap.String("download_id", id),
		zap.String("remote_uri", req.RemoteURI))
	dm.logger.Info("Download queued", zap.String("download_id", id))
	return queued, nil
}

// prepareRestart resets the parts of a stored record that no longer hold
func (dm *DownloadManager) prepareRestart(d *domain.Download, req StartRequest) {
	if req.Title != "" {
		d.Title = req.Title
	}
	if d.RemoteURI != req.RemoteURI {
		removeFile(d.PartialPath(), dm.logger)
		d.RemoteURI = req.RemoteURI
		d.RemoteETag = ""
		d.TotalSizeBytes = domain.SizeUnknown
		d.BytesDownloadedSoFar = 0
	}
	if d.Status == domain.StatusCompleted {
		// the finished file is gone; start over
		d.TotalSizeBytes = domain.SizeUnknown
		d.BytesDownloadedSoFar = 0
	}
}

func (dm *DownloadManager) checkNetwork() error {
	if !dm.connectivity.IsOnline() {
		return domain.ErrNoNetwork
	}
	if dm.connectivity.ConnectionType() == domain.ConnectionMobile && !dm.prefs.MobileDownloadsAllowed() {
		return domain.ErrMobileDownloadRestricted
	}
	return nil
}

// work is the pool task of one transfer
func (dm *DownloadManager) work(t *transfer) {
	if !t.claim.CompareAndSwap(claimPending, claimWorker) {
		return
	}
	err := dm.runTransfer(t)
	dm.finalize(t, err)
}

// finalize publishes the terminal state of a transfer and releases its
// identity. Any file handle of the transfer is closed by now.
func (dm *DownloadManager) finalize(t *transfer, err error) {
	cause := context.Cause(t.ctx)
	if err == nil {
		cause = nil
	}

	var event domain.DownloadEvent
	notify := func() {}

	dm.mu.Lock()
	d := t.snapshot()
	switch {
	case err == nil:
		dm.persist(d)
		event = domain.DownloadEvent{Download: d}
		dm.multiLogger.LogDownloadEvent("download_completed",
			zap.String("download_id", d.ID),
			zap.Int64("size", d.TotalSizeBytes))
		notify = func() { dm.notifier.NotifyDownloadCompleted(displayTitle(d)) }

	case errors.Is(cause, errPaused):
		d = t.update(func(d *domain.Download) { d.MarkPaused() })
		dm.persist(d)
		event = domain.DownloadEvent{Download: d}
		dm.multiLogger.LogDownloadEvent("download_paused",
			zap.String("download_id", d.ID),
			zap.Int64("bytes", d.BytesDownloadedSoFar))

	case errors.Is(cause, errCanceled), errors.Is(cause, errDeleted):
		removeFile(d.PartialPath(), dm.logger)
		if errors.Is(cause, errDeleted) {
			removeFile(d.LocalPath, dm.logger)
		}
		if derr := dm.repo.DeleteDownload(d.ID); derr != nil {
			dm.logger.Error("Failed to delete download record", zap.String("download_id", d.ID), zap.Error(derr))
		}
		d = t.update(func(d *domain.Download) { d.MarkCanceled() })
		event = domain.DownloadEvent{Download: d, Removed: true}
		dm.multiLogger.LogDownloadEvent("download_removed",
			zap.String("download_id", d.ID),
			zap.String("reason", cause.Error()))

	case errors.Is(cause, errShutdown):
		d = t.update(func(d *domain.Download) { d.MarkFailed(errShutdown) })
		dm.persist(d)
		event = domain.DownloadEvent{Download: d}
		dm.multiLogger.LogDownloadEvent("download_interrupted", zap.String("download_id", d.ID))

	default:
		failure := domain.TransferError(err)
		d = t.update(func(d *domain.Download) { d.MarkFailed(failure) })
		dm.persist(d)
		event = domain.DownloadEvent{Download: d}
		dm.multiLogger.LogDownloadEvent("download_failed",
			zap.String("download_id", d.ID),
			zap.Error(failure))
		dm.logger.Warn("Download failed", zap.String("download_id", d.ID), zap.Error(failure))
		notify = func() { dm.notifier.NotifyDownloadFailed(displayTitle(d), failure) }
	}

	delete(dm.active, d.ID)
	close(t.done)
	dm.mu.Unlock()

	dm.emit(event)
	if dm.notifier != nil {
		notify()
	}
}

// interrupt signals cause to the transfer of id, if any, and waits until it
// has published its terminal state. It reports whether a transfer was active.
func (dm *DownloadManager) interrupt(ctx context.Context, id string, cause error) (bool, error) {
	dm.mu.Lock()
	t, ok := dm.active[id]
	dm.mu.Unlock()
	if !ok {
		return false, nil
	}

	t.cancel(cause)
	if t.claim.CompareAndSwap(claimPending, claimControl) {
		// never reached a worker
		dm.finalize(t, cause)
		return true, nil
	}

	select {
	case <-t.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// PauseDownload stops a queued or running transfer, keeping the partial file
func (dm *DownloadManager) PauseDownload(ctx context.Context, identity domain.DownloadIdentity) (*domain.Download, error) {
	id := identity.Key()
	wasActive, err := dm.interrupt(ctx, id, errPaused)
	if err != nil {
		return nil, err
	}

	d, err := dm.repo.GetDownload(id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	if !wasActive && d.Status != domain.StatusPaused {
		return nil, fmt.Errorf("%w: cannot pause a %s download", domain.ErrInvalidState, d.Status)
	}
	return d, nil
}

// CancelDownload stops the transfer and removes its partial file and record
func (dm *DownloadManager) CancelDownload(ctx context.Context, identity domain.DownloadIdentity) error {
	id := identity.Key()
	wasActive, err := dm.interrupt(ctx, id, errCanceled)
	if err != nil {
		return err
	}
	if dm.interrupted != nil {
		dm.interrupted(id)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, ok := dm.active[id]; ok {
		return fmt.Errorf("%w: download %s was restarted", domain.ErrInvalidState, id)
	}

	d, err := dm.repo.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		if wasActive {
			return nil
		}
		return fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	if d.Status == domain.StatusCompleted {
		return fmt.Errorf("%w: download %s is already completed", domain.ErrInvalidState, id)
	}

	removeFile(d.PartialPath(), dm.logger)
	if err := dm.repo.DeleteDownload(id); err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	d.MarkCanceled()
	dm.emit(domain.DownloadEvent{Download: d, Removed: true})
	dm.multiLogger.LogDownloadEvent("download_removed",
		zap.String("download_id", id),
		zap.String("reason", errCanceled.Error()))
	return nil
}

// DeleteDownload removes the download in any state together with its files.
// Deleting an unknown download is not an error.
func (dm *DownloadManager) DeleteDownload(ctx context.Context, identity domain.DownloadIdentity) error {
	id := identity.Key()
	if _, err := dm.interrupt(ctx, id, errDeleted); err != nil {
		return err
	}
	if dm.interrupted != nil {
		dm.interrupted(id)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, ok := dm.active[id]; ok {
		return fmt.Errorf("%w: download %s was restarted", domain.ErrInvalidState, id)
	}

	d, err := dm.repo.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}

	removeFile(d.PartialPath(), dm.logger)
	removeFile(d.LocalPath, dm.logger)
	if err := dm.repo.DeleteDownload(id); err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	dm.emit(domain.DownloadEvent{Download: d, Removed: true})
	dm.multiLogger.LogDownloadEvent("download_removed",
		zap.String("download_id", id),
		zap.String("reason", errDeleted.Error()))
	return nil
}

// GetDownload returns the current state or nil when the identity is unknown
func (dm *DownloadManager) GetDownload(identity domain.DownloadIdentity) (*domain.Download, error) {
	id := identity.Key()
	dm.mu.Lock()
	t, ok := dm.active[id]
	dm.mu.Unlock()
	if ok {
		return t.snapshot(), nil
	}
	return dm.repo.GetDownload(id)
}

// ListDownloads lists downloads, overlaying live progress of active transfers
func (dm *DownloadManager) ListDownloads(filter domain.DownloadFilter) ([]*domain.Download, error) {
	downloads, err := dm.repo.ListDownloads(filter)
	if err != nil {
		return nil, err
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	for i, d := range downloads {
		if t, ok := dm.active[d.ID]; ok {
			downloads[i] = t.snapshot()
		}
	}
	if filter.Status != "" {
		kept := downloads[:0]
		for _, d := range downloads {
			if d.Status == filter.Status {
				kept = append(kept, d)
			}
		}
		downloads = kept
	}
	sort.SliceStable(downloads, func(i, j int) bool {
		return downloads[i].CreatedAt.After(downloads[j].CreatedAt)
	})
	return downloads, nil
}

// GetStats returns download statistics
func (dm *DownloadManager) GetStats() (*domain.DownloadStats, error) {
	stats, err := dm.repo.GetStats()
	if err != nil {
		return nil, err
	}
	if dm.pool != nil {
		stats.QueueDepth = dm.pool.QueueDepth()
	}
	return stats, nil
}

// HasActiveDownloads reports whether any transfer is queued or running
func (dm *DownloadManager) HasActiveDownloads() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.active) > 0
}

// Progress returns a live snapshot of the download
func (dm *DownloadManager) Progress(identity domain.DownloadIdentity) (domain.ProgressSnapshot, error) {
	d, err := dm.GetDownload(identity)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if d == nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: download %s", domain.ErrNotFound, identity.Key())
	}
	return domain.SnapshotOf(d, time.Now()), nil
}

// OnStateChange registers a listener, called on the dispatcher for every
// state change, and returns its unsubscribe function
func (dm *DownloadManager) OnStateChange(listener func(event domain.DownloadEvent)) func() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	id := dm.nextID
	dm.nextID++
	dm.listeners[id] = listener
	return func() {
		dm.mu.Lock()
		delete(dm.listeners, id)
		dm.mu.Unlock()
	}
}

// emit posts event to every listener. It must not block: it may be called
// with dm.mu held.
func (dm *DownloadManager) emit(event domain.DownloadEvent) {
	if dm.dispatcher == nil {
		return
	}
	dm.dispatcher.Post(func() {
		dm.mu.Lock()
		listeners := make([]func(event domain.DownloadEvent), 0, len(dm.listeners))
		for _, l := range dm.listeners {
			listeners = append(listeners, l)
		}
		dm.mu.Unlock()
		for _, l := range listeners {
			l(event)
		}
	})
}

// Recover reconciles records left behind by a previous process: transfers
// that were queued or running become failed with their partial file kept,
// and completed records whose file is gone are removed.
func (dm *DownloadManager) Recover(ctx context.Context) error {
	downloads, err := dm.repo.ListDownloads(domain.DownloadFilter{})
	if err != nil {
		return fmt.Errorf("failed to list downloads: %w", err)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	var interrupted, removed int
	for _, d := range downloads {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := dm.active[d.ID]; ok {
			continue
		}
		switch {
		case d.IsActive():
			if st, err := os.Stat(d.PartialPath()); err == nil {
				d.UpdateProgress(st.Size())
			}
			d.MarkFailed(errShutdown)
			dm.persist(d)
			interrupted++
		case d.Status == domain.StatusCompleted && !fileExists(d.LocalPath):
			if err := dm.repo.DeleteDownload(d.ID); err != nil {
				return fmt.Errorf("failed to delete download: %w", err)
			}
			removed++
		}
	}

	if interrupted > 0 || removed > 0 {
		dm.logger.Info("Recovered downloads",
			zap.Int("interrupted", interrupted),
			zap.Int("missing_files", removed))
	}
	return nil
}

// HandleFileRemoved drops the completed record owning path. It is called
// when a finished file disappears from storage.
func (dm *DownloadManager) HandleFileRemoved(path string) {
	downloads, err := dm.repo.ListDownloads(domain.DownloadFilter{Status: domain.StatusCompleted})
	if err != nil {
		dm.logger.Warn("Failed to list downloads", zap.Error(err))
		return
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, d := range downloads {
		if filepath.Clean(d.LocalPath) != filepath.Clean(path) || fileExists(d.LocalPath) {
			continue
		}
		if _, ok := dm.active[d.ID]; ok {
			continue
		}
		if err := dm.repo.DeleteDownload(d.ID); err != nil {
			dm.logger.Warn("Failed to delete download", zap.String("download_id", d.ID), zap.Error(err))
			continue
		}
		dm.emit(domain.DownloadEvent{Download: d, Removed: true})
		dm.multiLogger.LogDownloadEvent("download_removed",
			zap.String("download_id", d.ID),
			zap.String("reason", "file removed"))
	}
}

// Stop interrupts every transfer, recording it as failed, and waits for the
// transfers to release their files
func (dm *DownloadManager) Stop(ctx context.Context) error {
	dm.mu.Lock()
	dm.stopped = true
	ids := make([]string, 0, len(dm.active))
	for id := range dm.active {
		ids = append(ids, id)
	}
	dm.mu.Unlock()

	for _, id := range ids {
		if _, err := dm.interrupt(ctx, id, errShutdown); err != nil {
			return err
		}
	}
	return nil
}

func (dm *DownloadManager) persist(d *domain.Download) {
	if err := dm.repo.PutDownload(d); err != nil {
		dm.logger.Error("Failed to persist download", zap.String("download_id", d.ID), zap.Error(err))
		dm.multiLogger.LogAppError("persist_download_failed", zap.String("download_id", d.ID), zap.Error(err))
	}
}

func displayTitle(d *domain.Download) string {
	if d.Title != "" {
		return d.Title
	}
	return d.ID
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func removeFile(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove file", zap.String("path", path), zap.Error(err))
	}
}
