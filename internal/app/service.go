package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/internal/infrastructure"
	"github.com/Guna-13/xikolo-android/pkg/logger"
	"go.uber.org/zap"
)

// Service owns every long-lived component of the sync layer
type Service struct {
	Config       *domain.Config
	Store        *infrastructure.SQLiteCacheStore
	Preferences  *infrastructure.SQLitePreferences
	Connectivity *infrastructure.ReportedConnectivity
	Tokens       *infrastructure.TokenStore
	Health       *infrastructure.HealthChecker
	Coordinator  *RequestCoordinator
	Downloads    *DownloadManager
	Progress     *ProgressTracker

	dispatcher   *Dispatcher
	jobPool      *WorkerPool
	downloadPool *WorkerPool
	maintenance  *Maintenance
	watcher      *infrastructure.StorageWatcher
	blobSource   *infrastructure.BlobSource
	logger       *zap.Logger
	multiLogger  *logger.MultiLogger
}

// NewService opens the store and builds the components. Nothing runs until
// Start is called.
func NewService(ctx context.Context, cfg *domain.Config, log *zap.Logger, multiLog *logger.MultiLogger) (*Service, error) {
	for _, dir := range []string{cfg.Download.BaseDir, cfg.Download.FilesDir(), cfg.Download.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	store, err := infrastructure.NewSQLiteCacheStore(cfg.Cache.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	routes, err := infrastructure.NewRouteTable(cfg.API)
	if err != nil {
		store.Close()
		return nil, err
	}

	health, err := infrastructure.NewHealthChecker(cfg.API, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Service{
		Config:       cfg,
		Store:        store,
		Preferences:  infrastructure.NewSQLitePreferences(store, cfg.Download.AllowMobile),
		Connectivity: infrastructure.NewReportedConnectivity(cfg.Network.ConnectionType),
		Tokens:       infrastructure.NewTokenStore(cfg.Auth.TokenFile, cfg.Auth.TokenEnv),
		Health:       health,
		dispatcher:   NewDispatcher(log, multiLog),
		jobPool:      NewWorkerPool("jobs", cfg.Network.Workers, cfg.Network.QueueSize, log, multiLog),
		downloadPool: NewWorkerPool("downloads", cfg.Download.ConcurrentLimit, cfg.Download.QueueSize, log, multiLog),
		logger:       log,
		multiLogger:  multiLog,
	}

	sources := []domain.RemoteSource{infrastructure.NewHTTPSource(cfg.API, routes.Host(), s.Tokens, log)}
	if cfg.Download.BlobBucketURL != "" {
		blobSource, err := infrastructure.OpenBlobSource(ctx, cfg.Download.BlobBucketURL)
		if err != nil {
			store.Close()
			return nil, err
		}
		s.blobSource = blobSource
		sources = append(sources, blobSource)
	}

	var notifier domain.Notifier
	if cfg.Notification.Enabled {
		notifier = infrastructure.NewNotificationService(&cfg.Notification, log)
	}

	s.Coordinator = NewRequestCoordinator(CoordinatorDeps{
		Store:        store,
		Transport:    infrastructure.NewHTTPTransport(cfg.API, log),
		Auth:         s.Tokens,
		Connectivity: s.Connectivity,
		Mapper:       infrastructure.JSONPassthroughMapper{},
		Locator:      routes,
		Pool:         s.jobPool,
		Dispatcher:   s.dispatcher,
		Config:       &cfg.Network,
		Logger:       log,
		MultiLogger:  multiLog,
	})

	s.Downloads = NewDownloadManager(DownloadManagerDeps{
		Repo:         store,
		Source:       infrastructure.NewSourceRouter(sources...),
		Connectivity: s.Connectivity,
		Preferences:  s.Preferences,
		Notifier:     notifier,
		Pool:         s.downloadPool,
		Dispatcher:   s.dispatcher,
		Config:       &cfg.Download,
		Logger:       log,
		MultiLogger:  multiLog,
	})

	s.Progress = NewProgressTracker(s.Downloads, s.dispatcher, cfg.Download.ProgressInterval, log)
	s.maintenance = NewMaintenance(store, health, cfg.Cache, cfg.Network.HealthCheckInterval, log, multiLog)
	if cfg.Download.WatchFiles {
		s.watcher = infrastructure.NewStorageWatcher(cfg.Download.FilesDir(), s.Downloads.HandleFileRemoved, log)
	}
	return s, nil
}

// Start reconciles stored downloads and starts the background components
func (s *Service) Start(ctx context.Context) error {
	if err := s.dispatcher.Start(); err != nil {
		return err
	}
	if err := s.Downloads.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover downloads: %w", err)
	}
	if err := s.jobPool.Start(ctx); err != nil {
		return err
	}
	if err := s.downloadPool.Start(ctx); err != nil {
		return err
	}
	if err := s.maintenance.Start(); err != nil {
		return err
	}
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.logger.Warn("Storage watcher disabled", zap.Error(err))
			s.watcher = nil
		}
	}

	version, _ := s.Store.SchemaVersion()
	s.logger.Info("Sync service started",
		zap.Int("schema_version", version),
		zap.Int("job_workers", s.Config.Network.Workers),
		zap.Int("download_workers", s.Config.Download.ConcurrentLimit),
		zap.String("api", redactURL(s.Config.API.BaseURL)))
	return nil
}

// Stop interrupts running work and releases every resource. Transfers are
// recorded as failed so they can be resumed on the next start.
func (s *Service) Stop(ctx context.Context) error {
	var errs []error

	if s.watcher != nil {
		errs = append(errs, s.watcher.Stop())
	}
	s.maintenance.Stop()
	s.Progress.Stop()
	s.Coordinator.Stop()
	errs = append(errs, s.Downloads.Stop(ctx))

	for _, p := range []*WorkerPool{s.jobPool, s.downloadPool} {
		if p.IsRunning() {
			errs = append(errs, p.Stop())
		}
	}
	s.dispatcher.Stop()

	if s.blobSource != nil {
		errs = append(errs, s.blobSource.Close())
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}

// redactURL drops credentials from a URL before it is logged
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
