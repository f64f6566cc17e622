package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/pkg/logger"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// HealthCheck probes the remote API
type HealthCheck interface {
	Check(ctx context.Context) domain.APIHealth
}

// Maintenance runs the periodic background jobs: pruning stale cache
// entries and checking API health
type Maintenance struct {
	scheduler   *gocron.Scheduler
	store       domain.ResourceRepository
	health      HealthCheck
	cacheConfig domain.CacheConfig
	interval    time.Duration
	logger      *zap.Logger
	multiLogger *logger.MultiLogger
}

// NewMaintenance creates the scheduler. health may be nil.
func NewMaintenance(store domain.ResourceRepository, health HealthCheck, cacheConfig domain.CacheConfig, healthInterval time.Duration, logger *zap.Logger, multiLogger *logger.MultiLogger) *Maintenance {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Maintenance{
		scheduler:   s,
		store:       store,
		health:      health,
		cacheConfig: cacheConfig,
		interval:    healthInterval,
		logger:      logger,
		multiLogger: multiLogger,
	}
}

// Start schedules the jobs and starts the scheduler. A zero interval
// disables the corresponding job.
func (m *Maintenance) Start() error {
	if m.cacheConfig.PruneInterval > 0 && m.cacheConfig.MaxAge > 0 {
		m.logger.Info("Scheduling cache prune",
			zap.Duration("interval", m.cacheConfig.PruneInterval),
			zap.Duration("max_age", m.cacheConfig.MaxAge))
		if _, err := m.scheduler.Every(m.cacheConfig.PruneInterval).Do(m.pruneJob); err != nil {
			return fmt.Errorf("failed to schedule cache prune: %w", err)
		}
	} else {
		m.logger.Info("Cache prune interval is 0, scheduled prune is disabled")
	}

	if m.health != nil && m.interval > 0 {
		m.logger.Info("Scheduling API health check", zap.Duration("interval", m.interval))
		if _, err := m.scheduler.Every(m.interval).Do(m.healthJob); err != nil {
			return fmt.Errorf("failed to schedule health check: %w", err)
		}
	}

	m.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler
func (m *Maintenance) Stop() {
	m.scheduler.Stop()
}

// Prune removes resources older than the configured max age
func (m *Maintenance) Prune() (int64, error) {
	cutoff := time.Now().Add(-m.cacheConfig.MaxAge)
	n, err := m.store.PruneResources(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return n, nil
}

func (m *Maintenance) pruneJob() {
	n, err := m.Prune()
	if err != nil {
		m.logger.Error("Scheduled cache prune failed", zap.Error(err))
		m.multiLogger.LogAppError("cache_prune_failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("Pruned cached resources", zap.Int64("removed", n))
	}
}

func (m *Maintenance) healthJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	m.health.Check(ctx)
}
