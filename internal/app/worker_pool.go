package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/Guna-13/xikolo-android/pkg/logger"
	"go.uber.org/zap"
)

// Task is one unit of work run by a WorkerPool
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of goroutines draining a buffered
// channel. Submit blocks while the buffer is full.
type WorkerPool struct {
	name        string
	workers     int
	tasks       chan Task
	logger      *zap.Logger
	multiLogger *logger.MultiLogger

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	workerWg sync.WaitGroup
	active   int
}

// NewWorkerPool creates a pool with the given concurrency and buffer size
func NewWorkerPool(name string, workers, queueSize int, logger *zap.Logger, multiLogger *logger.MultiLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		name:        name,
		workers:     workers,
		tasks:       make(chan Task, queueSize),
		logger:      logger,
		multiLogger: multiLogger,
		stopChan:    make(chan struct{}),
	}
}

// Start starts the workers. ctx is handed to every task.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("%s pool already running", p.name)
	}
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.workerWg.Add(1)
		go p.work(ctx)
	}

	p.logger.Debug("Worker pool started",
		zap.String("pool", p.name),
		zap.Int("workers", p.workers))
	return nil
}

// Stop stops the workers after their current task and waits for them.
// Tasks still buffered are dropped.
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("%s pool not running", p.name)
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.workerWg.Wait()

	p.logger.Debug("Worker pool stopped", zap.String("pool", p.name))
	return nil
}

// IsRunning returns whether the pool is running
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Submit queues a task. It fails when the pool is stopped or ctx ends first.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	if !running {
		return fmt.Errorf("%s pool not running", p.name)
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.stopChan:
		return fmt.Errorf("%s pool stopped", p.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of tasks waiting for a worker
func (p *WorkerPool) QueueDepth() int {
	return len(p.tasks)
}

// Active returns the number of tasks currently running
func (p *WorkerPool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *WorkerPool) work(ctx context.Context) {
	defer p.workerWg.Done()
	for {
		// prefer stopping over picking up more work
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.run(ctx, task)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, task Task) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", zap.String("pool", p.name), zap.Any("panic", r))
			p.multiLogger.LogAppError("task_panic", zap.String("pool", p.name), zap.Any("panic", r))
		}
	}()
	task(ctx)
}
