package app

import (
	"fmt"
	"sync"

	"github.com/Guna-13/xikolo-android/pkg/logger"
	"go.uber.org/zap"
)

// Dispatcher runs callbacks one at a time, in submission order, on a single
// goroutine. Post never blocks: the queue grows instead of stalling a
// producer behind a slow consumer.
type Dispatcher struct {
	multiLogger *logger.MultiLogger
	logger      *zap.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

// NewDispatcher creates a dispatcher; call Start before posting
func NewDispatcher(logger *zap.Logger, multiLogger *logger.MultiLogger) *Dispatcher {
	return &Dispatcher{
		multiLogger: multiLogger,
		logger:      logger,
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start starts the delivery goroutine
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	if d.closed {
		return fmt.Errorf("dispatcher stopped")
	}
	d.running = true
	go d.loop()
	return nil
}

// Post enqueues fn. It reports false once the dispatcher is stopped.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return true
}

// Stop refuses new callbacks, drains the queued ones and waits for the
// goroutine to exit
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	running := d.running
	d.mu.Unlock()

	if !running {
		close(d.done)
		return
	}
	select {
	case d.signal <- struct{}{}:
	default:
	}
	<-d.done
}

// Pending returns the number of queued callbacks
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.signal
			continue
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.run(fn)
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Callback panicked", zap.Any("panic", r))
			d.multiLogger.LogAppError("callback_panic", zap.Any("panic", r))
		}
	}()
	fn()
}
