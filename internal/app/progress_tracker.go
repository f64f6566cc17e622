package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressSource yields live snapshots of a download
type ProgressSource interface {
	Progress(identity domain.DownloadIdentity) (domain.ProgressSnapshot, error)
}

// ProgressHandler receives snapshots on the dispatcher
type ProgressHandler func(snapshot domain.ProgressSnapshot)

// ProgressTracker polls downloads and reports their byte counts at a fixed
// interval
type ProgressTracker struct {
	source     ProgressSource
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	subs map[string]*ProgressSubscription
}

// ProgressSubscription is a handle on one running observation
type ProgressSubscription struct {
	ID       string
	Identity domain.DownloadIdentity

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Stop ends the subscription; no snapshot is delivered afterwards
func (s *ProgressSubscription) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once the subscription has ended
func (s *ProgressSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *ProgressSubscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// NewProgressTracker creates a tracker polling source every interval
func NewProgressTracker(source ProgressSource, dispatcher *Dispatcher, interval time.Duration, logger *zap.Logger) *ProgressTracker {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &ProgressTracker{
		source:     source,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		subs:       make(map[string]*ProgressSubscription),
	}
}

// Subscribe starts observing the download. Snapshots are delivered while it
// runs; a queued download is waited for. When the download leaves the
// running state one final snapshot with Terminal set is delivered and the
// subscription ends. A download that has already finished yields just that
// final snapshot.
func (pt *ProgressTracker) Subscribe(identity domain.DownloadIdentity, handler ProgressHandler) (*ProgressSubscription, error) {
	first, err := pt.source.Progress(identity)
	if err != nil {
		return nil, err
	}

	sub := &ProgressSubscription{
		ID:       uuid.New().String(),
		Identity: identity,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	pt.mu.Lock()
	pt.subs[sub.ID] = sub
	pt.mu.Unlock()

	go pt.observe(sub, first, handler)
	return sub, nil
}

// Stream is Subscribe as a channel. The channel is closed after the final
// snapshot or when ctx ends.
func (pt *ProgressTracker) Stream(ctx context.Context, identity domain.DownloadIdentity) (<-chan domain.ProgressSnapshot, error) {
	ch := make(chan domain.ProgressSnapshot, 16)
	var closeOnce sync.Once
	var mu sync.Mutex
	closed := false

	sub, err := pt.Subscribe(identity, func(s domain.ProgressSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- s:
		default:
			// slow reader; newer snapshots supersede this one
			if s.Terminal {
				select {
				case <-ch:
				default:
				}
				ch <- s
			}
		}
	})
	if err != nil {
		return nil, err
	}

	finish := func() {
		closeOnce.Do(func() {
			// close after every queued delivery has run
			if pt.dispatcher == nil || !pt.dispatcher.Post(func() {
				mu.Lock()
				closed = true
				close(ch)
				mu.Unlock()
			}) {
				mu.Lock()
				closed = true
				close(ch)
				mu.Unlock()
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.Done():
		}
		finish()
	}()
	return ch, nil
}

// Active returns the number of running subscriptions
func (pt *ProgressTracker) Active() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.subs)
}

// Stop ends every subscription
func (pt *ProgressTracker) Stop() {
	pt.mu.Lock()
	subs := make([]*ProgressSubscription, 0, len(pt.subs))
	for _, s := range pt.subs {
		subs = append(subs, s)
	}
	pt.mu.Unlock()

	for _, s := range subs {
		s.Stop()
		<-s.done
	}
}

func (pt *ProgressTracker) observe(sub *ProgressSubscription, snapshot domain.ProgressSnapshot, handler ProgressHandler) {
	defer func() {
		pt.mu.Lock()
		delete(pt.subs, sub.ID)
		pt.mu.Unlock()
		close(sub.done)
	}()

	ticker := time.NewTicker(pt.interval)
	defer ticker.Stop()

	seenActive := false
	fresh := true
	for {
		switch snapshot.Status {
		case domain.StatusRunning:
			seenActive = true
			if fresh {
				pt.deliver(sub, snapshot, handler)
			}
		case domain.StatusQueued:
			seenActive = true
		default:
			if seenActive || snapshot.Status != domain.StatusNotStarted {
				snapshot.Terminal = true
				pt.deliver(sub, snapshot, handler)
				return
			}
		}

		select {
		case <-sub.stop:
			return
		case <-ticker.C:
		}

		next, err := pt.source.Progress(sub.Identity)
		fresh = err == nil
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// removed while observed
			snapshot.Status = domain.StatusCanceled
			snapshot.Timestamp = time.Now()
			snapshot.Terminal = true
			pt.deliver(sub, snapshot, handler)
			return
		case err != nil:
			pt.logger.Warn("Failed to read download progress",
				zap.String("download_id", sub.Identity.Key()),
				zap.Error(err))
			// keep the last snapshot without delivering it again
			continue
		}
		snapshot = next
	}
}

func (pt *ProgressTracker) deliver(sub *ProgressSubscription, snapshot domain.ProgressSnapshot, handler ProgressHandler) {
	if pt.dispatcher == nil {
		if !sub.stopped() {
			handler(snapshot)
		}
		return
	}
	pt.dispatcher.Post(func() {
		if !sub.stopped() {
			handler(snapshot)
		}
	})
}
