package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"go.uber.org/zap"
)

var (
	errPaused   = errors.New("paused by user")
	errCanceled = errors.New("canceled by user")
	errDeleted  = errors.New("deleted by user")
	errShutdown = errors.New("interrupted")
	errInactive = errors.New("no data received within the inactivity timeout")
)

// claim states of a transfer; whoever moves it off claimPending owns the
// terminal transition
const (
	claimPending int32 = iota
	claimWorker
	claimControl
)

// transfer is the in-memory side of one active download
type transfer struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	claim  atomic.Int32
	done   chan struct{}

	mu       sync.Mutex
	download *domain.Download
}

func newTransfer(d *domain.Download) *transfer {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &transfer{
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		download: d,
	}
}

// snapshot returns a copy of the current record
func (t *transfer) snapshot() *domain.Download {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.download.Clone()
}

func (t *transfer) update(fn func(d *domain.Download)) *domain.Download {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.download)
	return t.download.Clone()
}

// watchdog cancels its context when Kick is not called within timeout
type watchdog struct {
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(parent context.Context, timeout time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	wd := &watchdog{cancel: cancel, timeout: timeout}
	if timeout > 0 {
		wd.timer = time.AfterFunc(timeout, func() { cancel(errInactive) })
	}
	return ctx, wd
}

func (wd *watchdog) Kick() {
	if wd.timer != nil {
		wd.timer.Reset(wd.timeout)
	}
}

func (wd *watchdog) Stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	wd.cancel(nil)
}

// canResume decides whether the partial file still belongs to the remote
// resource described by info
func canResume(d *domain.Download, info domain.RemoteInfo, partialSize int64) bool {
	if d.SizeKnown() && info.Size > 0 && d.TotalSizeBytes != info.Size {
		return false
	}
	if d.RemoteETag != "" && info.ETag != "" && d.RemoteETag != info.ETag {
		return false
	}
	size := info.Size
	if size <= 0 {
		size = d.TotalSizeBytes
	}
	if size > 0 && partialSize > size {
		return false
	}
	return true
}

// runTransfer executes a transfer on a worker. It returns nil once the
// final file is in place.
func (dm *DownloadManager) runTransfer(t *transfer) error {
	ctx := t.ctx
	running := t.update(func(d *domain.Download) { d.MarkRunning() })
	dm.persist(running)
	dm.emit(domain.DownloadEvent{Download: running})
	dm.multiLogger.LogDownloadEvent("download_running", zap.String("download_id", running.ID))

	probeCtx, cancelProbe := context.WithTimeout(ctx, dm.probeTimeout())
	info, err := dm.source.Probe(probeCtx, running.RemoteURI)
	cancelProbe()
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		dm.logger.Debug("Size probe failed, continuing with unknown size",
			zap.String("download_id", running.ID),
			zap.Error(err))
		info = domain.RemoteInfo{Size: domain.SizeUnknown}
	}

	partialPath := running.PartialPath()
	if err := os.MkdirAll(filepath.Dir(partialPath), 0755); err != nil {
		return domain.TransferError(err)
	}

	var offset int64
	if st, err := os.Stat(partialPath); err == nil {
		offset = st.Size()
	}
	if offset > 0 && !canResume(running, info, offset) {
		dm.logger.Info("Remote file changed, restarting download",
			zap.String("download_id", running.ID),
			zap.Int64("partial_size", offset))
		offset = 0
	}

	d := t.update(func(d *domain.Download) {
		if info.Size > 0 {
			d.TotalSizeBytes = info.Size
		}
		if info.ETag != "" {
			d.RemoteETag = info.ETag
		}
		d.UpdateProgress(offset)
	})
	dm.persist(d)

	if d.SizeKnown() && offset == d.TotalSizeBytes {
		return dm.promote(t, offset)
	}

	written, err := dm.copyRemote(t, d.RemoteURI, partialPath, offset, d.TotalSizeBytes)
	if offset > 0 && errors.Is(err, domain.ErrRangeNotSatisfiable) {
		if !d.SizeKnown() {
			// nothing lies past the partial file
			dm.logger.Info("Partial file already holds the whole body",
				zap.String("download_id", d.ID),
				zap.Int64("size", offset))
			return dm.promote(t, offset)
		}
		dm.logger.Info("Partial file rejected by remote, restarting download",
			zap.String("download_id", d.ID),
			zap.Int64("partial_size", offset))
		t.update(func(d *domain.Download) { d.UpdateProgress(0) })
		written, err = dm.copyRemote(t, d.RemoteURI, partialPath, 0, d.TotalSizeBytes)
	}
	if err != nil {
		return err
	}
	return dm.promote(t, written)
}

func (dm *DownloadManager) probeTimeout() time.Duration {
	if dm.config.InactivityTimeout > 0 {
		return dm.config.InactivityTimeout
	}
	return time.Minute
}

// copyRemote streams the remote body into the partial file. The file is
// closed on every return path.
func (dm *DownloadManager) copyRemote(t *transfer, uri, partialPath string, offset, size int64) (written int64, err error) {
	readCtx, wd := newWatchdog(t.ctx, dm.config.InactivityTimeout)
	defer wd.Stop()

	body, start, err := dm.source.Open(readCtx, uri, offset)
	if err != nil {
		if cause := context.Cause(readCtx); cause != nil {
			return offset, cause
		}
		return offset, domain.TransferError(err)
	}
	defer body.Close()

	flags := os.O_WRONLY | os.O_CREATE
	if start > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partialPath, flags, 0644)
	if err != nil {
		return offset, domain.TransferError(err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = domain.TransferError(cerr)
		}
	}()

	written = start
	bufSize := dm.config.BufferSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	buf := make([]byte, bufSize)
	lastPersist := time.Now()

	for {
		if cause := context.Cause(readCtx); cause != nil {
			return written, cause
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			wd.Kick()
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, domain.TransferError(werr)
			}
			written += int64(n)
			d := t.update(func(d *domain.Download) { d.UpdateProgress(written) })
			if time.Since(lastPersist) >= dm.config.PersistInterval {
				dm.persist(d)
				lastPersist = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if cause := context.Cause(readCtx); cause != nil {
				return written, cause
			}
			return written, domain.TransferError(rerr)
		}
	}

	if size > 0 && written != size {
		return written, domain.TransferError(fmt.Errorf("received %d of %d bytes", written, size))
	}
	if err := f.Sync(); err != nil {
		return written, domain.TransferError(err)
	}
	return written, nil
}

// promote moves the finished partial file to its final path
func (dm *DownloadManager) promote(t *transfer, size int64) error {
	if cause := context.Cause(t.ctx); cause != nil {
		return cause
	}
	d := t.snapshot()
	if err := os.Rename(d.PartialPath(), d.LocalPath); err != nil {
		return domain.TransferError(err)
	}
	t.update(func(d *domain.Download) { d.MarkCompleted(size) })
	return nil
}
