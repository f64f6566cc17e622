package infrastructure

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StorageWatcher reports finished files that disappear from the download
// directory behind the manager's back
type StorageWatcher struct {
	root      string
	onRemoved func(path string)
	logger    *zap.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStorageWatcher creates a watcher for root. onRemoved is called from the
// watcher goroutine for every removed or renamed-away file.
func NewStorageWatcher(root string, onRemoved func(path string), logger *zap.Logger) *StorageWatcher {
	return &StorageWatcher{
		root:      root,
		onRemoved: onRemoved,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins watching root and every directory below it
func (w *StorageWatcher) Start() error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	w.logger.Info("Storage watcher started", zap.String("root", w.root))

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit
func (w *StorageWatcher) Stop() error {
	close(w.stopChan)
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *StorageWatcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Storage watcher error", zap.Error(err))
		case <-w.stopChan:
			return
		}
	}
}

func (w *StorageWatcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("Failed to watch directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
		return
	}

	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	// partial files come and go with every transfer
	if strings.HasSuffix(event.Name, ".part") {
		return
	}
	w.logger.Debug("File removed from storage", zap.String("path", event.Name))
	w.onRemoved(event.Name)
}
