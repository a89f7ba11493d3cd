// Package watch retrains the model when its training data file changes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/ricesearch/rice-nlu/internal/pkg/hash"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// RetrainFunc rebuilds the model after the training data changed.
type RetrainFunc func(ctx context.Context) error

// Config configures a Watcher.
type Config struct {
	DataPath    string
	Debounce    time.Duration // Default: 500ms
	MinInterval time.Duration // Minimum gap between retrains; 0 disables the limit
}

// Watcher observes one training data file. Bursts of writes within the
// debounce window collapse into one retrain, retrains are spaced by
// MinInterval, and a rewrite with identical content is ignored.
type Watcher struct {
	path     string
	debounce time.Duration
	limiter  *rate.Limiter
	retrain  RetrainFunc
	log      *logger.Logger

	// Debounce; stopped refuses new fires once Stop began
	pendingMu sync.Mutex
	timer     *time.Timer
	stopped   bool
	fires     sync.WaitGroup

	// Serializes retrains and guards lastDigest
	runMu      sync.Mutex
	lastDigest string

	// Stats
	statsMu     sync.Mutex
	retrains    int
	lastRetrain time.Time

	// Lifecycle
	fsWatcher *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a watcher for cfg.DataPath that calls retrain on change.
func New(cfg Config, retrain RetrainFunc, log *logger.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = logger.Default()
	}

	absPath, err := filepath.Abs(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Watcher{
		path:     absPath,
		debounce: cfg.Debounce,
		limiter:  rate.NewLimiter(limit, 1),
		retrain:  retrain,
		log:      log.WithComponent("watcher"),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The file's directory is watched so that editors
// replacing the file by rename are observed. Start returns once the watch
// is in place; Stop or ctx cancellation ends it.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return err
	}

	w.runMu.Lock()
	w.lastDigest, _ = w.digest()
	w.runMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.fsWatcher = fsWatcher
	w.cancel = cancel

	w.log.Info("Watching training data for changes", "path", w.path)

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.fsWatcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	// Reset debounce timer
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if !w.beginFire() {
			return
		}
		defer w.fires.Done()
		w.fire(ctx)
	})
}

func (w *Watcher) beginFire() bool {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.stopped {
		return false
	}
	w.fires.Add(1)
	return true
}

func (w *Watcher) fire(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	digest, err := w.digest()
	if err != nil {
		w.log.Warn("Training data unreadable, skipping retrain", "path", w.path, "error", err)
		return
	}
	if digest == w.lastDigest {
		w.log.Debug("Training data unchanged, skipping retrain", "path", w.path)
		return
	}

	w.log.Info("Training data changed, retraining", "path", w.path)
	if err := w.retrain(ctx); err != nil {
		// Keep the old digest so the next write retries.
		w.log.Error("Retrain failed", "error", err)
		return
	}
	w.lastDigest = digest

	w.statsMu.Lock()
	w.retrains++
	w.lastRetrain = time.Now()
	w.statsMu.Unlock()
}

func (w *Watcher) digest() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", err
	}
	return hash.SHA256(data), nil
}

func (w *Watcher) stopTimer() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Stop ends the watch, cancelling any pending retrain, and waits for the
// event loop and a retrain already running to finish.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.stopTimer()
	w.fires.Wait()
}

// Stats returns the number of successful retrains and the time of the last one.
func (w *Watcher) Stats() (int, time.Time) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.retrains, w.lastRetrain
}
