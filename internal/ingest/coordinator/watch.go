package coordinator

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// debounceWindow coalesces a burst of filesystem events (an editor saving a
// log file touches it several times in quick succession) into one Trigger.
const debounceWindow = 2 * time.Second

// Watcher watches the coordinator's logsRoot for new or modified episode
// files and triggers an import automatically, the always-on counterpart to
// the manually-invoked POST /ingest/trigger. Grounded on original_source's
// watch_logs background loop, reimplemented with fsnotify instead of
// polling since a filesystem-event watcher is the idiomatic Go way to do
// this (github.com/fsnotify/fsnotify, already in the teacher's dependency
// set but previously unwired).
type Watcher struct {
	coordinator *Coordinator
	fsWatcher   *fsnotify.Watcher
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewWatcher returns a Watcher over c's logsRoot. Call Start to begin
// watching; Stop (or a second Start) is safe to call at any time.
func NewWatcher(c *Coordinator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{coordinator: c, logger: logger}
}

// Start begins watching logsRoot for changes, triggering an import (scoped
// to userID, with no project filter) on a debounced timer whenever a file
// is created or written. Starting an already-running Watcher is a no-op.
func (wt *Watcher) Start(ctx context.Context, userID uuid.UUID) error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(wt.coordinator.logsRoot); err != nil {
		_ = fw.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	wt.fsWatcher = fw
	wt.cancel = cancel
	wt.running = true

	go wt.loop(watchCtx, userID)
	return nil
}

// Stop halts watching. Stopping an already-stopped Watcher is a no-op.
func (wt *Watcher) Stop() error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if !wt.running {
		return nil
	}
	wt.cancel()
	err := wt.fsWatcher.Close()
	wt.running = false
	wt.fsWatcher = nil
	wt.cancel = nil
	return err
}

// Running reports whether the watcher is currently active.
func (wt *Watcher) Running() bool {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.running
}

func (wt *Watcher) loop(ctx context.Context, userID uuid.UUID) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	fire := func() {
		triggerCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := wt.coordinator.Trigger(triggerCtx, userID, DiscoverFilter{}); err != nil && err != ErrAlreadyRunning {
			wt.logger.Warn("watch-triggered import failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-wt.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(event.Name) != ".jsonl" && filepath.Ext(event.Name) != ".json" {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, fire)
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-wt.fsWatcher.Errors:
			if !ok {
				return
			}
			wt.logger.Warn("watcher error", "error", err)
		}
	}
}
