package panels

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reconciles the registry on out-of-band panel file changes, for
// edits the post-tool hook never saw. Work is handed to the enqueue callback
// so the owner decides where reconciliation runs.
type Watcher struct {
	hook     *Hook
	enqueue  func(func())
	debounce time.Duration
}

func NewWatcher(hook *Hook, enqueue func(func())) *Watcher {
	return &Watcher{hook: hook, enqueue: enqueue, debounce: 300 * time.Millisecond}
}

// Start begins watching the panels directory. A missing directory is not an
// error; the watcher simply stays idle until restarted.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.hook.PanelsDir()); err != nil {
		slog.Debug("panels.watch_skipped", "dir", w.hook.PanelsDir(), "error", err)
		fw.Close()
		return nil
	}

	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()

	// The dirty set and the debounce timer are only touched from this
	// goroutine; the timer fires through its channel in the same select.
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	dirty := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-timer.C:
			armed = false
			ids := make([]string, 0, len(dirty))
			for id := range dirty {
				ids = append(ids, id)
			}
			dirty = make(map[string]bool)
			w.enqueue(func() {
				for _, id := range ids {
					w.hook.SyncFile(id)
				}
				w.hook.VerifyDisk()
			})

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			id := strings.TrimSuffix(name, ".md")
			if !validID(id) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			dirty[id] = true
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			armed = true

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Warn("panels.watch_error", "error", err)
		}
	}
}
