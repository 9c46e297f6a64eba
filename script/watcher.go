package script

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow is the ~10ms debounce §4.7 asks for between a script file
// write and the reload it triggers.
const debounceWindow = 10 * time.Millisecond

// Watcher reloads a Runtime's engine from disk on every write to path,
// debounced so a burst of writes (editors that truncate-then-write)
// produces one reload rather than several.
//
// Grounded on CirtusX-ctrl-ai-v1's internal/config.Watcher (fsnotify.Watcher
// wrapped in a background goroutine dispatching on event.Op), generalized
// from a directory of named config files to a single watched script path.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher starts watching path for writes, reloading rt from it (via
// Runtime.Load) and emitting a notification on each successful reload
// (§4.7: "A notification is emitted on successful reload").
func NewWatcher(path string, rt *Runtime) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fsWatcher: fw, done: make(chan struct{})}
	go w.loop(path, rt)
	return w, nil
}

func (w *Watcher) loop(path string, rt *Runtime) {
	target := filepath.Base(path)
	var timer *time.Timer
	reload := func() {
		src, err := readFile(path)
		if err != nil {
			slog.Error("script.Watcher: read script", "path", path, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Load(ctx, src); err != nil {
			slog.Error("script.Watcher: reload failed", "path", path, "error", err)
			return
		}
		rt.Emit(Notification{Level: LevelInfo, Msg: "script reloaded: " + path})
	}

	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, reload)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("script.Watcher: fsnotify error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
