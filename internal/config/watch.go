package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "livewatch/pkg/logx"
)

const (
	watchDebounce   = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are seen. A broken watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if strings.TrimSpace(m.path) == "" {
		<-ctx.Done()
		return nil
	}
	fw := &fileWatcher{
		dir:  filepath.Dir(m.path),
		file: filepath.Base(m.path),
		log:  m.log.With(logx.String("path", m.path)),
		fire: func() { m.reload(ctx) },
	}
	defer fw.stopTimer()

	backoff := watchBackoffMin
	for ctx.Err() == nil {
		err := fw.run(ctx, func() { backoff = watchBackoffMin })
		if ctx.Err() != nil {
			break
		}
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, watchBackoffMax)
		fw.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

type fileWatcher struct {
	dir, file string
	log       logx.Logger
	fire      func()

	mu    sync.Mutex
	timer *time.Timer
}

var errWatcherClosed = errors.New("watcher channels closed")

// run watches until ctx is done or the watcher breaks. started is called
// once the watch is established.
func (fw *fileWatcher) run(ctx context.Context, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(fw.dir); err != nil {
		return err
	}
	started()
	fw.log.Debug("config watcher started", logx.String("dir", fw.dir))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), fw.file) {
				fw.schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				fw.log.Warn("config watch overflow; forcing reload")
				fw.schedule()
				continue
			}
			fw.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// schedule (re)arms the debounce timer so a burst of events reloads once.
func (fw *fileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(watchDebounce, fw.fire)
}

func (fw *fileWatcher) stopTimer() {
	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()
}
