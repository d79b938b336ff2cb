package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "commentbot/pkg/logx"
)

// WatchDebounce is the quiet period after the last change event before
// onChange fires. Editors often write a file in several steps.
var WatchDebounce = 250 * time.Millisecond

// Watch calls onChange(path) after any of paths is written, created,
// renamed or removed. Directories are watched rather than the files so that
// atomic replaces are seen. It blocks until ctx is done and recreates the
// underlying watcher with backoff when it breaks.
func Watch(ctx context.Context, paths []string, log logx.Logger, onChange func(path string)) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	byDir := map[string]map[string]string{}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if byDir[dir] == nil {
			byDir[dir] = map[string]string{}
		}
		byDir[dir][strings.ToLower(filepath.Base(p))] = p
	}
	if len(byDir) == 0 {
		<-ctx.Done()
		return nil
	}

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return wait
	}

	var (
		timerMu sync.Mutex
		timers  = map[string]*time.Timer{}
	)
	debounce := func(path string) {
		timerMu.Lock()
		defer timerMu.Unlock()
		if t := timers[path]; t != nil {
			t.Stop()
		}
		log.Debug("file change detected; scheduling reload", logx.String("path", path))
		timers[path] = time.AfterFunc(WatchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange(path)
		})
	}
	defer func() {
		timerMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w, err := newDirWatcher(byDir)
		if err != nil {
			log.Warn("file watch init failed", logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}
		backoff = restartBackoffBase

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				files := byDir[filepath.Dir(ev.Name)]
				path, match := files[strings.ToLower(filepath.Base(ev.Name))]
				if match && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce(path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				log.Warn("file watch error", logx.Err(err))
			}
		}
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := nextWait()
		log.Warn("file watcher stopped; restarting", logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func newDirWatcher(byDir map[string]map[string]string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for dir := range byDir {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return w, nil
}
