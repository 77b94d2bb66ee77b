package flatpak

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"discover/pkg/backend"
)

// watch reconciles installed apps after the exported desktop files of an installation change. A
// directory that does not exist yet is followed through its closest existing ancestor until it
// appears, as happens on the first install into a user installation.
func (b *Backend) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.Logger.Warn("installation watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	// target directory -> whether it is watched itself
	targets := make(map[string]bool)
	for _, inst := range b.installs {
		dir := applicationsDir(inst.Path())
		ok, err := watchDir(watcher, dir)
		if err != nil {
			b.Logger.Warn("installation watcher add failed", zap.String("path", dir), zap.Error(err))
			continue
		}
		targets[dir] = ok
	}
	if len(targets) == 0 {
		return
	}

	var timer *time.Timer
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(b.opts.Debounce)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.opts.Debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.Logger.Warn("installation watcher error", zap.Error(err))
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) {
				continue
			}
			if b.followCreated(watcher, targets, ev) || inWatchedTarget(targets, ev.Name) {
				schedule()
			}
		case <-timerChan(timer):
			timer = nil
			b.reloadInstalled(ctx)
		}
	}
}

// followCreated moves the watch of every pending target below a newly created directory one step
// closer. It reports whether a target became watched; files written before the watch was added
// are then only seen by a reconciliation.
func (b *Backend) followCreated(watcher *fsnotify.Watcher, targets map[string]bool, ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) {
		return false
	}
	reached := false
	for dir, watched := range targets {
		if watched || !onPathTo(dir, ev.Name) {
			continue
		}
		ok, err := watchDir(watcher, dir)
		if err != nil {
			b.Logger.Warn("installation watcher add failed", zap.String("path", dir), zap.Error(err))
			continue
		}
		if ok {
			targets[dir] = true
			reached = true
		}
	}
	return reached
}

// watchDir watches dir, or its closest existing ancestor while dir does not exist. It reports
// whether dir itself is watched.
func watchDir(watcher *fsnotify.Watcher, dir string) (bool, error) {
	for p := dir; ; {
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return p == dir, watcher.Add(p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false, fmt.Errorf("no existing parent of %s", dir)
		}
		p = parent
	}
}

func inWatchedTarget(targets map[string]bool, name string) bool {
	for dir, watched := range targets {
		if watched && filepath.Dir(name) == dir {
			return true
		}
	}
	return false
}

// onPathTo reports whether path is dir or one of its ancestors.
func onPathTo(dir, path string) bool {
	return dir == path || strings.HasPrefix(dir, path+string(filepath.Separator))
}

// reloadInstalled re-runs installed-app reconciliation without touching remote metadata.
func (b *Backend) reloadInstalled(ctx context.Context) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.Logger.Debug("installed apps changed, reconciling")
	for _, inst := range b.installs {
		b.loadInstalled(ctx, inst)
	}
	_ = b.Loop.Do(ctx, func() {
		b.Updater().Recompute()
		b.Publish(backend.EventResourcesChanged)
	})
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
