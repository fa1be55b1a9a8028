package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/herambskanda/teletrade/internal/logger"
)

// Watch reloads the config when the file changes and hands the parsed
// result to onChange. Editors rewrite files with remove+rename, so the
// watch sits on the directory and filters by name. Reload errors keep the
// previous config in force.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != abs {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					cfg, err := Load(abs)
					if err != nil {
						logger.Errorf("config: reload of %s failed, keeping previous: %v", abs, err)
						return
					}
					logger.Infof("config: reloaded %s", abs)
					onChange(cfg)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("config: watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
