package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload re-reads the template paths and swaps the workflow catalog and the
// resource table in place. Workflows already created keep their stages. On
// error the running templates are kept.
func (a *App) Reload(ctx context.Context) error {
	model, catalog, err := loadTemplates(ctx, a.config.TemplatesPaths, a.config.Variables)
	if err != nil {
		return fmt.Errorf("failed to reload templates: %w", err)
	}
	entries, err := model.ResourceTable()
	if err != nil {
		return fmt.Errorf("failed to reload templates: %w", err)
	}

	a.mu.Lock()
	a.model, a.catalog = model, catalog
	a.mu.Unlock()
	a.directory.Replace(entries)
	a.engine.SetCatalog(catalog)

	a.logger.Info("Templates reloaded.", "job_types", catalog.JobTypes(), "resources", len(entries))
	return nil
}

// WatchTemplates reloads the templates after files under the template paths
// change, once no further change arrived for debounce. It blocks until ctx is
// done.
func (a *App) WatchTemplates(ctx context.Context, debounce time.Duration) error {
	if len(a.config.TemplatesPaths) == 0 {
		return errors.New("no template paths to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start template watcher: %w", err)
	}
	defer w.Close()

	for _, p := range a.config.TemplatesPaths {
		dirs, err := watchDirs(p)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			if err := w.Add(d); err != nil {
				return fmt.Errorf("failed to watch %s: %w", d, err)
			}
		}
	}
	a.logger.Info("👀 Watching templates for changes.", "paths", a.config.TemplatesPaths)

	var exts []string
	for _, l := range templateLoaders(nil) {
		exts = append(exts, l.Extensions()...)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op == fsnotify.Chmod || !slices.Contains(exts, filepath.Ext(ev.Name)) {
				continue
			}
			a.logger.Debug("Template file changed.", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("Template watcher error.", "error", err)
		case <-timer.C:
			if err := a.Reload(ctx); err != nil {
				a.logger.Error("Keeping the previous templates.", "error", err)
			}
		}
	}
}

// watchDirs lists the directories to watch for path: the directory itself
// and its subdirectories, or the parent of a file.
func watchDirs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{filepath.Dir(path)}, nil
	}
	var dirs []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	return dirs, err
}
