package fusion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// watchDirs returns root and every non-hidden directory below it.
func watchDirs(root string) ([]string, error) {
	dirs := []string{root}
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == root {
				return nil
			}
			if strings.HasPrefix(de.Name(), ".") {
				return godirwalk.SkipThis
			}
			if de.IsDir() {
				dirs = append(dirs, path)
			}
			return nil
		},
	})
	return dirs, err
}

// Watch runs the pipeline once, then again whenever files under the input
// directory change, until ctx is done. Bursts of events closer together
// than debounce trigger a single run. fn sees the outcome of every run;
// a failed run doesn't stop the watch.
func Watch(ctx context.Context, cfg Config, debounce time.Duration, fn func(*Result, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dirs, err := watchDirs(cfg.InputDir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", cfg.InputDir, err)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	klog.Infof("watching %d dirs under %s ...", len(dirs), cfg.InputDir)

	ignore := map[string]bool{}
	for _, p := range []string{cfg.HDRPath, cfg.PreviewPath, cfg.ResponsePlot} {
		if abs, err := filepath.Abs(p); err == nil && p != "" {
			ignore[abs] = true
		}
	}

	debugDir := ""
	if cfg.AlignDebugDir != "" {
		if abs, err := filepath.Abs(cfg.AlignDebugDir); err == nil {
			ignore[abs] = true
			debugDir = abs + string(filepath.Separator)
		}
	}

	run := func() {
		p, err := New(cfg)
		if err != nil {
			fn(nil, err)
			return
		}
		defer p.Close()
		fn(p.Run(ctx))
	}
	run()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if abs, err := filepath.Abs(event.Name); err == nil {
				if ignore[abs] || (debugDir != "" && strings.HasPrefix(abs, debugDir)) {
					continue
				}
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					w.Add(event.Name)
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				klog.V(1).Infof("event: %s", event)
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Warningf("watch error: %v", err)

		case <-timer.C:
			klog.Infof("input changed, re-running")
			run()
		}
	}
}
