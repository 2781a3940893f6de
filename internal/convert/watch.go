package convert

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch converts the whole input tree once, then keeps converting files as
// they are written until ctx is cancelled. Changes to a file are debounced:
// it is converted once no event has been seen for it during debounce.
// Removing an input file removes its index file.
func (c *Converter) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Register before the initial run so files written meanwhile are seen.
	if err := c.addRecursive(watcher, c.opts.InputDir); err != nil {
		return err
	}
	if _, err := c.Run(ctx); err != nil {
		return err
	}

	pending := make(map[string]time.Time)

	tick := debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	c.log.Info("watching", "dir", c.opts.InputDir, "debounce", debounce)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if c.inOutput(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := c.addRecursive(watcher, event.Name); err != nil {
						c.log.Warn("watch directory", "path", event.Name, "err", err)
					}
					// Files created before the directory was added.
					c.queueTree(event.Name, pending)
					continue
				}
			}

			if !isPuzzleFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				pending[event.Name] = time.Now()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
				c.removeOutput(ctx, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("watcher error", "err", err)

		case now := <-ticker.C:
			var ready []string
			for path, seen := range pending {
				if now.Sub(seen) >= debounce {
					ready = append(ready, path)
					delete(pending, path)
				}
			}

			for _, path := range ready {
				if _, err := c.ConvertFile(ctx, path); err != nil {
					c.log.Warn("conversion failed", "path", path, "err", err)
				}
			}
		}
	}
}

func (c *Converter) addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if c.inOutput(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func (c *Converter) queueTree(dir string, pending map[string]time.Time) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
		case d.IsDir() && c.inOutput(path):
			return filepath.SkipDir
		case !d.IsDir() && isPuzzleFile(path):
			pending[path] = time.Now()
		}
		return nil
	})
}

func (c *Converter) removeOutput(ctx context.Context, path string) {
	out, err := c.OutputPath(path)
	if err != nil {
		return
	}
	if err := os.Remove(out); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn("remove index", "path", out, "err", err)
		return
	}
	c.log.Debug("removed index", "path", out)
	if c.opts.OnRemoved != nil {
		c.opts.OnRemoved(ctx, c.source(path))
	}
}
