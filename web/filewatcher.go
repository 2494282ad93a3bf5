package web

// dirWatcher watches a directory for writes to files with the configured
// suffixes, such as an on-disk templates directory being edited while the
// server is running.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// defaultFlushDuration sets the time given to wait for multiple editor writes.
const defaultFlushDuration time.Duration = 25 * time.Millisecond

// dirWatcher signals on Update when matching files in dir change.
type dirWatcher struct {
	dir           string
	suffixes      []string
	watcher       *fsnotify.Watcher
	update        chan struct{}
	flushDuration time.Duration
}

// newDirWatcher registers a watcher for dir. Suffixes provided without the
// leading dot have one prepended.
func newDirWatcher(dir string, suffixes ...string) (*dirWatcher, error) {
	if len(suffixes) < 1 {
		return nil, errors.New("at least one file suffix needed")
	}
	dir = filepath.Clean(dir)
	check, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dir %q not found: %w", dir, err)
	}
	if !check.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}

	dw := &dirWatcher{
		dir:           dir,
		update:        make(chan struct{}),
		flushDuration: defaultFlushDuration,
	}
	for _, ix := range suffixes {
		if len(ix) > 0 && ix[0] != '.' {
			ix = "." + ix
		}
		dw.suffixes = append(dw.suffixes, strings.ToLower(ix))
	}

	dw.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify new watcher error: %w", err)
	}
	if err := dw.watcher.Add(dir); err != nil {
		_ = dw.watcher.Close()
		return nil, fmt.Errorf("fsnotify add error for dir %q: %w", dir, err)
	}
	return dw, nil
}

// matches reports whether a file event should trigger an update.
func (dw *dirWatcher) matches(e fsnotify.Event) bool {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) {
		return false
	}
	basename := filepath.Base(e.Name)
	// ignore dot files, including editor swap files
	if len(basename) > 0 && basename[0] == '.' {
		return false
	}
	for _, ix := range dw.suffixes {
		if strings.HasSuffix(strings.ToLower(basename), ix) {
			return true
		}
	}
	return false
}

// Watch blocks until ctx is done or the watcher fails. Consumers should range
// over [dirWatcher.Update] to receive notice of changes. Writes arriving within
// flushDuration of each other are reported once.
func (dw *dirWatcher) Watch(ctx context.Context) error {

	// eventChan buffers editor writes.
	eventChan := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-dw.watcher.Errors:
				if !ok {
					return errors.New("unexpected close from watcher.Errors")
				}
				return fmt.Errorf("unexpected notify error: %w", err)
			case e, ok := <-dw.watcher.Events:
				if !ok {
					return errors.New("unexpected close from watcher.Events")
				}
				if !dw.matches(e) {
					continue
				}
				select {
				case eventChan <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	// Stack writes in the same flushDuration, giving time for vim-style double
	// writes to complete.
	g.Go(func() error {
		flush := false
		timer := time.NewTicker(dw.flushDuration)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-eventChan:
				flush = true
				timer.Reset(dw.flushDuration)
			case <-timer.C:
				if !flush {
					continue
				}
				select {
				case dw.update <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				flush = false
			}
		}
	})

	err := g.Wait()
	close(dw.update)
	_ = dw.watcher.Close()
	return err
}

// Update returns a channel signalling a file change.
func (dw *dirWatcher) Update() <-chan struct{} {
	return dw.update
}
