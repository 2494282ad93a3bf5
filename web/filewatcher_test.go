package web

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirWatcher(t *testing.T) {
	dir := t.TempDir()
	dw, err := newDirWatcher(dir, "html")
	if err != nil {
		t.Fatal(err)
	}
	dw.flushDuration = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- dw.Watch(ctx)
	}()

	write := func(name string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	// ignored files
	write(".dashboard.html.swp")
	write("notes.txt")
	select {
	case <-dw.Update():
		t.Fatal("unexpected update for ignored files")
	case <-time.After(100 * time.Millisecond):
	}

	write("dashboard.html")
	select {
	case <-dw.Update():
	case <-time.After(2 * time.Second):
		t.Fatal("no update received for a template write")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected watch error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	if _, ok := <-dw.Update(); ok {
		t.Error("update channel should be closed")
	}
}

func TestNewDirWatcherErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := newDirWatcher(dir); err == nil {
		t.Error("expected an error without suffixes")
	}
	if _, err := newDirWatcher(filepath.Join(dir, "missing"), ".html"); err == nil {
		t.Error("expected an error for a missing directory")
	}
	file := filepath.Join(dir, "file.html")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := newDirWatcher(file, ".html"); err == nil {
		t.Error("expected an error for a file")
	}
}
