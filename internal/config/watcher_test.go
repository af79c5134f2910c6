package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bind_addr: \":8080\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(path, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(path, []byte("bind_addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed before any change")
		}
		if ev.Path != path {
			t.Fatalf("event path = %q, want %q", ev.Path, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification within 2s")
	}
}
