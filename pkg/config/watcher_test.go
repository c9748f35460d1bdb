package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  max_requests: 5\n")

	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	var mu sync.Mutex
	var reloaded []int
	w.reload = func(p string) (*Config, error) {
		cfg, err := LoadConfig(p)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		reloaded = append(reloaded, cfg.RateLimit.MaxRequests)
		mu.Unlock()
		return cfg, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "rate_limit:\n  max_requests: 9\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(reloaded)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	got := append([]int(nil), reloaded...)
	mu.Unlock()
	if len(got) == 0 || got[len(got)-1] != 9 {
		t.Errorf("Expected reload with max_requests 9, got %v", got)
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  max_requests: 5\n")

	w, err := NewWatcher(path, 0)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	other := path + ".bak"
	if w.relevant(fsnotifyEvent(other)) {
		t.Error("Expected unrelated file to be ignored")
	}
	if !w.relevant(fsnotifyEvent(w.path)) {
		t.Error("Expected config file write to be relevant")
	}
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	if _, err := NewWatcher("", 0); err == nil {
		t.Error("Expected error for empty path")
	}
}

func fsnotifyEvent(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}
