package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "spec.html")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(target, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	batches := make(chan map[string]fsnotify.Op, 4)
	w, err := New(Config{Files: []string{target}, DebounceDelay: 100 * time.Millisecond},
		ChangeHandlerFunc(func(files map[string]fsnotify.Op) { batches <- files }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	for i := range 3 {
		if err := os.WriteFile(target, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		os.WriteFile(other, []byte("ignored"), 0o644)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case files := <-batches:
		if len(files) != 1 {
			t.Errorf("batch = %v, want only the watched file", files)
		}
		abs, _ := filepath.Abs(target)
		if op, ok := files[abs]; !ok || op&fsnotify.Write == 0 {
			t.Errorf("batch = %v, want a write to %s", files, abs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}

	select {
	case files := <-batches:
		t.Errorf("unexpected second batch: %v", files)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherRequiresFiles(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without files")
	}
}

func TestIsRemove(t *testing.T) {
	if !IsRemove(fsnotify.Remove) || !IsRemove(fsnotify.Rename|fsnotify.Write) || IsRemove(fsnotify.Write) {
		t.Error("IsRemove misclassified ops")
	}
}

func TestWatcherReportsReplacedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "spec.html")
	if err := os.WriteFile(target, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	batches := make(chan map[string]fsnotify.Op, 4)
	w, err := New(Config{Files: []string{target}, DebounceDelay: 100 * time.Millisecond},
		ChangeHandlerFunc(func(files map[string]fsnotify.Op) { batches <- files }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.Rename(target, target+".bak"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case files := <-batches:
		abs, _ := filepath.Abs(target)
		op, ok := files[abs]
		if !ok {
			t.Fatalf("batch = %v, want an entry for %s", files, abs)
		}
		if IsGone(abs, op) {
			t.Errorf("op %v on a recreated file reported as gone", op)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}
}

func TestIsGone(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.html")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.html")

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want bool
	}{
		{"write", present, fsnotify.Write, false},
		{"renamed then recreated", present, fsnotify.Rename | fsnotify.Create | fsnotify.Write, false},
		{"removed", missing, fsnotify.Remove, true},
		{"renamed away", missing, fsnotify.Rename, true},
		{"write to missing", missing, fsnotify.Write, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGone(tt.path, tt.op); got != tt.want {
				t.Errorf("IsGone(%s, %v) = %v, want %v", tt.path, tt.op, got, tt.want)
			}
		})
	}
}
