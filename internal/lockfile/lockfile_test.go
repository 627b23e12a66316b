package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock_WritesInfo(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, ":8080")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %q", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	info := parseInfo(string(content))
	if info.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), info.PID)
	}
	if info.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %q", info.Addr)
	}
	if !info.Started.Equal(lock.Info().Started.Truncate(time.Second)) {
		t.Errorf("file start time %v does not match lock %v", info.Started, lock.Info().Started)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, ":9000")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir, "")
	if err == nil {
		second.Release()
		t.Fatal("second acquisition should fail")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Another Jarvis instance is already running") {
		t.Errorf("error should name the conflict: %s", msg)
	}
	if !strings.Contains(msg, dir) {
		t.Errorf("error should contain the lock path: %s", msg)
	}
	if !strings.Contains(lockErr.Holder, "(running)") || !strings.Contains(lockErr.Holder, ":9000") {
		t.Errorf("holder should describe the live daemon: %q", lockErr.Holder)
	}

	// The loser must not clobber the holder's info.
	content, _ := os.ReadFile(first.Path())
	if parseInfo(string(content)).Addr != ":9000" {
		t.Errorf("holder info was overwritten: %q", content)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("should create the directory and lock it: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestParseInfo(t *testing.T) {
	started := time.Date(2026, 4, 2, 7, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{"round trip", Info{PID: 42, Addr: ":8080", Started: started}.String(), Info{PID: 42, Addr: ":8080", Started: started}},
		{"pid only", "pid=12345\n", Info{PID: 12345}},
		{"invalid pid", "pid=abc", Info{}},
		{"negative pid", "pid=-3", Info{}},
		{"no equals", "pid12345", Info{}},
		{"empty", "", Info{}},
		{"bad time ignored", "pid=7\nstarted=yesterday\n", Info{PID: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseInfo(tt.content)
			if got.PID != tt.want.PID || got.Addr != tt.want.Addr || !got.Started.Equal(tt.want.Started) {
				t.Errorf("parseInfo(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("own process should be running")
	}
}
