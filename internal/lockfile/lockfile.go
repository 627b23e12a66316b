// Package lockfile guards the Jarvis state directory against a second daemon
// sharing the same journal, speech cache and debug logs.
//
// The lock is an flock(2) on a file inside the state directory, so the kernel
// drops it when the process exits, even on a crash.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "jarvis.lock"

// Info is what a running daemon writes into the lock file.
type Info struct {
	PID     int
	Addr    string
	Started time.Time
}

// String renders Info in the key=value form parsed by parseInfo.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	if !i.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", i.Started.UTC().Format(time.RFC3339))
	}
	if i.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", i.Addr)
	}
	return b.String()
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
	info Info
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if
// needed. addr is the API listen address recorded for operators; it may be empty.
// A *LockError is returned when another daemon already holds the lock.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "path", path)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's info before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(path)
		slog.Error("lockfile.AcquireLock: state directory in use", "path", path, "holder", holder, "error", err)
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	info := Info{PID: os.Getpid(), Addr: addr, Started: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", path, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "path", path, "pid", info.PID)
	return &Lock{file: file, path: path, info: info}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err, "path", file.Name())
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Info returns what was written into the lock file.
func (l *Lock) Info() Info { return l.info }

// Release drops the lock and removes the file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: unlock failed", "error", err, "path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: close failed", "error", err, "path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: remove failed", "error", err, "path", l.path)
	}
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "path", l.path)
	return nil
}

// LockError reports a state directory already held by another daemon.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another Jarvis instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	if e.Holder != "" {
		msg += "\nHeld by: " + e.Holder
	}
	msg += "\n\nIf no other Jarvis daemon is running the lock is stale and can be removed with:\n" +
		"  rm " + e.LockPath
	return msg
}

func (e *LockError) Unwrap() error { return e.Cause }

func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown (lock file unreadable)"
	}
	info := parseInfo(string(data))
	if info.PID == 0 {
		return "unknown (no pid recorded)"
	}
	state := "running"
	if !isProcessRunning(info.PID) {
		state = "not running, stale lock"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.Addr != "" {
		desc += ", serving " + info.Addr
	}
	if !info.Started.IsZero() {
		desc += ", since " + info.Started.Format(time.RFC3339)
	}
	return desc
}

// parseInfo reads the key=value lines written by Info.String. Unknown keys and
// malformed values are ignored.
func parseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = ts
			}
		case "addr":
			info.Addr = value
		}
	}
	return info
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
