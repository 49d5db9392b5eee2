package lock

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrHeld is returned when another process already holds the named lock.
// Losing the race is the expected outcome for all but one process.
var ErrHeld = errors.New("lock held by another process")

// Dir hands out named advisory file locks under a shared directory.
// Used as the cross-process single-winner gate for notifications:
// multiple applet processes race on the same key and exactly one wins.
type Dir struct {
	path string
}

// NewDir creates the lock directory if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Guard represents an acquired named lock.
type Guard struct {
	file *os.File
}

// Acquire attempts a non-blocking exclusive lock for key.
// Returns ErrHeld if another process got there first.
func (d *Dir) Acquire(key string) (*Guard, error) {
	lockPath := filepath.Join(d.path, fileNameFor(key))

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, ErrHeld
	}

	// Write PID + timestamp for diagnostics.
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Guard{file: f}, nil
}

// Release releases the lock. Safe to call on nil receiver and idempotent.
// The lock file is left in place: unlinking it would let a process that
// opened the old inode and a process that creates a fresh file both win.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	err := g.file.Close()
	g.file = nil
	return err
}

// fileNameFor maps an arbitrary key (thread+timestamp, file URL) to a
// bounded, filesystem-safe name.
func fileNameFor(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%016x.lock", h.Sum64())
}
