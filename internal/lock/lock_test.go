package lock

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}

	g, err := d.Acquire("thread-9:12345")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Verify lock file exists and contains PID.
	entries, err := os.ReadDir(d.path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("lock dir has %d entries, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(d.path, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("lock file is empty")
	}

	if err := g.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestSecondAcquireSameKeyFails(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	g1, err := d.Acquire("file:///home/u/a.png")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = g1.Release() }()

	// Same key from a second Dir (simulating a second process sharing
	// the lock directory) must lose the race while g1 is held.
	d2, err := NewDir(d.path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d2.Acquire("file:///home/u/a.png")
	if !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire() error = %v, want ErrHeld", err)
	}
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	g1, err := d.Acquire("thread-1:100")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer func() { _ = g1.Release() }()

	g2, err := d.Acquire("thread-1:200")
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	defer func() { _ = g2.Release() }()
}

func TestReacquireAfterRelease(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	g, err := d.Acquire("k")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Release(); err != nil {
		t.Fatal(err)
	}

	g2, err := d.Acquire("k")
	if err != nil {
		t.Errorf("re-Acquire() after release error = %v", err)
	}
	_ = g2.Release()
}

func TestReleaseLeavesNoSecondWinnerWindow(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g1, err := d.Acquire("k")
	if err != nil {
		t.Fatal(err)
	}

	// A straggler that opened the file while g1 held the lock.
	f, err := os.OpenFile(filepath.Join(d.path, fileNameFor("k")), os.O_RDWR, 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) == nil {
		t.Fatal("straggler locked while the guard was held")
	}

	if err := g1.Release(); err != nil {
		t.Fatal(err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		t.Fatalf("straggler flock after release: %v", err)
	}

	// The straggler owns the key now; a fresh Acquire must contend on
	// the same inode and lose, never create a second winner.
	if _, err := d.Acquire("k"); !errors.Is(err, ErrHeld) {
		t.Errorf("Acquire() error = %v, want ErrHeld", err)
	}
}

func TestReleaseNilAndIdempotent(t *testing.T) {
	var g *Guard
	if err := g.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g, err = d.Acquire("k")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := g.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
