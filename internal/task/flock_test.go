package task

import (
	"path/filepath"
	"testing"
)

func TestFileLock_TryLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")

	first := newFileLock(path)
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	second := newFileLock(path)
	ok, err := second.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		t.Fatal("TryLock should fail while the lock is held")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = second.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock after release = %v, %v", ok, err)
	}
	_ = second.Unlock()

	if err := second.Unlock(); err != nil {
		t.Errorf("double Unlock should be a no-op, got %v", err)
	}
}
