package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDFile_LockWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "g.pid")
	pf := NewPIDFile(path)
	if pf.Path() != path {
		t.Errorf("Path() = %q", pf.Path())
	}

	if err := pf.Lock(); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	t.Cleanup(func() { _ = pf.Unlock() })

	if got := pf.Read(); got != os.Getpid() {
		t.Errorf("Read() = %d, want %d", got, os.Getpid())
	}
	if !pf.Alive() {
		t.Error("own process should be alive")
	}
	if err := pf.Lock(); err != nil {
		t.Errorf("re-Lock() on held file = %v", err)
	}
}

func TestPIDFile_SecondLockFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.pid")
	first := NewPIDFile(path)
	if err := first.Lock(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = first.Unlock() })

	second := NewPIDFile(path)
	if err := second.Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock() = %v, want ErrLocked", err)
	}
}

func TestPIDFile_UnlockRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.pid")
	pf := NewPIDFile(path)
	if err := pf.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := pf.Unlock(); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file should be gone")
	}
	if err := pf.Unlock(); err != nil {
		t.Errorf("second Unlock() = %v", err)
	}

	// The lock is free again.
	other := NewPIDFile(path)
	if err := other.Lock(); err != nil {
		t.Errorf("Lock() after Unlock = %v", err)
	}
	_ = other.Unlock()
}

func TestPIDFile_Read(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"valid", "1234\n", 1234},
		{"spaces", "  99  ", 99},
		{"garbage", "abc", 0},
		{"negative", "-5", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if got := NewPIDFile(path).Read(); got != tt.want {
				t.Errorf("Read() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := NewPIDFile(filepath.Join(dir, "missing.pid")).Read(); got != 0 {
		t.Errorf("missing file Read() = %d", got)
	}
}

func TestProcessAlive(t *testing.T) {
	if ProcessAlive(0) || ProcessAlive(-1) {
		t.Error("non-positive pids are never alive")
	}
	if !ProcessAlive(os.Getpid()) {
		t.Error("own pid should be alive")
	}
}

func TestPIDFile_CleanupStale(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "g.pid")
	sockPath := filepath.Join(dir, "g.sock")

	t.Run("dead process", func(t *testing.T) {
		// PID 1<<22 is above the default pid_max.
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(1<<22)), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(sockPath, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if !NewPIDFile(pidPath).CleanupStale(sockPath) {
			t.Error("CleanupStale should report cleanup")
		}
		for _, p := range []string{pidPath, sockPath} {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("%s should be removed", p)
			}
		}
	})

	t.Run("live process", func(t *testing.T) {
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			t.Fatal(err)
		}
		if NewPIDFile(pidPath).CleanupStale(sockPath) {
			t.Error("CleanupStale must keep a live daemon's files")
		}
		if _, err := os.Stat(pidPath); err != nil {
			t.Error("pid file should remain")
		}
	})
}
