package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned by Lock when another process holds the PID file.
var ErrLocked = errors.New("daemon already running (pid file locked)")

// PIDFile is an flock-guarded PID file that keeps a second daemon from
// starting in the same project.
type PIDFile struct {
	path string
	file *os.File
}

// NewPIDFile creates a PIDFile for path. Nothing is touched until Lock.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Lock takes the exclusive lock and records the current PID. The lock is
// held until Unlock or process exit.
func (p *PIDFile) Lock() error {
	if p.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	file, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open pid file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("lock pid file: %w", err)
	}

	write := func() error {
		if err := file.Truncate(0); err != nil {
			return err
		}
		if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
			return err
		}
		return file.Sync()
	}
	if err := write(); err != nil {
		release(file)
		return fmt.Errorf("write pid file: %w", err)
	}

	p.file = file
	return nil
}

// Unlock releases the lock and removes the file.
func (p *PIDFile) Unlock() error {
	if p.file != nil {
		release(p.file)
		p.file = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Read returns the recorded PID, or 0 when the file is missing or invalid.
func (p *PIDFile) Read() int {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid < 0 {
		return 0
	}
	return pid
}

// Alive reports whether the recorded process exists.
func (p *PIDFile) Alive() bool {
	return ProcessAlive(p.Read())
}

// CleanupStale removes the PID file and socket left by a daemon that is no
// longer running.
func (p *PIDFile) CleanupStale(socketPath string) bool {
	if p.Alive() {
		return false
	}
	_ = os.Remove(p.path)
	if socketPath != "" {
		_ = os.Remove(socketPath)
	}
	return true
}

func release(file *os.File) {
	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	_ = file.Close()
}

// ProcessAlive sends signal 0 to pid.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
