package daemon

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// daemonEnvVar marks the re-executed background child.
	daemonEnvVar = "GAMEPILOT_DAEMONIZED"

	socketWaitTimeout   = 2 * time.Second
	socketCheckInterval = 50 * time.Millisecond
)

// Spawn describes the outcome of Daemonize in the parent process.
type Spawn struct {
	// Parent is true in the launching process, which should exit.
	Parent bool
	PID    int
	// Ready is true when the child's socket accepted a connection in time.
	Ready bool
}

// Daemonize re-executes the current binary in a new session with
// GAMEPILOT_DAEMONIZED=1. In the child it returns immediately with Parent
// false. The child's stdout and stderr go to outputPath so early panics are
// kept.
func Daemonize(socketPath, outputPath string) (Spawn, error) {
	if IsDaemonized() {
		return Spawn{PID: os.Getpid()}, nil
	}

	executable, err := os.Executable()
	if err != nil {
		return Spawn{}, fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(executable, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if outputPath != "" {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return Spawn{}, fmt.Errorf("create output directory: %w", err)
		}
		out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return Spawn{}, fmt.Errorf("open daemon output: %w", err)
		}
		defer func() { _ = out.Close() }()
		cmd.Stdout = out
		cmd.Stderr = out
	}

	if err := cmd.Start(); err != nil {
		return Spawn{}, fmt.Errorf("start daemon: %w", err)
	}
	spawn := Spawn{Parent: true, PID: cmd.Process.Pid}
	_ = cmd.Process.Release()

	spawn.Ready = waitForSocketReady(socketPath, socketWaitTimeout) == nil
	return spawn, nil
}

// IsDaemonized reports whether this process is the background child.
func IsDaemonized() bool {
	return os.Getenv(daemonEnvVar) == "1"
}

func waitForSocketReady(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", socketPath, socketCheckInterval)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(socketCheckInterval)
	}
	return fmt.Errorf("socket not available after %v", timeout)
}
