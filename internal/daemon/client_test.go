package daemon

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestClient_NotRunning(t *testing.T) {
	c := NewClient(shortSocketPath(t))

	if c.IsRunning() {
		t.Error("IsRunning() with no socket")
	}
	_, err := c.Status()
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Status() = %v, want ErrNotRunning", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() = %v, want ErrNotRunning", err)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	path := shortSocketPath(t)
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// Closing a unix listener removes the file; recreate a dead socket file
	// by keeping the path but no listener.
	ul := l.(*net.UnixListener)
	ul.SetUnlinkOnClose(false)
	_ = l.Close()

	err = NewClient(path).Reset()
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Reset() = %v, want ErrNotRunning", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	path := shortSocketPath(t)
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	// Accept but never answer.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		time.Sleep(time.Second)
		_ = conn.Close()
	}()

	c := NewClient(path)
	c.SetTimeout(100 * time.Millisecond)
	_, err = c.Status()
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Status() = %v, want timeout", err)
	}
}
