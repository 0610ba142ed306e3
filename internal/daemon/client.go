package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

const (
	// DefaultClientTimeout is the default timeout for client operations.
	DefaultClientTimeout = 5 * time.Second
	// StartTimeout covers start and continue, which wait on the backend.
	StartTimeout = 60 * time.Second
)

// ErrNotRunning is returned when no daemon listens on the socket.
var ErrNotRunning = errors.New("daemon not running")

// Client connects to the daemon via Unix socket.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// NewClient creates a new daemon client.
func NewClient(sockPath string) *Client {
	return &Client{
		sockPath: sockPath,
		timeout:  DefaultClientTimeout,
	}
}

// SetTimeout sets the timeout for client operations.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// call sends one request and decodes the result into out, which may be nil.
func (c *Client) call(method string, params, out any, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	conn, err := net.DialTimeout("unix", c.sockPath, timeout)
	if err != nil {
		return c.wrapConnError(err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(Request{Method: method, Params: params}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return errors.New("daemon request timed out")
		}
		return fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// wrapConnError converts connection errors to user-friendly messages.
func (c *Client) wrapConnError(err error) error {
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ENOENT:
			return fmt.Errorf("%w (socket not found)", ErrNotRunning)
		case syscall.ECONNREFUSED:
			return fmt.Errorf("%w (connection refused)", ErrNotRunning)
		}
	}
	if os.IsNotExist(err) {
		return fmt.Errorf("%w (socket not found)", ErrNotRunning)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.New("daemon request timed out")
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

// Status returns the daemon and loop status.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MethodStatus, nil, &status, 0); err != nil {
		return nil, err
	}
	return &status, nil
}

// Start starts a run.
func (c *Client) Start() error {
	return c.call(MethodStart, nil, nil, StartTimeout)
}

// Continue re-arms the loop on the current round.
func (c *Client) Continue() error {
	return c.call(MethodContinue, nil, nil, StartTimeout)
}

// Stop disarms the loop, keeping the round counter.
func (c *Client) Stop() error {
	return c.call(MethodStop, nil, nil, 0)
}

// Reset sets the round counter back to 0.
func (c *Client) Reset() error {
	return c.call(MethodReset, nil, nil, 0)
}

// Windows lists the backend's game and tool windows.
func (c *Client) Windows() (*WindowsResponse, error) {
	var resp WindowsResponse
	if err := c.call(MethodWindows, nil, &resp, 0); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Locate highlights a window or a role's window pair.
func (c *Client) Locate(p LocateParams) (*AckResponse, error) {
	var resp AckResponse
	if err := c.call(MethodLocate, p, &resp, 0); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Lock locks or unlocks a window.
func (c *Client) Lock(lock bool, pid int) (*AckResponse, error) {
	var resp AckResponse
	if err := c.call(MethodLock, LockParams{Lock: lock, PID: pid}, &resp, 0); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs returns telemetry log records from offset since.
func (c *Client) Logs(since int) (*LogsResponse, error) {
	var resp LogsResponse
	if err := c.call(MethodLogs, LogsParams{Since: since}, &resp, 0); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown stops the loop and asks the daemon to exit.
func (c *Client) Shutdown() error {
	return c.call(MethodShutdown, nil, nil, 0)
}

// Select targets window and reconnects the stream for it.
func (c *Client) Select(window string) (*StreamResponse, error) {
	var resp StreamResponse
	if err := c.call(MethodSelect, SelectParams{Window: window}, &resp, StartTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Connect opens the stream for the current target.
func (c *Client) Connect() (*StreamResponse, error) {
	var resp StreamResponse
	if err := c.call(MethodConnect, nil, &resp, StartTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Disconnect closes the stream.
func (c *Client) Disconnect() (*StreamResponse, error) {
	var resp StreamResponse
	if err := c.call(MethodDisconnect, nil, &resp, 0); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsRunning checks if the daemon is running by attempting to connect.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
