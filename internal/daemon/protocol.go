package daemon

import (
	"github.com/npratt/gamepilot/internal/backend"
	"github.com/npratt/gamepilot/internal/store"
)

// RPC method names.
const (
	MethodStatus   = "status"
	MethodStart    = "start"
	MethodStop     = "stop"
	MethodContinue = "continue"
	MethodReset    = "reset"
	MethodWindows  = "windows"
	MethodLocate   = "locate"
	MethodLock     = "lock"
	MethodLogs     = "logs"
	MethodShutdown = "shutdown"

	MethodSelect     = "select"
	MethodConnect    = "connect"
	MethodDisconnect = "disconnect"
)

// Request represents a JSON-RPC request from a client.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     int    `json:"id,omitempty"`
}

// Response represents a JSON-RPC response to a client.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	ID     int    `json:"id,omitempty"`
}

// StatusResponse contains daemon and control loop status.
type StatusResponse struct {
	Status              string `json:"status"`
	Round               int    `json:"round"`
	TotalRounds         int    `json:"total_rounds"`
	Mode                string `json:"mode"`
	PostAction          string `json:"post_action"`
	RunID               string `json:"run_id,omitempty"`
	Interval            string `json:"interval,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	SkippedTicks        uint64 `json:"skipped_ticks"`
	StreamConnected     bool   `json:"stream_connected"`
	SessionID           string `json:"session_id,omitempty"`
	LogCount            int    `json:"log_count"`
	Uptime              string `json:"uptime"`
	StartTime           string `json:"start_time"`
}

// WindowsResponse lists the windows known to the backend.
type WindowsResponse struct {
	Game []backend.Window `json:"game"`
	Tool []backend.Window `json:"tool"`
}

// Roles accepted by LocateParams.
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// LocateParams selects what to highlight: a single window by PID, or the
// configured window pair of a role.
type LocateParams struct {
	PID  int    `json:"pid,omitempty"`
	Role string `json:"role,omitempty"`
}

// LockParams contains parameters for the lock method. PID 0 targets the
// backend's current window.
type LockParams struct {
	Lock bool `json:"lock"`
	PID  int  `json:"pid,omitempty"`
}

// LogsParams asks for telemetry log records from offset Since.
type LogsParams struct {
	Since int `json:"since,omitempty"`
}

// LogsResponse carries log records and the offset to ask from next.
type LogsResponse struct {
	Records []store.LogRecord `json:"records"`
	Next    int               `json:"next"`
}

// AckResponse is the result of a window command.
type AckResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
}

// SelectParams names the window to target.
type SelectParams struct {
	Window string `json:"window"`
}

// StreamResponse reports the stream after select, connect or disconnect.
type StreamResponse struct {
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
}
