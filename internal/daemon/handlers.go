package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npratt/gamepilot/internal/backend"
)

var (
	errNoController = errors.New("no controller available")
	errNoBackend    = errors.New("no backend available")
	errNoStream     = errors.New("no stream available")
	errFixedTarget  = errors.New("target is fixed by configuration")
)

// handleRequest dispatches the request to the matching handler.
func (d *Daemon) handleRequest(ctx context.Context, req *Request) Response {
	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodStatus:
		result, err = d.handleStatus()
	case MethodStart:
		result, err = d.withController(func() (any, error) {
			return "started", d.controller.Start(ctx)
		})
	case MethodContinue:
		result, err = d.withController(func() (any, error) {
			return "continuing", d.controller.Continue(ctx)
		})
	case MethodStop:
		result, err = d.withController(func() (any, error) {
			d.controller.Stop()
			return "stopped", nil
		})
	case MethodReset:
		result, err = d.withController(func() (any, error) {
			return "reset", d.controller.Reset()
		})
	case MethodWindows:
		result, err = d.handleWindows(ctx)
	case MethodLocate:
		result, err = d.handleLocate(ctx, req)
	case MethodLock:
		result, err = d.handleLock(ctx, req)
	case MethodLogs:
		result, err = d.handleLogs(req)
	case MethodShutdown:
		result, err = d.handleShutdown()
	case MethodSelect:
		result, err = d.handleSelect(ctx, req)
	case MethodConnect:
		result, err = d.handleConnect(ctx)
	case MethodDisconnect:
		result, err = d.handleDisconnect()
	default:
		err = fmt.Errorf("unknown method: %s", req.Method)
	}
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: result}
}

func (d *Daemon) withController(fn func() (any, error)) (any, error) {
	if d.controller == nil {
		return nil, errNoController
	}
	result, err := fn()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decodeParams converts the generic params value into dst.
func decodeParams(req *Request, dst any) error {
	if req.Params == nil {
		return nil
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid params for %s: %w", req.Method, err)
	}
	return nil
}

func (d *Daemon) handleStatus() (any, error) {
	if d.controller == nil {
		return nil, errNoController
	}
	snap := d.controller.Snapshot()

	d.mu.RLock()
	startTime := d.startTime
	d.mu.RUnlock()

	resp := StatusResponse{
		Status:              string(snap.State),
		Round:               snap.Round,
		TotalRounds:         snap.TotalRounds,
		Mode:                snap.Mode,
		PostAction:          snap.PostAction,
		RunID:               snap.RunID,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		SkippedTicks:        snap.SkippedTicks,
		Uptime:              time.Since(startTime).Truncate(time.Second).String(),
		StartTime:           startTime.Format(time.RFC3339),
	}
	if snap.Interval > 0 {
		resp.Interval = snap.Interval.String()
	}
	if d.stream != nil {
		resp.StreamConnected = d.stream.Connected()
		resp.SessionID = d.stream.SessionID()
	}
	if d.store != nil {
		view := d.store.View()
		resp.LogCount = view.LogCount
		if resp.SessionID == "" {
			resp.SessionID = view.SessionID
		}
	}
	return resp, nil
}

func (d *Daemon) handleWindows(ctx context.Context) (any, error) {
	if d.dispatcher == nil {
		return nil, errNoBackend
	}
	game, err := d.dispatcher.GameWindows(ctx)
	if err != nil {
		return nil, err
	}
	tool, err := d.dispatcher.ToolWindows(ctx)
	if err != nil {
		return nil, err
	}
	return WindowsResponse{Game: game, Tool: tool}, nil
}

func (d *Daemon) handleLocate(ctx context.Context, req *Request) (any, error) {
	if d.dispatcher == nil {
		return nil, errNoBackend
	}
	var p LocateParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}

	var (
		ack backend.Ack
		err error
	)
	switch p.Role {
	case "":
		if p.PID <= 0 {
			return nil, errors.New("locate needs a pid or a role")
		}
		ack, err = d.dispatcher.LocateWindow(ctx, p.PID)
	case RolePrimary, RoleSecondary:
		if d.controller == nil {
			return nil, errNoController
		}
		target := d.controller.Settings().Target
		role, idx := target.Primary, 0
		if p.Role == RoleSecondary {
			role, idx = target.Secondary, 1
		}
		if !role.Complete() {
			return nil, fmt.Errorf("%s role has no window pair selected", p.Role)
		}
		ack, err = d.dispatcher.LocateRoleWindow(ctx, role, idx)
	default:
		return nil, fmt.Errorf("unknown role %q", p.Role)
	}
	if err != nil {
		return nil, err
	}
	return AckResponse{OK: ack.OK, Status: ack.Status}, nil
}

func (d *Daemon) handleLock(ctx context.Context, req *Request) (any, error) {
	if d.dispatcher == nil {
		return nil, errNoBackend
	}
	var p LockParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	ack, err := d.dispatcher.LockWindow(ctx, p.Lock, p.PID)
	if err != nil {
		return nil, err
	}
	return AckResponse{OK: ack.OK, Status: ack.Status}, nil
}

func (d *Daemon) handleLogs(req *Request) (any, error) {
	if d.store == nil {
		return LogsResponse{}, nil
	}
	var p LogsParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	records, next := d.store.LogsSince(p.Since)
	return LogsResponse{Records: records, Next: next}, nil
}

// handleSelect switches the target: the old stream is closed, the new
// selection persisted and, when streaming is enabled, the stream reopened
// for it. The disconnect runs first because it clears the old selection.
func (d *Daemon) handleSelect(ctx context.Context, req *Request) (any, error) {
	var p SelectParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.Window == "" {
		return nil, errors.New("window is required")
	}
	sel, ok := d.identity.(Selector)
	if !ok {
		return nil, errFixedTarget
	}

	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	if d.stream != nil {
		d.stream.Disconnect()
	}
	if err := sel.Select(p.Window); err != nil {
		return nil, fmt.Errorf("select %s: %w", p.Window, err)
	}
	d.logger.Info("target selected", "window", p.Window)

	if d.stream != nil && d.config.Stream.Enabled {
		if err := d.stream.Connect(ctx, sel.ID()); err != nil {
			return nil, err
		}
	}
	return d.streamResponse(), nil
}

// handleConnect opens the stream for the current target. It is a no-op
// while connected.
func (d *Daemon) handleConnect(ctx context.Context) (any, error) {
	if d.stream == nil || d.identity == nil {
		return nil, errNoStream
	}
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	if err := d.stream.Connect(ctx, d.identity.ID()); err != nil {
		return nil, err
	}
	return d.streamResponse(), nil
}

func (d *Daemon) handleDisconnect() (any, error) {
	if d.stream == nil {
		return nil, errNoStream
	}
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	d.stream.Disconnect()
	return d.streamResponse(), nil
}

func (d *Daemon) streamResponse() StreamResponse {
	if d.stream == nil {
		return StreamResponse{}
	}
	return StreamResponse{Connected: d.stream.Connected(), SessionID: d.stream.SessionID()}
}

// handleShutdown stops the loop and schedules daemon exit after the
// response is written.
func (d *Daemon) handleShutdown() (any, error) {
	if d.controller != nil {
		d.controller.Stop()
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		if d.onShutdown != nil {
			d.onShutdown()
			return
		}
		_ = d.Stop()
	}()
	return "shutting down", nil
}
