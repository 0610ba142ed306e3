// Package backend provides the client for the automation backend HTTP API.
// It abstracts backend operations so the control loop can be unit tested
// with MockDispatcher.
package backend

import (
	"context"
	"encoding/json"
	"strings"
)

// RoleHandles identifies the windows of one role: the activity window and
// the controlling tool window.
type RoleHandles struct {
	Game int `json:"game"`
	Tool int `json:"tool"`
}

// Complete reports whether both handles are set.
func (r RoleHandles) Complete() bool {
	return r.Game > 0 && r.Tool > 0
}

// SessionTarget holds both role slots.
type SessionTarget struct {
	Primary   RoleHandles `json:"main"`
	Secondary RoleHandles `json:"sub"`
}

// Complete reports whether both role slots are fully populated.
func (t SessionTarget) Complete() bool {
	return t.Primary.Complete() && t.Secondary.Complete()
}

// Activity returns the activity window pair used by IsActive.
func (t SessionTarget) Activity() ActivityPair {
	return ActivityPair{Primary: t.Primary.Game, Secondary: t.Secondary.Game}
}

// SessionConfig is the per-round part of a start request.
type SessionConfig struct {
	Mode        string
	SupportOnly bool
}

// ActivityPair identifies the two activity windows probed by IsActive.
type ActivityPair struct {
	Primary   int `json:"main"`
	Secondary int `json:"sub"`
}

// Window is one entry of a window listing.
type Window struct {
	Title string `json:"title"`
	PID   int    `json:"pid"`
}

// Ack is the response to a one-shot command. The backend answers either
// {"status": true|false} or {"status": "<word>"}.
type Ack struct {
	Status  string `json:"status"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// UnmarshalJSON accepts both the boolean and the string form of status.
func (a *Ack) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  json.RawMessage `json:"status"`
		OK      *bool           `json:"ok"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Message = raw.Message
	if raw.OK != nil {
		// Already in our own encoding.
		a.OK = *raw.OK
		_ = json.Unmarshal(raw.Status, &a.Status)
		return nil
	}

	var b bool
	if err := json.Unmarshal(raw.Status, &b); err == nil {
		a.OK = b
		a.Status = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Status, &s); err != nil {
		// Missing or unexpected status: treat the 2xx as acceptance.
		a.OK = true
		return nil
	}
	a.Status = s
	switch strings.ToLower(s) {
	case "error", "failed", "failure", "false":
		a.OK = false
	default:
		a.OK = true
	}
	return nil
}

// HealthStatus is the response of GET health.
type HealthStatus struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp,omitempty"`
	Uptime    float64 `json:"uptime,omitempty"`
}

// Healthy reports whether the backend declared itself ready.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy" || h.Status == "ok"
}

// SessionStarter begins rounds and probes whether one is running.
// Use this interface when you only need the control loop operations.
type SessionStarter interface {
	// StartSession instructs the backend to begin one round.
	StartSession(ctx context.Context, target SessionTarget, cfg SessionConfig) (Ack, error)

	// IsActive reports whether an activity is running in either window.
	IsActive(ctx context.Context, pair ActivityPair) (bool, error)
}

// WindowCommander issues one-shot window commands used for operator feedback.
type WindowCommander interface {
	// LocateWindow highlights a single window.
	LocateWindow(ctx context.Context, handle int) (Ack, error)

	// LocateRoleWindow checks the window pair of one role. idx is 0 for the
	// primary role and 1 for the secondary.
	LocateRoleWindow(ctx context.Context, role RoleHandles, idx int) (Ack, error)

	// LockWindow locks or unlocks a window. handle 0 means the backend's
	// currently targeted window.
	LockWindow(ctx context.Context, lock bool, handle int) (Ack, error)

	// StartAction runs a named one-off action against a window.
	StartAction(ctx context.Context, handle int, action string) (Ack, error)

	// GameWindows lists the activity windows.
	GameWindows(ctx context.Context) ([]Window, error)

	// ToolWindows lists the controlling tool windows.
	ToolWindows(ctx context.Context) ([]Window, error)
}

// Finisher issues the terminal commands run after the round budget is spent.
type Finisher interface {
	// StartFollowUpActivity begins the follow-up activity on the primary role.
	StartFollowUpActivity(ctx context.Context, target SessionTarget) (Ack, error)

	// PowerOff shuts the host down.
	PowerOff(ctx context.Context) (Ack, error)
}

// Dispatcher combines all backend operations.
type Dispatcher interface {
	SessionStarter
	WindowCommander
	Finisher

	// Health reports backend readiness.
	Health(ctx context.Context) (HealthStatus, error)
}
