// Package events defines the event type taxonomy and base structures for the
// gamepilot event system. Control loop and stream events flow through the
// Router to the log and state sinks and to `gamepilot events`.
package events

import "time"

// EventType identifies the category and nature of an event.
type EventType string

const (
	// Run lifecycle events
	EventRunStart        EventType = "run.start"
	EventRunStop         EventType = "run.stop"
	EventRunComplete     EventType = "run.complete"
	EventRunStateChanged EventType = "run.state_changed"
	EventRunReset        EventType = "run.reset"

	// Round events
	EventRoundStart EventType = "round.start"

	// Heartbeat events
	EventSessionProbe  EventType = "session.probe"
	EventHeartbeatFail EventType = "heartbeat.error"

	// Post-session action events
	EventPostAction EventType = "post_action"

	// Telemetry stream events
	EventStreamConnected    EventType = "stream.connected"
	EventStreamDisconnected EventType = "stream.disconnected"

	// Error events
	EventError EventType = "error"
)

// Source constants identify the origin of events.
const (
	SourceController = "controller"
	SourceStream     = "stream"
	SourceInternal   = "gamepilot"
)

// Event is the base interface for all events in the system.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"timestamp"`
	Src       string    `json:"source"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// Source returns the origin of the event.
func (e BaseEvent) Source() string {
	return e.Src
}

// RunStartEvent is emitted when the controller arms the heartbeat, either
// after a fresh start or on continue.
type RunStartEvent struct {
	BaseEvent
	RunID       string `json:"run_id"`
	Mode        string `json:"mode"`
	TotalRounds int    `json:"total_rounds"`
	Continued   bool   `json:"continued,omitempty"`
}

// RunStopEvent is emitted when the operator stops a run.
type RunStopEvent struct {
	BaseEvent
	RunID  string `json:"run_id"`
	Round  int    `json:"round"`
	Reason string `json:"reason,omitempty"`
}

// RunCompleteEvent is emitted when the round budget is exhausted.
type RunCompleteEvent struct {
	BaseEvent
	RunID       string `json:"run_id"`
	Rounds      int    `json:"rounds"`
	TotalRounds int    `json:"total_rounds"`
}

// RunStateChangedEvent is emitted on every controller state transition.
type RunStateChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// RunResetEvent is emitted when the round counter is reset to zero.
type RunResetEvent struct {
	BaseEvent
	PreviousRound int `json:"previous_round"`
}

// Round start reasons.
const (
	RoundInitial = "initial"
	RoundAdvance = "advance"
	RoundRetry   = "retry"
)

// RoundStartEvent is emitted when the backend accepts a session start.
type RoundStartEvent struct {
	BaseEvent
	RunID  string `json:"run_id"`
	Round  int    `json:"round"`
	Reason string `json:"reason"`
}

// Probe phases.
const (
	PhaseEntered    = "entered"
	PhaseInProgress = "in_progress"
	PhaseWaiting    = "waiting"
	PhaseEnded      = "ended"
)

// SessionProbeEvent is emitted for every heartbeat result the controller
// applies.
type SessionProbeEvent struct {
	BaseEvent
	Round  int    `json:"round"`
	Active bool   `json:"active"`
	Phase  string `json:"phase"`
}

// HeartbeatErrorEvent is emitted when a probe fails. The result is treated
// as indeterminate and the loop stays armed.
type HeartbeatErrorEvent struct {
	BaseEvent
	Round       int    `json:"round"`
	Error       string `json:"error"`
	Consecutive int    `json:"consecutive"`
}

// PostActionEvent is emitted after the post-session action runs.
type PostActionEvent struct {
	BaseEvent
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StreamConnectedEvent is emitted when the telemetry stream opens.
type StreamConnectedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
}

// StreamDisconnectedEvent is emitted when the telemetry stream closes.
type StreamDisconnectedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// Severity constants for error events.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ErrorEvent is emitted for any error condition.
type ErrorEvent struct {
	BaseEvent
	Message  string            `json:"message"`
	Severity string            `json:"severity"`
	Context  map[string]string `json:"context,omitempty"`
}

// NewEvent creates a BaseEvent with the given type and source.
func NewEvent(eventType EventType, source string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       source,
	}
}

// NewControllerEvent creates a BaseEvent with the controller as the source.
func NewControllerEvent(eventType EventType) BaseEvent {
	return NewEvent(eventType, SourceController)
}

// NewStreamEvent creates a BaseEvent with the stream as the source.
func NewStreamEvent(eventType EventType) BaseEvent {
	return NewEvent(eventType, SourceStream)
}

// NewInternalEvent creates a BaseEvent with gamepilot as the source.
func NewInternalEvent(eventType EventType) BaseEvent {
	return NewEvent(eventType, SourceInternal)
}
