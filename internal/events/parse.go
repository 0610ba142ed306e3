package events

import (
	"encoding/json"
)

// eventEnvelope is used for initial JSON parsing to determine event type.
type eventEnvelope struct {
	Type EventType `json:"type"`
}

// ParseEvent parses a JSON line from the event log into a typed Event.
// Returns nil with no error for unknown event types (for forward compatibility).
func ParseEvent(line []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, err
	}

	var ev Event
	switch envelope.Type {
	case EventRunStart:
		ev = &RunStartEvent{}
	case EventRunStop:
		ev = &RunStopEvent{}
	case EventRunComplete:
		ev = &RunCompleteEvent{}
	case EventRunStateChanged:
		ev = &RunStateChangedEvent{}
	case EventRunReset:
		ev = &RunResetEvent{}
	case EventRoundStart:
		ev = &RoundStartEvent{}
	case EventSessionProbe:
		ev = &SessionProbeEvent{}
	case EventHeartbeatFail:
		ev = &HeartbeatErrorEvent{}
	case EventPostAction:
		ev = &PostActionEvent{}
	case EventStreamConnected:
		ev = &StreamConnectedEvent{}
	case EventStreamDisconnected:
		ev = &StreamDisconnectedEvent{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(line, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
