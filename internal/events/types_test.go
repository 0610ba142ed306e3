package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventInterfaceCompliance(t *testing.T) {
	var _ Event = &RunStartEvent{}
	var _ Event = &RunStopEvent{}
	var _ Event = &RunCompleteEvent{}
	var _ Event = &RunStateChangedEvent{}
	var _ Event = &RunResetEvent{}
	var _ Event = &RoundStartEvent{}
	var _ Event = &SessionProbeEvent{}
	var _ Event = &HeartbeatErrorEvent{}
	var _ Event = &PostActionEvent{}
	var _ Event = &StreamConnectedEvent{}
	var _ Event = &StreamDisconnectedEvent{}
	var _ Event = &ErrorEvent{}
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		name    string
		base    BaseEvent
		wantSrc string
	}{
		{"controller", NewControllerEvent(EventRoundStart), SourceController},
		{"stream", NewStreamEvent(EventStreamConnected), SourceStream},
		{"internal", NewInternalEvent(EventError), SourceInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.base.Source() != tt.wantSrc {
				t.Errorf("Source = %q, want %q", tt.base.Source(), tt.wantSrc)
			}
			if time.Since(tt.base.Timestamp()) > time.Second {
				t.Errorf("timestamp not populated: %v", tt.base.Timestamp())
			}
		})
	}
}

func TestSessionProbeEventJSON(t *testing.T) {
	ev := &SessionProbeEvent{
		BaseEvent: NewControllerEvent(EventSessionProbe),
		Round:     2,
		Active:    false,
		Phase:     PhaseWaiting,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"type":   "session.probe",
		"source": "controller",
		"round":  float64(2),
		"active": false,
		"phase":  "waiting",
	}
	for k, v := range want {
		if raw[k] != v {
			t.Errorf("%s = %v, want %v", k, raw[k], v)
		}
	}
	if _, ok := raw["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestOptionalFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(&PostActionEvent{BaseEvent: NewControllerEvent(EventPostAction), Action: "follow_up", Success: true})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["error"]; ok {
		t.Error("empty error should be omitted")
	}
}
