package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// feedStateSink runs a sink with no save debounce, sends evs, and returns the
// final in-memory state after the sink has stopped.
func feedStateSink(t *testing.T, path string, evs ...Event) State {
	t.Helper()
	sink := NewStateSink(path)
	sink.SetMinDelay(0)
	ch := make(chan Event, len(evs))
	if err := sink.Start(context.Background(), ch); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	if err := sink.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	return sink.State()
}

func runStart(id string, total int) *RunStartEvent {
	return &RunStartEvent{BaseEvent: NewControllerEvent(EventRunStart), RunID: id, Mode: "collab", TotalRounds: total}
}

func roundStart(round int) *RoundStartEvent {
	return &RoundStartEvent{BaseEvent: NewControllerEvent(EventRoundStart), Round: round, Reason: RoundAdvance}
}

func TestNewStateSink(t *testing.T) {
	sink := NewStateSink("/tmp/state.json")
	st := sink.State()
	if st.Version != CurrentStateVersion {
		t.Errorf("Version = %d, want %d", st.Version, CurrentStateVersion)
	}
	if st.Status != StatusIdle {
		t.Errorf("Status = %q, want idle", st.Status)
	}
	if sink.Path() != "/tmp/state.json" {
		t.Errorf("Path = %q", sink.Path())
	}
}

func TestStateSinkTracksRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := feedStateSink(t, path,
		runStart("run-1", 6),
		roundStart(1),
		&SessionProbeEvent{BaseEvent: NewControllerEvent(EventSessionProbe), Round: 1, Active: true},
		roundStart(2),
		&StreamConnectedEvent{BaseEvent: NewStreamEvent(EventStreamConnected), SessionID: "4242"},
	)

	if st.Status != StatusActive {
		t.Errorf("Status = %q, want active", st.Status)
	}
	if st.RunID != "run-1" || st.Mode != "collab" || st.TotalRounds != 6 {
		t.Errorf("run fields = %+v", st)
	}
	if st.Round != 2 {
		t.Errorf("Round = %d, want 2", st.Round)
	}
	if st.SessionID != "4242" {
		t.Errorf("SessionID = %q, want 4242", st.SessionID)
	}

	onDisk, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if onDisk.Round != 2 || onDisk.SessionID != "4242" {
		t.Errorf("persisted state = %+v", onDisk)
	}
}

func TestStateSinkTerminalEventsSaveImmediately(t *testing.T) {
	tests := []struct {
		name       string
		last       Event
		wantStatus string
		wantRound  int
		wantRuns   int
	}{
		{
			name:       "stop",
			last:       &RunStopEvent{BaseEvent: NewControllerEvent(EventRunStop), Round: 3},
			wantStatus: StatusStopped,
			wantRound:  3,
		},
		{
			name:       "complete",
			last:       &RunCompleteEvent{BaseEvent: NewControllerEvent(EventRunComplete), Rounds: 6, TotalRounds: 6},
			wantStatus: StatusComplete,
			wantRound:  6,
			wantRuns:   1,
		},
		{
			name:       "reset",
			last:       &RunResetEvent{BaseEvent: NewControllerEvent(EventRunReset), PreviousRound: 3},
			wantStatus: StatusIdle,
			wantRound:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			sink := NewStateSink(path)
			// A long debounce proves the terminal event bypasses it.
			sink.SetMinDelay(time.Hour)
			ch := make(chan Event, 4)
			if err := sink.Start(context.Background(), ch); err != nil {
				t.Fatal(err)
			}
			ch <- runStart("run-1", 6)
			ch <- roundStart(3)
			ch <- tt.last

			deadline := time.Now().Add(2 * time.Second)
			var st State
			for {
				var err error
				st, err = LoadState(path)
				if err == nil && st.Status == tt.wantStatus {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("state not saved: %+v (err %v)", st, err)
				}
				time.Sleep(10 * time.Millisecond)
			}
			close(ch)
			_ = sink.Stop()

			if st.Round != tt.wantRound {
				t.Errorf("Round = %d, want %d", st.Round, tt.wantRound)
			}
			if st.CompletedRuns != tt.wantRuns {
				t.Errorf("CompletedRuns = %d, want %d", st.CompletedRuns, tt.wantRuns)
			}
		})
	}
}

func TestStateSinkFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sink := NewStateSink(path)
	sink.SetMinDelay(time.Hour)
	ch := make(chan Event, 4)
	if err := sink.Start(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	ch <- runStart("run-1", 4)
	ch <- roundStart(1)
	ch <- roundStart(2)
	close(ch)
	_ = sink.Stop()

	st, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Round != 2 {
		t.Errorf("Round = %d, want 2", st.Round)
	}
}

func TestStateSinkLoadsExistingState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	feedStateSink(t, path, runStart("run-1", 6), roundStart(4),
		&RunStopEvent{BaseEvent: NewControllerEvent(EventRunStop), Round: 4})

	st := feedStateSink(t, path)
	if st.Status != StatusStopped || st.Round != 4 || st.RunID != "run-1" {
		t.Errorf("reloaded state = %+v", st)
	}
	if !st.Resumable() {
		t.Error("stopped run mid-budget should be resumable")
	}
}

func TestStateSinkBacksUpCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", "{not json"},
		{"wrong version", `{"version":99,"status":"active","round":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			st := feedStateSink(t, path)
			if st.Status != StatusIdle || st.Round != 0 {
				t.Errorf("expected fresh state, got %+v", st)
			}
			backup, err := os.ReadFile(path + ".backup")
			if err != nil {
				t.Fatalf("backup missing: %v", err)
			}
			if string(backup) != tt.content {
				t.Errorf("backup = %q, want %q", backup, tt.content)
			}
		})
	}
}

func TestStateSinkAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	feedStateSink(t, path, runStart("run-1", 6), roundStart(1))

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not JSON: %v", err)
	}
}

func TestStateResumable(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"active mid budget", State{Status: StatusActive, Round: 2, TotalRounds: 6}, true},
		{"stopped at last round", State{Status: StatusStopped, Round: 6, TotalRounds: 6}, true},
		{"never started", State{Status: StatusStopped, Round: 0, TotalRounds: 6}, false},
		{"complete", State{Status: StatusComplete, Round: 6, TotalRounds: 6}, false},
		{"idle", State{Status: StatusIdle, Round: 2, TotalRounds: 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Resumable(); got != tt.want {
				t.Errorf("Resumable = %v, want %v", got, tt.want)
			}
		})
	}
}
