package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func runLogSink(t *testing.T, path string, evs ...Event) {
	t.Helper()
	sink := NewLogSink(path, Rotation{})
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
}

func TestNewLogSinkDefaultsRotation(t *testing.T) {
	sink := NewLogSink("/tmp/events.log", Rotation{})
	if sink.Path() != "/tmp/events.log" {
		t.Errorf("Path = %q", sink.Path())
	}
	if sink.rotation.MaxSizeMB != 100 {
		t.Errorf("MaxSizeMB = %d, want 100", sink.rotation.MaxSizeMB)
	}
}

func TestLogSinkCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "events.log")
	runLogSink(t, path)

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("expected directory to be created: %v", err)
	}
}

func TestLogSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	runLogSink(t, path,
		&RoundStartEvent{BaseEvent: NewControllerEvent(EventRoundStart), RunID: "r1", Round: 1, Reason: RoundInitial},
		&SessionProbeEvent{BaseEvent: NewControllerEvent(EventSessionProbe), Round: 1, Active: true, Phase: PhaseEntered},
	)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if first["type"] != string(EventRoundStart) {
		t.Errorf("type = %v, want %s", first["type"], EventRoundStart)
	}
	if first["reason"] != RoundInitial {
		t.Errorf("reason = %v, want %s", first["reason"], RoundInitial)
	}
}

func TestLogSinkAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	runLogSink(t, path, &RunResetEvent{BaseEvent: NewControllerEvent(EventRunReset), PreviousRound: 3})
	runLogSink(t, path, &RunResetEvent{BaseEvent: NewControllerEvent(EventRunReset), PreviousRound: 0})

	var got []int
	err := Tail(context.Background(), path, false, func(ev Event) {
		got = append(got, ev.(*RunResetEvent).PreviousRound)
	})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 0 {
		t.Errorf("got %v, want [3 0]", got)
	}
}

func TestLogSinkStopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	sink := NewLogSink(path, Rotation{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Start(ctx, make(chan Event)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = sink.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancel")
	}
}

func TestTailSkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	content := strings.Join([]string{
		`{"type":"run.reset","timestamp":"2026-01-02T03:04:05Z","source":"controller","previous_round":2}`,
		`not json`,
		`{"type":"future.thing","timestamp":"2026-01-02T03:04:05Z"}`,
		`{"type":"error","timestamp":"2026-01-02T03:04:05Z","source":"gamepilot","message":"boom","severity":"error"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	var types []EventType
	if err := Tail(context.Background(), path, false, func(ev Event) { types = append(types, ev.Type()) }); err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(types) != 2 || types[0] != EventRunReset || types[1] != EventError {
		t.Errorf("types = %v", types)
	}
}

func TestTailMissingFile(t *testing.T) {
	err := Tail(context.Background(), filepath.Join(t.TempDir(), "nope.log"), false, func(Event) {})
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestTailFollowPicksUpAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var rounds []int
	done := make(chan error, 1)
	go func() {
		done <- Tail(ctx, path, true, func(ev Event) {
			if rs, ok := ev.(*RoundStartEvent); ok {
				mu.Lock()
				rounds = append(rounds, rs.Round)
				mu.Unlock()
			}
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for round := 1; round <= 2; round++ {
		ev := &RoundStartEvent{BaseEvent: NewControllerEvent(EventRoundStart), Round: round, Reason: RoundAdvance}
		if err := enc.Encode(ev); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(rounds)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follow saw %d events, want 2", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Tail returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Tail did not return after cancel")
	}
}
