package store

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestNew_Empty(t *testing.T) {
	s := New()
	v := s.View()

	if v.Round != 0 || v.Active || v.Connected {
		t.Errorf("View() = %+v, want zero state", v)
	}
	if v.Snapshot != nil || v.LastEvent != nil {
		t.Error("new store should have no snapshot or last event")
	}
	if len(s.Logs()) != 0 {
		t.Error("new store should have no logs")
	}
}

func TestSetRound_ClampsNegative(t *testing.T) {
	s := New()
	s.SetRound(-3)
	if got := s.RoundState().Round; got != 0 {
		t.Errorf("Round = %d, want 0", got)
	}
	s.SetRound(4)
	s.SetActive(true)
	if got := s.RoundState(); got != (RoundState{Round: 4, Active: true}) {
		t.Errorf("RoundState() = %+v", got)
	}
}

func TestAppendLog_PreservesOrder(t *testing.T) {
	s := New()
	for _, msg := range []string{"a", "b", "c"} {
		s.AppendLog(LogRecord{Message: msg, Level: LevelInfo})
	}

	logs := s.Logs()
	if len(logs) != 3 {
		t.Fatalf("len(Logs()) = %d, want 3", len(logs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if logs[i].Message != want {
			t.Errorf("logs[%d] = %q, want %q", i, logs[i].Message, want)
		}
	}

	// Mutating the returned slice must not leak into the store
	logs[0].Message = "changed"
	if s.Logs()[0].Message != "a" {
		t.Error("Logs() returned an aliased slice")
	}
}

func TestLogsSince(t *testing.T) {
	s := New()
	s.AppendLog(LogRecord{Message: "one"})
	s.AppendLog(LogRecord{Message: "two"})

	recs, next := s.LogsSince(0)
	if len(recs) != 2 || next != 2 {
		t.Fatalf("LogsSince(0) = %d records, next %d", len(recs), next)
	}

	recs, next = s.LogsSince(next)
	if len(recs) != 0 || next != 2 {
		t.Errorf("LogsSince(2) = %d records, next %d", len(recs), next)
	}

	s.AppendLog(LogRecord{Message: "three"})
	recs, next = s.LogsSince(next)
	if len(recs) != 1 || recs[0].Message != "three" || next != 3 {
		t.Errorf("LogsSince after append = %+v, next %d", recs, next)
	}

	recs, _ = s.LogsSince(-5)
	if len(recs) != 3 {
		t.Errorf("LogsSince(-5) = %d records, want 3", len(recs))
	}
}

func TestReplaceSnapshot_Wholesale(t *testing.T) {
	s := New()
	s.ReplaceSnapshot(&ActivitySnapshot{
		Side:  "left",
		Cells: map[int]Cell{1: {Card: "GuGu", Level: 4}, 2: {Card: "Xiao ye", Level: 1}},
	})
	s.ReplaceSnapshot(&ActivitySnapshot{
		Side:  "right",
		Cells: map[int]Cell{3: {Card: "Mo", Level: 2}},
	})

	snap := s.Snapshot()
	if snap.Side != "right" {
		t.Errorf("Side = %q, want right", snap.Side)
	}
	if len(snap.Cells) != 1 {
		t.Errorf("Cells = %v, want only the latest cells", snap.Cells)
	}
	if _, ok := snap.Cells[1]; ok {
		t.Error("cells from the previous snapshot were merged")
	}
}

func TestReplaceSnapshot_CopiesInput(t *testing.T) {
	s := New()
	in := &ActivitySnapshot{Side: "left", Cells: map[int]Cell{1: {Card: "A"}}}
	s.ReplaceSnapshot(in)

	in.Cells[1] = Cell{Card: "B"}
	in.Side = "right"

	snap := s.Snapshot()
	if snap.Side != "left" || snap.Cells[1].Card != "A" {
		t.Errorf("store shares memory with caller: %+v", snap)
	}
}

func TestSetLastEvent(t *testing.T) {
	s := New()
	if s.LastEvent() != nil {
		t.Fatal("LastEvent() should start nil")
	}

	s.SetLastEvent(Event{Type: "weather", Data: json.RawMessage(`{"rain":true}`)})
	ev := s.LastEvent()
	if ev == nil || ev.Type != "weather" || string(ev.Data) != `{"rain":true}` {
		t.Errorf("LastEvent() = %+v", ev)
	}
	if s.View().LastEvent.Type != "weather" {
		t.Error("View() missing last event")
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.SetRound(i)
			s.SetActive(i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.AppendLog(LogRecord{Message: "x"})
			s.ReplaceSnapshot(&ActivitySnapshot{Level: i})
		}
	}()
	for i := 0; i < 100; i++ {
		_ = s.View()
	}
	wg.Wait()

	if len(s.Logs()) != 200 {
		t.Errorf("len(Logs()) = %d, want 200", len(s.Logs()))
	}
	if s.RoundState().Round != 199 {
		t.Errorf("Round = %d, want 199", s.RoundState().Round)
	}
}
