// Package store holds the state shared between the control loop and the
// telemetry stream.
//
// Fields have disjoint writers. The controller owns the round counter and
// the active flag; the stream owns the connected flag, the log records, the
// activity snapshot and the last event. Every method takes the store lock
// for a single field replacement, so readers never observe a torn value.
package store

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"
)

// Log levels carried by LogRecord.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogRecord is one telemetry log line. Records are never mutated after
// insertion.
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level"`
}

// Cell is one slot of the activity snapshot.
type Cell struct {
	Card  string `json:"card"`
	Level int    `json:"level"`
}

// ActivitySnapshot is the last known external activity telemetry. It is
// replaced wholesale on every update.
type ActivitySnapshot struct {
	Side      string       `json:"side"`
	Equipment string       `json:"equipment,omitempty"`
	Level     int          `json:"level,omitempty"`
	Seat      int          `json:"seat,omitempty"`
	Cells     map[int]Cell `json:"info"`
}

// Clone returns a deep copy of the snapshot.
func (s *ActivitySnapshot) Clone() *ActivitySnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Cells = maps.Clone(s.Cells)
	return &c
}

// Event is the raw form of the most recently decoded stream event.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RoundState is the controller-owned part of the store.
type RoundState struct {
	Round  int  `json:"round"`
	Active bool `json:"active"`
}

// View is a point-in-time copy of every field.
type View struct {
	SessionID string            `json:"session_id"`
	Round     int               `json:"round"`
	Active    bool              `json:"active"`
	Connected bool              `json:"connected"`
	LogCount  int               `json:"log_count"`
	Snapshot  *ActivitySnapshot `json:"snapshot,omitempty"`
	LastEvent *Event            `json:"last_event,omitempty"`
}

// Store is the injected shared state handle.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	round     int
	active    bool
	connected bool
	logs      []LogRecord
	snapshot  *ActivitySnapshot
	lastEvent *Event
}

// New creates an empty store: round 0, inactive, disconnected.
func New() *Store {
	return &Store{}
}

// SetRound records the current round. Negative values are clamped to 0.
func (s *Store) SetRound(round int) {
	if round < 0 {
		round = 0
	}
	s.mu.Lock()
	s.round = round
	s.mu.Unlock()
}

// SetActive records whether a round is running.
func (s *Store) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// RoundState returns the controller-owned fields.
func (s *Store) RoundState() RoundState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RoundState{Round: s.round, Active: s.active}
}

// SetSessionID records the identifier the stream is keyed by.
func (s *Store) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// SessionID returns the identifier the stream is keyed by.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetConnected records whether the stream is open.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

// Connected reports whether the stream is open.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// AppendLog appends a record in arrival order.
func (s *Store) AppendLog(rec LogRecord) {
	s.mu.Lock()
	s.logs = append(s.logs, rec)
	s.mu.Unlock()
}

// Logs returns a copy of all records.
func (s *Store) Logs() []LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

// LogsSince returns a copy of the records from offset on, and the offset to
// pass on the next call.
func (s *Store) LogsSince(offset int) ([]LogRecord, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.logs) {
		return nil, len(s.logs)
	}
	return slices.Clone(s.logs[offset:]), len(s.logs)
}

// ReplaceSnapshot swaps in a new snapshot. The previous one is discarded,
// never merged.
func (s *Store) ReplaceSnapshot(snap *ActivitySnapshot) {
	snap = snap.Clone()
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// Snapshot returns a copy of the current snapshot, or nil.
func (s *Store) Snapshot() *ActivitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

// SetLastEvent records the most recently decoded event.
func (s *Store) SetLastEvent(ev Event) {
	ev.Data = slices.Clone(ev.Data)
	s.mu.Lock()
	s.lastEvent = &ev
	s.mu.Unlock()
}

// LastEvent returns the most recently decoded event, or nil.
func (s *Store) LastEvent() *Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastEvent == nil {
		return nil
	}
	ev := *s.lastEvent
	ev.Data = slices.Clone(ev.Data)
	return &ev
}

// View returns a copy of every field.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		SessionID: s.sessionID,
		Round:     s.round,
		Active:    s.active,
		Connected: s.connected,
		LogCount:  len(s.logs),
		Snapshot:  s.snapshot.Clone(),
	}
	if s.lastEvent != nil {
		ev := *s.lastEvent
		ev.Data = slices.Clone(ev.Data)
		v.LastEvent = &ev
	}
	return v
}
