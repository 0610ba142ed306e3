package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateBufferSize is the recommended buffer size for state sink subscriptions.
const StateBufferSize = 1000

// CurrentStateVersion is the current state file format version.
// Increment this when making incompatible changes to the State struct.
const CurrentStateVersion = 1

// Persisted run statuses.
const (
	StatusIdle     = "idle"
	StatusActive   = "active"
	StatusStopped  = "stopped"
	StatusComplete = "complete"
)

// State represents the persistent run state used by `run --resume`.
type State struct {
	Version       int       `json:"version"`
	Status        string    `json:"status"`
	RunID         string    `json:"run_id,omitempty"`
	Mode          string    `json:"mode,omitempty"`
	Round         int       `json:"round"`
	TotalRounds   int       `json:"total_rounds"`
	SessionID     string    `json:"session_id,omitempty"`
	CompletedRuns int       `json:"completed_runs"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Resumable reports whether the persisted run was interrupted mid-budget.
func (s State) Resumable() bool {
	switch s.Status {
	case StatusActive, StatusStopped:
		return s.Round > 0 && s.Round <= s.TotalRounds
	default:
		return false
	}
}

// DefaultMinSaveDelay is the minimum time between saves.
const DefaultMinSaveDelay = 5 * time.Second

// StateSink persists run state to a JSON file for crash recovery.
type StateSink struct {
	path     string
	state    *State
	dirty    bool
	mu       sync.Mutex
	done     chan struct{}
	lastSave time.Time
	minDelay time.Duration
	logger   *slog.Logger
}

// NewStateSink creates a new StateSink that writes to the specified path.
func NewStateSink(path string) *StateSink {
	return &StateSink{
		path: path,
		state: &State{
			Version: CurrentStateVersion,
			Status:  StatusIdle,
		},
		done:     make(chan struct{}),
		minDelay: DefaultMinSaveDelay,
		logger:   slog.Default().With("component", "statesink"),
	}
}

// Start ensures the directory exists, loads existing state, and begins processing events.
func (s *StateSink) Start(ctx context.Context, events <-chan Event) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load state: %w", err)
	}

	go s.run(ctx, events)
	return nil
}

func (s *StateSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.flushIfDirty()
			return
		case event, ok := <-events:
			if !ok {
				s.flushIfDirty()
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *StateSink) handleEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case *RunStartEvent:
		s.state.Status = StatusActive
		s.state.RunID = e.RunID
		s.state.Mode = e.Mode
		s.state.TotalRounds = e.TotalRounds
		s.dirty = true

	case *RoundStartEvent:
		s.state.Round = e.Round
		s.dirty = true

	case *SessionProbeEvent:
		if s.state.Round != e.Round {
			s.state.Round = e.Round
			s.dirty = true
		}

	case *RunStopEvent:
		s.state.Status = StatusStopped
		s.state.Round = e.Round
		s.dirty = true
		// Always save immediately on stop
		s.saveUnlocked()
		return

	case *RunCompleteEvent:
		s.state.Status = StatusComplete
		s.state.Round = e.Rounds
		s.state.CompletedRuns++
		s.dirty = true
		s.saveUnlocked()
		return

	case *RunResetEvent:
		s.state.Status = StatusIdle
		s.state.Round = 0
		s.dirty = true
		s.saveUnlocked()
		return

	case *StreamConnectedEvent:
		if s.state.SessionID != e.SessionID {
			s.state.SessionID = e.SessionID
			s.dirty = true
		}
	}

	// Debounced save
	if s.dirty && time.Since(s.lastSave) >= s.minDelay {
		s.saveUnlocked()
	}
}

func (s *StateSink) saveUnlocked() {
	s.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		s.logger.Error("marshal state", "error", err)
		return
	}

	// Atomic write: temp file + rename
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		s.logger.Error("write state", "path", tmpPath, "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.logger.Error("rename state", "path", s.path, "error", err)
		return
	}

	s.dirty = false
	s.lastSave = time.Now()
}

func (s *StateSink) flushIfDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.saveUnlocked()
	}
}

// Stop waits for the run goroutine to finish and performs a final save if needed.
func (s *StateSink) Stop() error {
	<-s.done
	return nil
}

// Load reads the state file from disk.
// If the version is missing or incompatible, the old state is backed up and a fresh state is used.
func (s *StateSink) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := readState(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		if backupErr := os.Rename(s.path, s.path+".backup"); backupErr != nil {
			s.logger.Warn("state file unusable, failed to backup",
				"path", s.path,
				"error", err,
				"backup_error", backupErr)
		} else {
			s.logger.Warn("state file unusable, backed up and starting fresh",
				"path", s.path,
				"error", err)
		}
		s.state = &State{Version: CurrentStateVersion, Status: StatusIdle}
		return nil
	}

	s.state = state
	return nil
}

// LoadState reads a state file without a running sink, for `run --resume`
// and `status` when no daemon is up.
func LoadState(path string) (State, error) {
	state, err := readState(path)
	if err != nil {
		return State{}, err
	}
	return *state, nil
}

func readState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt state file: %w", err)
	}
	if state.Version != CurrentStateVersion {
		return nil, fmt.Errorf("incompatible state version %d (want %d)", state.Version, CurrentStateVersion)
	}
	return &state, nil
}

// State returns a copy of the current state.
func (s *StateSink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// Path returns the state file path.
func (s *StateSink) Path() string {
	return s.path
}

// SetMinDelay sets the minimum delay between saves (for testing).
func (s *StateSink) SetMinDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minDelay = d
}
