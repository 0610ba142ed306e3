// Package identity resolves the identifier of the currently selected target.
//
// The same identifier is sent in the target header of every backend request
// and used as the stream connection key, so both paths read it from one
// Source.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// selection is the persisted file format.
type selection struct {
	Window string `json:"window"`
}

// Source yields the current target identifier.
type Source interface {
	ID() string
}

// Static is a Source that always returns the same identifier.
type Static string

// ID returns the identifier.
func (s Static) ID() string { return string(s) }

// Selection is a Source backed by a persisted selection file. When nothing
// has been selected it falls back to a generated identifier that stays
// stable until Clear is called.
type Selection struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	selected string
	fallback string
}

// NewSelection creates a Selection persisted at path and loads any existing
// selection. A missing or unreadable file leaves the selection empty.
func NewSelection(path string, logger *slog.Logger) *Selection {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selection{
		path:   path,
		logger: logger.With("component", "identity"),
	}
	s.load()
	return s
}

func (s *Selection) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read selection", "path", s.path, "error", err)
		}
		return
	}
	var sel selection
	if err := json.Unmarshal(data, &sel); err != nil {
		s.logger.Warn("ignoring corrupt selection", "path", s.path, "error", err)
		return
	}
	s.selected = sel.Window
}

// ID returns the selected window identifier, or the generated fallback.
func (s *Selection) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != "" {
		return s.selected
	}
	if s.fallback == "" {
		s.fallback = uuid.NewString()
	}
	return s.fallback
}

// Selected returns the explicit selection, or "" when none is set.
func (s *Selection) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select persists a new selection.
func (s *Selection) Select(window string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(selection{Window: window}); err != nil {
		return err
	}
	s.selected = window
	return nil
}

// Clear forgets the selection and the generated fallback, and removes the
// persisted file.
func (s *Selection) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = ""
	s.fallback = ""
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove selection: %w", err)
	}
	return nil
}

// write saves atomically via temp file and rename. Caller holds s.mu.
func (s *Selection) write(sel selection) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create selection dir: %w", err)
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write selection: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename selection: %w", err)
	}
	return nil
}
