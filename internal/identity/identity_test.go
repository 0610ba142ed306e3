package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestSelection_FallbackIsStable(t *testing.T) {
	s := NewSelection(filepath.Join(t.TempDir(), "selection.json"), nil)

	first := s.ID()
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("fallback %q is not a uuid: %v", first, err)
	}
	if second := s.ID(); second != first {
		t.Errorf("fallback changed: %q then %q", first, second)
	}
	if s.Selected() != "" {
		t.Errorf("Selected() = %q, want empty", s.Selected())
	}
}

func TestSelection_SelectPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "selection.json")
	s := NewSelection(path, nil)

	if err := s.Select("4312"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if s.ID() != "4312" {
		t.Errorf("ID() = %q, want 4312", s.ID())
	}

	reloaded := NewSelection(path, nil)
	if reloaded.ID() != "4312" {
		t.Errorf("reloaded ID() = %q, want 4312", reloaded.ID())
	}
}

func TestSelection_ClearResetsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selection.json")
	s := NewSelection(path, nil)

	fallback := s.ID()
	if err := s.Select("77"); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("selection file still exists after Clear")
	}
	if s.Selected() != "" {
		t.Errorf("Selected() = %q after Clear", s.Selected())
	}
	if id := s.ID(); id == "77" || id == fallback {
		t.Errorf("ID() = %q after Clear, want a fresh fallback", id)
	}

	// Clearing twice is fine
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestSelection_CorruptFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selection.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewSelection(path, nil)
	if s.Selected() != "" {
		t.Errorf("Selected() = %q, want empty for corrupt file", s.Selected())
	}
}

func TestSelection_NoPath(t *testing.T) {
	s := NewSelection("", nil)
	if err := s.Select("9"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if s.ID() != "9" {
		t.Errorf("ID() = %q, want 9", s.ID())
	}
	if err := s.Clear(); err != nil {
		t.Errorf("Clear failed: %v", err)
	}
}

func TestStatic(t *testing.T) {
	var src Source = Static("abc")
	if src.ID() != "abc" {
		t.Errorf("ID() = %q, want abc", src.ID())
	}
}
