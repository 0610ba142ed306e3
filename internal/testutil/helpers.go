package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// DefaultWait is the deadline used by WaitFor when none is given.
const DefaultWait = 2 * time.Second

// WriteFile writes content to a file in the given directory.
// It creates parent directories as needed and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ReadFile reads a file and returns its contents.
// It fails the test if the file cannot be read.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// FileExists checks if a file exists.
func FileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

// WaitFor polls cond every few milliseconds until it returns true or the
// timeout passes, in which case the test fails with msg. A zero timeout
// means DefaultWait.
func WaitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	if timeout <= 0 {
		timeout = DefaultWait
	}
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v: %s", timeout, msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// SetupTestDir creates a temp directory with a .gamepilot subdirectory and
// returns the temp directory path. Cleanup is handled by t.TempDir.
func SetupTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".gamepilot"), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

// SetupTestDirWithState creates a test directory holding the given state
// file contents and returns the directory path.
func SetupTestDirWithState(t *testing.T, stateJSON string) string {
	t.Helper()
	dir := SetupTestDir(t)
	WriteFile(t, dir, ".gamepilot/state.json", stateJSON)
	return dir
}
