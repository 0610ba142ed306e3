package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// isolate runs the test from an empty directory with no global config.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
	return tmpDir
}

func writeProjectConfig(t *testing.T, content string) string {
	t.Helper()
	if err := os.MkdirAll(ProjectConfigDir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	path := filepath.Join(ProjectConfigDir, ProjectConfigFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	v := viper.New()
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Heartbeat.SteadyInterval != 10*time.Second {
		t.Errorf("Heartbeat.SteadyInterval = %v, want %v", cfg.Heartbeat.SteadyInterval, 10*time.Second)
	}
	if cfg.Session.Mode != ModeCollab {
		t.Errorf("Session.Mode = %q, want %q", cfg.Session.Mode, ModeCollab)
	}
	if cfg.Session.Rounds() != 6 {
		t.Errorf("Session.Rounds() = %d, want 6", cfg.Session.Rounds())
	}
}

func TestLoadConfig_ProjectFile(t *testing.T) {
	isolate(t)
	writeProjectConfig(t, `
backend:
  base_url: "http://10.0.0.5:9000"
  request_timeout: 3s
session:
  mode: moon_island
  total_rounds: 2
  post_action: power_off
target:
  primary:
    game: 101
    tool: 102
  secondary:
    game: 201
    tool: 202
heartbeat:
  cadence: fast
  fast_interval: 500ms
`)

	v := viper.New()
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://10.0.0.5:9000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RequestTimeout != 3*time.Second {
		t.Errorf("Backend.RequestTimeout = %v, want 3s", cfg.Backend.RequestTimeout)
	}
	if cfg.Session.Mode != ModeMoonIsland || cfg.Session.Rounds() != 2 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Session.PostAction != PostActionPowerOff {
		t.Errorf("Session.PostAction = %q, want %q", cfg.Session.PostAction, PostActionPowerOff)
	}
	if cfg.Target.Primary != (RoleConfig{Game: 101, Tool: 102}) {
		t.Errorf("Target.Primary = %+v", cfg.Target.Primary)
	}
	if cfg.Target.Secondary != (RoleConfig{Game: 201, Tool: 202}) {
		t.Errorf("Target.Secondary = %+v", cfg.Target.Secondary)
	}
	if cfg.Heartbeat.Interval() != 500*time.Millisecond {
		t.Errorf("Heartbeat.Interval() = %v, want 500ms", cfg.Heartbeat.Interval())
	}
	// Untouched values keep their defaults
	if cfg.Backend.TargetHeader != "x-pid" {
		t.Errorf("Backend.TargetHeader = %q, want default", cfg.Backend.TargetHeader)
	}
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	tmpDir := isolate(t)

	configPath := filepath.Join(tmpDir, "custom-config.yaml")
	content := "session:\n  mode: ice_castle\n  support_only: true\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	v := viper.New()
	v.Set("config", configPath)

	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Session.Mode != ModeIceCastle {
		t.Errorf("Session.Mode = %q, want %q", cfg.Session.Mode, ModeIceCastle)
	}
	if !cfg.Session.SupportOnly {
		t.Error("Session.SupportOnly = false, want true")
	}
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	isolate(t)

	v := viper.New()
	v.Set("config", "/nonexistent/path/config.yaml")

	if _, err := LoadConfig(v); err == nil {
		t.Error("LoadConfig should fail for missing explicit config")
	}
}

func TestLoadConfig_OverrideBeatsFile(t *testing.T) {
	isolate(t)
	writeProjectConfig(t, "session:\n  mode: moon_island\n")

	v := viper.New()
	// Simulate env/flag binding by setting directly in viper
	v.Set("session.mode", ModeIceCastle)

	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Session.Mode != ModeIceCastle {
		t.Errorf("Session.Mode = %q, want %q", cfg.Session.Mode, ModeIceCastle)
	}
}

func TestLoadConfig_InvalidRejected(t *testing.T) {
	isolate(t)
	writeProjectConfig(t, "session:\n  post_action: explode\n")

	v := viper.New()
	if _, err := LoadConfig(v); err == nil {
		t.Error("LoadConfig accepted an unknown post action")
	}
}

func TestFiles(t *testing.T) {
	tmpDir := isolate(t)

	v := viper.New()
	if files := Files(v); len(files) != 0 {
		t.Errorf("Files() = %v, want none", files)
	}

	project := writeProjectConfig(t, "session:\n  mode: collab\n")
	globalDir := filepath.Join(tmpDir, "xdg", GlobalConfigDir)
	if err := os.MkdirAll(globalDir, 0755); err != nil {
		t.Fatal(err)
	}
	global := filepath.Join(globalDir, GlobalConfigFile)
	if err := os.WriteFile(global, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	files := Files(v)
	if len(files) != 2 || files[0] != global || files[1] != project {
		t.Errorf("Files() = %v, want [%s %s]", files, global, project)
	}
}
