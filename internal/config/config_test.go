package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestDefaultBackendConfig(t *testing.T) {
	cfg := Default()

	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://localhost:8000")
	}
	if cfg.Backend.TargetHeader != "x-pid" {
		t.Errorf("Backend.TargetHeader = %q, want %q", cfg.Backend.TargetHeader, "x-pid")
	}
	if cfg.Backend.RequestTimeout != 0 {
		t.Errorf("Backend.RequestTimeout = %v, want 0 (none)", cfg.Backend.RequestTimeout)
	}
}

func TestDefaultHeartbeatConfig(t *testing.T) {
	cfg := Default()

	if cfg.Heartbeat.Interval() != 10*time.Second {
		t.Errorf("Heartbeat.Interval() = %v, want %v", cfg.Heartbeat.Interval(), 10*time.Second)
	}
	cfg.Heartbeat.Cadence = CadenceFast
	if cfg.Heartbeat.Interval() != time.Second {
		t.Errorf("fast Heartbeat.Interval() = %v, want %v", cfg.Heartbeat.Interval(), time.Second)
	}
	if cfg.Heartbeat.EntryGraceTicks != 0 {
		t.Errorf("Heartbeat.EntryGraceTicks = %d, want 0", cfg.Heartbeat.EntryGraceTicks)
	}
}

func TestDefaultPathsConfig(t *testing.T) {
	cfg := Default()

	paths := []struct {
		name string
		got  string
		want string
	}{
		{"State", cfg.Paths.State, ".gamepilot/state.json"},
		{"Log", cfg.Paths.Log, ".gamepilot/events.log"},
		{"Socket", cfg.Paths.Socket, ".gamepilot/gamepilot.sock"},
		{"PID", cfg.Paths.PID, ".gamepilot/gamepilot.pid"},
		{"Selection", cfg.Paths.Selection, ".gamepilot/selection.json"},
	}

	for _, tc := range paths {
		if tc.got != tc.want {
			t.Errorf("Paths.%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestDefaultRounds(t *testing.T) {
	tests := []struct {
		mode string
		want int
	}{
		{ModeCollab, 6},
		{ModeIceCastle, 6},
		{ModeMoonIsland, 4},
		{"unknown", 0},
		{"", 0},
	}

	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			if got := DefaultRounds(tc.mode); got != tc.want {
				t.Errorf("DefaultRounds(%q) = %d, want %d", tc.mode, got, tc.want)
			}
		})
	}
}

func TestSessionRounds(t *testing.T) {
	s := SessionConfig{Mode: ModeMoonIsland, TotalRounds: -1}
	if s.Rounds() != 4 {
		t.Errorf("Rounds() with unset total = %d, want 4", s.Rounds())
	}

	s.TotalRounds = 0
	if s.Rounds() != 0 {
		t.Errorf("Rounds() with explicit zero = %d, want 0", s.Rounds())
	}

	s.TotalRounds = 9
	if s.Rounds() != 9 {
		t.Errorf("Rounds() = %d, want 9", s.Rounds())
	}
}

func TestRoleComplete(t *testing.T) {
	if (RoleConfig{}).Complete() {
		t.Error("empty role reported complete")
	}
	if (RoleConfig{Game: 3}).Complete() {
		t.Error("role without tool reported complete")
	}
	if !(RoleConfig{Game: 3, Tool: 4}).Complete() {
		t.Error("full role reported incomplete")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown mode", func(c *Config) { c.Session.Mode = "arena" }, ErrUnknownMode},
		{"unknown post action", func(c *Config) { c.Session.PostAction = "reboot" }, ErrUnknownPostAction},
		{"negative rounds", func(c *Config) { c.Session.TotalRounds = -2 }, ErrInvalidRounds},
		{"unknown cadence", func(c *Config) { c.Heartbeat.Cadence = "slow" }, ErrUnknownCadence},
		{"zero interval", func(c *Config) { c.Heartbeat.FastInterval = 0 }, ErrInvalidInterval},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}

	t.Run("negative grace ticks", func(t *testing.T) {
		cfg := Default()
		cfg.Heartbeat.EntryGraceTicks = -1
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() accepted negative grace ticks")
		}
	})
}
