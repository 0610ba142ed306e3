// Package config provides configuration types and defaults for gamepilot.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all configuration for gamepilot.
type Config struct {
	Backend     BackendConfig     `yaml:"backend" mapstructure:"backend"`
	Session     SessionConfig     `yaml:"session" mapstructure:"session"`
	Target      TargetConfig      `yaml:"target" mapstructure:"target"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat" mapstructure:"heartbeat"`
	Stream      StreamConfig      `yaml:"stream" mapstructure:"stream"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// BackendConfig holds settings for the automation backend HTTP API.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"` // 0 = no client-side timeout
	TargetHeader   string        `yaml:"target_header" mapstructure:"target_header"`
	HealthInterval time.Duration `yaml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout  time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"` // Max wait for readiness (0 = wait forever)
}

// SessionConfig describes what each round runs and what happens after the last one.
type SessionConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	TotalRounds int    `yaml:"total_rounds" mapstructure:"total_rounds"` // -1 = use the mode default
	SupportOnly bool   `yaml:"support_only" mapstructure:"support_only"`
	PostAction  string `yaml:"post_action" mapstructure:"post_action"`
}

// RoleConfig holds the window handles of one role.
type RoleConfig struct {
	Game int `yaml:"game" mapstructure:"game"`
	Tool int `yaml:"tool" mapstructure:"tool"`
}

// TargetConfig holds both role slots.
type TargetConfig struct {
	Primary   RoleConfig `yaml:"primary" mapstructure:"primary"`
	Secondary RoleConfig `yaml:"secondary" mapstructure:"secondary"`
}

// HeartbeatConfig holds activity polling settings.
type HeartbeatConfig struct {
	Cadence         string        `yaml:"cadence" mapstructure:"cadence"` // "steady" or "fast"
	SteadyInterval  time.Duration `yaml:"steady_interval" mapstructure:"steady_interval"`
	FastInterval    time.Duration `yaml:"fast_interval" mapstructure:"fast_interval"`
	EntryGraceTicks int           `yaml:"entry_grace_ticks" mapstructure:"entry_grace_ticks"` // Inactive ticks tolerated before a start counts as failed
}

// StreamConfig holds telemetry stream settings.
type StreamConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	SessionID string `yaml:"session_id" mapstructure:"session_id"` // Overrides the persisted selection
}

// PathsConfig holds file paths for state, logs, socket and selection.
type PathsConfig struct {
	State     string `yaml:"state" mapstructure:"state"`
	Log       string `yaml:"log" mapstructure:"log"`
	Socket    string `yaml:"socket" mapstructure:"socket"`
	PID       string `yaml:"pid" mapstructure:"pid"`
	Selection string `yaml:"selection" mapstructure:"selection"`
	DebugLog  string `yaml:"debug_log" mapstructure:"debug_log"`
}

// LogRotationConfig holds settings for the daemon log file rotation.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// Supported activity modes.
const (
	ModeCollab     = "collab"
	ModeIceCastle  = "ice_castle"
	ModeMoonIsland = "moon_island"
)

// Post-session actions. Exactly one applies per run.
const (
	PostActionNone     = "none"
	PostActionFollowUp = "follow_up"
	PostActionPowerOff = "power_off"
)

// Heartbeat cadences.
const (
	CadenceSteady = "steady"
	CadenceFast   = "fast"
)

// modeDefaultRounds are the round budgets used when total_rounds is unset.
var modeDefaultRounds = map[string]int{
	ModeCollab:     6,
	ModeIceCastle:  6,
	ModeMoonIsland: 4,
}

// Modes returns the supported modes.
func Modes() []string {
	return []string{ModeCollab, ModeIceCastle, ModeMoonIsland}
}

// DefaultRounds returns the default round budget for a mode, or 0 for an unknown one.
func DefaultRounds(mode string) int {
	return modeDefaultRounds[mode]
}

// Rounds returns the effective round budget.
func (s SessionConfig) Rounds() int {
	if s.TotalRounds < 0 {
		return DefaultRounds(s.Mode)
	}
	return s.TotalRounds
}

// Interval returns the heartbeat period for the configured cadence.
func (h HeartbeatConfig) Interval() time.Duration {
	if h.Cadence == CadenceFast {
		return h.FastInterval
	}
	return h.SteadyInterval
}

// Complete reports whether both handles of a role are set.
func (r RoleConfig) Complete() bool {
	return r.Game > 0 && r.Tool > 0
}

// Validation errors.
var (
	ErrUnknownMode       = errors.New("unknown mode")
	ErrUnknownPostAction = errors.New("unknown post action")
	ErrInvalidRounds     = errors.New("invalid round count")
	ErrInvalidInterval   = errors.New("invalid heartbeat interval")
	ErrUnknownCadence    = errors.New("unknown heartbeat cadence")
)

// Validate checks the configuration for values the control loop cannot use.
func (c *Config) Validate() error {
	if _, ok := modeDefaultRounds[c.Session.Mode]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Session.Mode)
	}
	switch c.Session.PostAction {
	case PostActionNone, PostActionFollowUp, PostActionPowerOff:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPostAction, c.Session.PostAction)
	}
	if c.Session.TotalRounds < -1 {
		return fmt.Errorf("%w: %d", ErrInvalidRounds, c.Session.TotalRounds)
	}
	switch c.Heartbeat.Cadence {
	case CadenceSteady, CadenceFast:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCadence, c.Heartbeat.Cadence)
	}
	if c.Heartbeat.SteadyInterval <= 0 || c.Heartbeat.FastInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.Heartbeat.EntryGraceTicks < 0 {
		return fmt.Errorf("entry_grace_ticks must not be negative: %d", c.Heartbeat.EntryGraceTicks)
	}
	return nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 0,
			TargetHeader:   "x-pid",
			HealthInterval: time.Second,
			HealthTimeout:  time.Minute,
		},
		Session: SessionConfig{
			Mode:        ModeCollab,
			TotalRounds: -1,
			SupportOnly: false,
			PostAction:  PostActionNone,
		},
		Heartbeat: HeartbeatConfig{
			Cadence:         CadenceSteady,
			SteadyInterval:  10 * time.Second,
			FastInterval:    time.Second,
			EntryGraceTicks: 0,
		},
		Stream: StreamConfig{
			Enabled: true,
		},
		Paths: PathsConfig{
			State:     ".gamepilot/state.json",
			Log:       ".gamepilot/events.log",
			Socket:    ".gamepilot/gamepilot.sock",
			PID:       ".gamepilot/gamepilot.pid",
			Selection: ".gamepilot/selection.json",
			DebugLog:  ".gamepilot/gamepilot-debug.log",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
