package main

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose    = "verbose"
	FlagConfig     = "config"
	FlagLogFile    = "log-file"
	FlagStateFile  = "state-file"
	FlagSocketPath = "socket-path"
	FlagBackendURL = "backend-url"

	// Run command flags
	FlagDaemon      = "daemon"
	FlagStart       = "start"
	FlagResume      = "resume"
	FlagMode        = "mode"
	FlagRounds      = "rounds"
	FlagPostAction  = "post-action"
	FlagSupportOnly = "support-only"
	FlagCadence     = "cadence"
	FlagNoStream    = "no-stream"
	FlagSessionID   = "session-id"
	FlagMetrics     = "metrics"
	FlagMetricsAddr = "metrics-addr"

	// Events and logs command flags
	FlagFollow = "follow"
	FlagCount  = "count"
	FlagSince  = "since"

	// Output format flags
	FlagJSON = "json"

	// Window command flags
	FlagPID    = "pid"
	FlagRole   = "role"
	FlagUnlock = "unlock"

	// Simulate command flags
	FlagAddr          = "addr"
	FlagActiveProbes  = "active-probes"
	FlagJSONEvents    = "json-events"
	FlagTelemetryRate = "telemetry-interval"
)
