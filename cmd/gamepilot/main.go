package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/npratt/gamepilot/internal/config"
	"github.com/npratt/gamepilot/internal/daemon"
)

var version = "dev"

// cli carries what every command shares: the stderr logger and its level.
type cli struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

// applyVerbose switches the shared level to debug when --verbose is set.
func (c *cli) applyVerbose() {
	if viper.GetBool(FlagVerbose) {
		c.logLevel.Set(slog.LevelDebug)
		c.logger.Debug("verbose logging enabled")
	}
}

// getDaemonClient creates a daemon client for the project in the working
// directory. An explicit --socket-path wins over daemon.json discovery.
func getDaemonClient() *daemon.Client {
	if sock := viper.GetString(FlagSocketPath); sock != "" {
		return daemon.NewClient(sock)
	}
	fallback := ""
	resolved, err := daemon.ResolvePaths(config.PathsConfig{Socket: config.Default().Paths.Socket}, daemon.FindProjectRoot(""))
	if err == nil {
		fallback = resolved.Socket
	}
	return daemon.NewClient(daemon.SocketFor("", fallback))
}

// configureEnv enables GAMEPILOT_* environment overrides on v.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("GAMEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// newViper returns a viper instance bound to flags and the environment that
// shares nothing with the global one, for loads off the command goroutine.
func newViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	configureEnv(v)
	_ = v.BindPFlags(flags)
	return v
}

// loadConfig loads layered configuration through the global viper.
func loadConfig(flags *pflag.FlagSet) (*config.Config, string, error) {
	return loadConfigFrom(viper.GetViper(), flags)
}

// loadConfigFrom loads layered configuration from v, applies explicitly set
// flags and resolves every path against the project root.
func loadConfigFrom(v *viper.Viper, flags *pflag.FlagSet) (*config.Config, string, error) {
	cfg, err := config.LoadConfig(v)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid flags: %w", err)
	}

	projectRoot := daemon.FindProjectRoot("")
	cfg.Paths, err = daemon.ResolvePaths(cfg.Paths, projectRoot)
	if err != nil {
		return nil, "", fmt.Errorf("resolve paths: %w", err)
	}
	return cfg, projectRoot, nil
}

// applyFlagOverrides copies flags the user set on the command line into cfg.
// Unset flags leave file and environment values alone.
func applyFlagOverrides(flags *pflag.FlagSet, cfg *config.Config) {
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed(FlagLogFile) {
		cfg.Paths.Log, _ = flags.GetString(FlagLogFile)
	}
	if changed(FlagStateFile) {
		cfg.Paths.State, _ = flags.GetString(FlagStateFile)
	}
	if changed(FlagSocketPath) {
		cfg.Paths.Socket, _ = flags.GetString(FlagSocketPath)
	}
	if changed(FlagBackendURL) {
		cfg.Backend.BaseURL, _ = flags.GetString(FlagBackendURL)
	}
	if changed(FlagMode) {
		cfg.Session.Mode, _ = flags.GetString(FlagMode)
	}
	if changed(FlagRounds) {
		cfg.Session.TotalRounds, _ = flags.GetInt(FlagRounds)
	}
	if changed(FlagPostAction) {
		cfg.Session.PostAction, _ = flags.GetString(FlagPostAction)
	}
	if changed(FlagSupportOnly) {
		cfg.Session.SupportOnly, _ = flags.GetBool(FlagSupportOnly)
	}
	if changed(FlagCadence) {
		cfg.Heartbeat.Cadence, _ = flags.GetString(FlagCadence)
	}
	if changed(FlagNoStream) {
		noStream, _ := flags.GetBool(FlagNoStream)
		cfg.Stream.Enabled = !noStream
	}
	if changed(FlagSessionID) {
		cfg.Stream.SessionID, _ = flags.GetString(FlagSessionID)
	}
	if changed(FlagMetrics) {
		cfg.Metrics.Enabled, _ = flags.GetBool(FlagMetrics)
	}
	if changed(FlagMetricsAddr) {
		cfg.Metrics.Addr, _ = flags.GetString(FlagMetricsAddr)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gamepilot",
		Short: "Round automation for an external game session",
		Long: `gamepilot drives a game automation backend through a fixed number of
rounds. It starts a session, polls the backend to see whether the round is
still running, starts the next round when it ends and runs an optional
action after the last one.

Run it in the foreground with "gamepilot run", or in the background with
"gamepilot run --daemon" and control it with start, stop and continue.`,
		SilenceUsage: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .gamepilot/config.yaml)")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Event log file path")
	rootCmd.PersistentFlags().String(FlagStateFile, "", "State file path")
	rootCmd.PersistentFlags().String(FlagSocketPath, "", "Unix socket path for daemon control")
	rootCmd.PersistentFlags().String(FlagBackendURL, "", "Automation backend base URL")

	// Bind all flags to viper
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gamepilot %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newRunCmd(c))
	rootCmd.AddCommand(newControlCmds()...)
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newSimulateCmd(c))
	return rootCmd
}

func main() {
	logLevel := &slog.LevelVar{}
	c := &cli{
		logger:   SetupConsoleLogger(os.Stderr, logLevel),
		logLevel: logLevel,
	}
	slog.SetDefault(c.logger)

	configureEnv(viper.GetViper())

	if err := newRootCmd(c).ExecuteContext(context.Background()); err != nil {
		c.logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
