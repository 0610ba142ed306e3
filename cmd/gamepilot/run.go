package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/npratt/gamepilot/internal/backend"
	"github.com/npratt/gamepilot/internal/config"
	"github.com/npratt/gamepilot/internal/controller"
	"github.com/npratt/gamepilot/internal/daemon"
	"github.com/npratt/gamepilot/internal/events"
	"github.com/npratt/gamepilot/internal/identity"
	"github.com/npratt/gamepilot/internal/metrics"
	"github.com/npratt/gamepilot/internal/shutdown"
	"github.com/npratt/gamepilot/internal/store"
	"github.com/npratt/gamepilot/internal/stream"
)

// shutdownTimeout bounds the teardown sequence.
const shutdownTimeout = 30 * time.Second

// runOptions selects what the run does once the backend is ready.
type runOptions struct {
	// Start begins a new run immediately.
	Start bool
	// Resume restores the persisted round and continues it.
	Resume bool
	// ProjectRoot locates daemon.json. Empty skips writing it.
	ProjectRoot string
	// ConfigFiles are watched for live changes.
	ConfigFiles []string
	// Reload produces a fresh config when a watched file changes.
	Reload func() (*config.Config, error)
}

// app is one running gamepilot instance with every component wired.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	router    *events.Router
	logSink   *events.LogSink
	stateSink *events.StateSink
	collector *metrics.Collector
	ids       identity.Source
	client    *backend.Client
	store     *store.Store
	ctrl      *controller.Controller
	stream    *stream.Client

	seq *shutdown.Sequence
}

// newApp builds the component graph and starts the event sinks. Every
// component that needs teardown registers a step on the returned app's
// sequence.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		router:    events.NewRouter(events.DefaultBufferSize),
		collector: metrics.New(),
		store:     store.New(),
		seq:       &shutdown.Sequence{},
	}
	a.router.SetLogger(logger)
	a.router.OnDrop(func(events.Event) { a.collector.EventDropped() })

	// Sinks outlive the run context so the final stop events are persisted.
	a.logSink = events.NewLogSink(cfg.Paths.Log, events.Rotation{
		MaxSizeMB:  cfg.LogRotation.MaxSizeMB,
		MaxBackups: cfg.LogRotation.MaxBackups,
		MaxAgeDays: cfg.LogRotation.MaxAgeDays,
		Compress:   cfg.LogRotation.Compress,
	})
	a.stateSink = events.NewStateSink(cfg.Paths.State)

	if err := a.logSink.Start(context.Background(), a.router.Subscribe()); err != nil {
		a.router.Close()
		return nil, fmt.Errorf("start log sink: %w", err)
	}
	if err := a.stateSink.Start(context.Background(), a.router.SubscribeBuffered(events.StateBufferSize)); err != nil {
		a.router.Close()
		_ = a.logSink.Stop()
		return nil, fmt.Errorf("start state sink: %w", err)
	}
	a.seq.Add("event sinks", func(context.Context) error {
		a.router.Close()
		return errors.Join(a.logSink.Stop(), a.stateSink.Stop())
	})

	var clearer stream.Clearer
	if cfg.Stream.SessionID != "" {
		a.ids = identity.Static(cfg.Stream.SessionID)
	} else {
		sel := identity.NewSelection(cfg.Paths.Selection, logger)
		a.ids = sel
		clearer = sel
	}

	a.client = backend.NewClient(cfg.Backend.BaseURL, a.ids,
		backend.WithTimeout(cfg.Backend.RequestTimeout),
		backend.WithTargetHeader(cfg.Backend.TargetHeader),
		backend.WithLogger(logger),
	)

	streamOpts := []stream.Option{
		stream.WithTargetHeader(cfg.Backend.TargetHeader),
		stream.WithRouter(a.router),
		stream.WithObserver(a.collector),
	}
	if clearer != nil {
		streamOpts = append(streamOpts, stream.WithClearer(clearer))
	}
	a.stream = stream.New(cfg.Backend.BaseURL, a.store, logger, streamOpts...)
	a.seq.AddFunc("stream", a.stream.Disconnect)

	a.ctrl = controller.New(cfg, a.client, a.store, a.router, logger,
		controller.WithObserver(a.collector))
	a.seq.AddFunc("controller", a.ctrl.Close)

	return a, nil
}

// run serves the control socket, the metrics listener and the config
// watcher until ctx is done or a shutdown request arrives.
func (a *app) run(ctx context.Context, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dmn := daemon.New(a.cfg, a.ctrl, a.logger,
		daemon.WithDispatcher(a.client),
		daemon.WithStore(a.store),
		daemon.WithStream(a.stream),
		daemon.WithIdentity(a.ids),
		daemon.WithShutdown(cancel),
	)

	if opts.ProjectRoot != "" {
		infoPath := daemon.InfoPath(opts.ProjectRoot)
		info := &daemon.Info{
			SocketPath: a.cfg.Paths.Socket,
			PIDPath:    a.cfg.Paths.PID,
			StatePath:  a.cfg.Paths.State,
			LogPath:    a.cfg.Paths.Log,
			BackendURL: a.cfg.Backend.BaseURL,
			StartTime:  time.Now(),
			PID:        os.Getpid(),
		}
		if err := daemon.WriteInfo(infoPath, info); err != nil {
			a.logger.Warn("failed to write daemon info", "error", err)
		} else {
			a.seq.Add("daemon info", func(context.Context) error {
				return daemon.RemoveInfo(infoPath)
			})
		}
	}

	if opts.Reload != nil && len(opts.ConfigFiles) > 0 {
		watcher := config.NewWatcher(opts.ConfigFiles, opts.Reload, func(cfg *config.Config) {
			a.ctrl.UpdateSettings(controller.SettingsFromConfig(cfg))
			a.logger.Info("settings reloaded", "mode", cfg.Session.Mode, "total_rounds", cfg.Session.Rounds())
		}, a.logger)
		if err := watcher.Start(ctx); err != nil {
			a.logger.Warn("config watcher not started", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := dmn.Start(gctx); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		return nil
	})

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := a.collector.Serve(gctx, a.cfg.Metrics.Addr, a.logger); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.bootstrap(gctx, opts)
	})

	return g.Wait()
}

// bootstrap waits for the backend, connects the stream and performs the
// requested start or resume. Only a backend that never becomes ready is
// fatal.
func (a *app) bootstrap(ctx context.Context, opts runOptions) error {
	a.logger.Info("waiting for backend", "url", a.cfg.Backend.BaseURL)
	if err := backend.WaitHealthy(ctx, a.client, a.cfg.Backend.HealthInterval, a.cfg.Backend.HealthTimeout); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("backend not ready: %w", err)
	}
	a.logger.Info("backend ready")

	if a.cfg.Stream.Enabled {
		if err := a.stream.Connect(ctx, a.ids.ID()); err != nil {
			a.logger.Warn("stream connect failed", "error", err)
		}
	}

	switch {
	case opts.Resume:
		a.resume(ctx)
	case opts.Start:
		if err := a.ctrl.Start(ctx); err != nil {
			a.logger.Error("start failed", "error", err)
		}
	}
	return nil
}

// resume continues the run recorded in the state file, if it was cut short.
func (a *app) resume(ctx context.Context) {
	st, err := events.LoadState(a.cfg.Paths.State)
	if err != nil {
		a.logger.Warn("no state to resume", "path", a.cfg.Paths.State, "error", err)
		return
	}
	if !st.Resumable() {
		a.logger.Info("nothing to resume", "status", st.Status, "round", st.Round, "total_rounds", st.TotalRounds)
		return
	}
	if err := a.ctrl.Restore(st.Round); err != nil {
		a.logger.Error("restore failed", "error", err)
		return
	}
	if err := a.ctrl.Continue(ctx); err != nil {
		a.logger.Error("continue failed", "error", err)
		return
	}
	a.logger.Info("run resumed", "round", st.Round, "total_rounds", st.TotalRounds)
}

func newRunCmd(c *cli) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gamepilot control loop",
		Long: `Run the control loop and its control socket.

The loop stays idle until "gamepilot start" is issued, unless --start or
--resume is given. Use --daemon to run in the background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.applyVerbose()

			cfg, projectRoot, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			if daemon.NewClient(cfg.Paths.Socket).IsRunning() {
				return fmt.Errorf("daemon already running (socket: %s)", cfg.Paths.Socket)
			}
			pidFile := daemon.NewPIDFile(cfg.Paths.PID)
			if pidFile.CleanupStale(cfg.Paths.Socket) {
				c.logger.Debug("removed stale daemon files", "pid_file", pidFile.Path())
			}

			if viper.GetBool(FlagDaemon) {
				spawn, err := daemon.Daemonize(cfg.Paths.Socket, daemonOutputPath(cfg))
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				if spawn.Parent {
					if !spawn.Ready {
						c.logger.Warn("daemon did not open its socket in time", "pid", spawn.PID)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "gamepilot daemon started (pid %d)\n", spawn.PID)
					return nil
				}
			}

			logger := c.logger
			if daemon.IsDaemonized() {
				fileLog, err := SetupFileLogger(cfg.Paths.DebugLog, c.logLevel, cfg.LogRotation)
				if err != nil {
					return err
				}
				defer func() { _ = fileLog.Close() }()
				logger = fileLog.Logger
				slog.SetDefault(logger)
			}

			if err := pidFile.Lock(); err != nil {
				return fmt.Errorf("acquire pid file: %w", err)
			}
			defer func() { _ = pidFile.Unlock() }()

			logger.Info("gamepilot starting",
				"version", version,
				"backend", cfg.Backend.BaseURL,
				"mode", cfg.Session.Mode,
				"total_rounds", cfg.Session.Rounds(),
				"log_file", cfg.Paths.Log,
				"state_file", cfg.Paths.State,
				"daemon_mode", daemon.IsDaemonized(),
			)

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			opts := runOptions{
				Start:       viper.GetBool(FlagStart),
				Resume:      viper.GetBool(FlagResume),
				ProjectRoot: projectRoot,
				ConfigFiles: config.Files(viper.GetViper()),
				// Reloads run on the watcher's timer goroutine.
				Reload: func() (*config.Config, error) {
					cfg, _, err := loadConfigFrom(newViper(flags), flags)
					return cfg, err
				},
			}
			if opts.Start && opts.Resume {
				return errors.New("--start and --resume are mutually exclusive")
			}

			return shutdown.Run(cmd.Context(), logger, shutdownTimeout,
				func(ctx context.Context) error { return a.run(ctx, opts) },
				a.seq,
			)
		},
	}

	runCmd.Flags().Bool(FlagDaemon, false, "Run as a background daemon")
	runCmd.Flags().Bool(FlagStart, false, "Start a run as soon as the backend is ready")
	runCmd.Flags().Bool(FlagResume, false, "Continue the run recorded in the state file")
	runCmd.Flags().String(FlagMode, "", "Activity mode (collab, ice_castle, moon_island)")
	runCmd.Flags().Int(FlagRounds, -1, "Total rounds (-1 = mode default)")
	runCmd.Flags().String(FlagPostAction, "", "Action after the last round (none, follow_up, power_off)")
	runCmd.Flags().Bool(FlagSupportOnly, false, "Run the activity in support-only mode")
	runCmd.Flags().String(FlagCadence, "", "Heartbeat cadence (steady, fast)")
	runCmd.Flags().Bool(FlagNoStream, false, "Do not connect the telemetry stream")
	runCmd.Flags().String(FlagSessionID, "", "Fixed session id instead of the persisted selection")
	runCmd.Flags().Bool(FlagMetrics, false, "Expose Prometheus metrics")
	runCmd.Flags().String(FlagMetricsAddr, "", "Metrics listen address")

	runCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
	return runCmd
}

// daemonOutputPath is where the background child's raw stdout and stderr
// go. It sits next to the debug log, which lumberjack owns.
func daemonOutputPath(cfg *config.Config) string {
	if cfg.Paths.DebugLog == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(cfg.Paths.DebugLog), "daemon.out")
}
