// Package controller runs the round control loop: it starts sessions on the
// automation backend, samples whether the current session is still active,
// and decides when to start the next round, retry, or finish the run.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/npratt/gamepilot/internal/backend"
	"github.com/npratt/gamepilot/internal/config"
	"github.com/npratt/gamepilot/internal/events"
	"github.com/npratt/gamepilot/internal/heartbeat"
	"github.com/npratt/gamepilot/internal/store"
)

// State represents the controller's current state.
type State string

// Controller states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
)

// failureEscalation is the number of consecutive probe failures after which
// they are logged at error level. The loop keeps running either way.
const failureEscalation = 3

// Errors returned by operator commands.
var (
	ErrMissingRoles      = errors.New("missing role selection")
	ErrInvalidRounds     = errors.New("invalid round count")
	ErrNotIdle           = errors.New("controller is not idle")
	ErrNothingToContinue = errors.New("no round to continue")
	ErrClosed            = errors.New("controller closed")
	ErrRejected          = errors.New("session start rejected")
	ErrInterrupted       = errors.New("start interrupted by stop")
)

// Settings are the operator-tunable values read at tick time. They can be
// replaced while a run is armed; the next tick sees the new values.
type Settings struct {
	Target      backend.SessionTarget
	Mode        string
	TotalRounds int
	SupportOnly bool
	PostAction  string
	Interval    time.Duration // heartbeat period, applied when a run is armed
	GraceTicks  int           // inactive ticks tolerated before a start counts as failed
}

// SettingsFromConfig builds Settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Target: backend.SessionTarget{
			Primary:   backend.RoleHandles{Game: cfg.Target.Primary.Game, Tool: cfg.Target.Primary.Tool},
			Secondary: backend.RoleHandles{Game: cfg.Target.Secondary.Game, Tool: cfg.Target.Secondary.Tool},
		},
		Mode:        cfg.Session.Mode,
		TotalRounds: cfg.Session.Rounds(),
		SupportOnly: cfg.Session.SupportOnly,
		PostAction:  cfg.Session.PostAction,
		Interval:    cfg.Heartbeat.Interval(),
		GraceTicks:  cfg.Heartbeat.EntryGraceTicks,
	}
}

func (s Settings) sessionConfig() backend.SessionConfig {
	return backend.SessionConfig{Mode: s.Mode, SupportOnly: s.SupportOnly}
}

// Observer receives control loop measurements. The metrics package
// provides the Prometheus implementation.
type Observer interface {
	StateChanged(from, to string)
	RoundStarted(round int, reason string)
	Probe(active bool, err error)
	TickSkipped()
	PostAction(action string, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, string) {}
func (nopObserver) RoundStarted(int, string)    {}
func (nopObserver) Probe(bool, error)           {}
func (nopObserver) TickSkipped()                {}
func (nopObserver) PostAction(string, error)    {}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers an Observer for loop measurements.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State               State         `json:"state"`
	Round               int           `json:"round"`
	TotalRounds         int           `json:"total_rounds"`
	Mode                string        `json:"mode"`
	PostAction          string        `json:"post_action"`
	Confirmed           bool          `json:"confirmed"`
	RunID               string        `json:"run_id,omitempty"`
	Interval            time.Duration `json:"interval"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	SkippedTicks        uint64        `json:"skipped_ticks"`
}

// Controller owns the round counter and the active flag. All exported
// methods are safe for concurrent use.
type Controller struct {
	dispatcher backend.Dispatcher
	store      *store.Store
	router     *events.Router
	logger     *slog.Logger
	observer   Observer

	settings atomic.Pointer[Settings]

	// ctx bounds every heartbeat and every in-tick backend call. It is
	// canceled by Close, never by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	round     int
	confirmed bool // the current round has been seen active at least once
	ticks     int  // ticks applied since the last accepted start
	failures  int
	runID     string
	gen       uint64 // bumped on every arm, stop and close; stale ticks compare against it
	hb        *heartbeat.Scheduler[bool]
	skipped   uint64
	closed    bool
	closeOnce sync.Once
}

// New creates an idle Controller at round 0.
func New(cfg *config.Config, d backend.Dispatcher, st *store.Store, router *events.Router, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		dispatcher: d,
		store:      st,
		router:     router,
		logger:     logger.With("component", "controller"),
		observer:   nopObserver{},
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	s := SettingsFromConfig(cfg)
	c.settings.Store(&s)
	st.SetRound(0)
	st.SetActive(false)
	return c
}

// Settings returns the live settings.
func (c *Controller) Settings() Settings {
	return *c.settings.Load()
}

// UpdateSettings replaces the live settings. An armed run keeps its
// heartbeat period until it is re-armed.
func (c *Controller) UpdateSettings(s Settings) {
	c.settings.Store(&s)
	c.logger.Info("settings updated",
		"mode", s.Mode,
		"total_rounds", s.TotalRounds,
		"post_action", s.PostAction,
	)
}

// Start begins a run: it validates the target, asks the backend to start a
// session and, once accepted, arms the heartbeat. A run that already used
// its whole budget starts over from round 0. ctx bounds only the start
// request; the armed loop outlives it.
func (c *Controller) Start(ctx context.Context) error {
	s := c.Settings()
	if !s.Target.Complete() {
		return ErrMissingRoles
	}
	if s.TotalRounds < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRounds, s.TotalRounds)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	if c.round > 0 && c.round >= s.TotalRounds {
		c.resetLocked()
	}
	c.gen++
	gen := c.gen
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	err := c.startSession(ctx, s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateStarting {
		c.logger.Info("discarding start result after stop", "error", err)
		return ErrInterrupted
	}
	if err != nil {
		c.setStateLocked(StateIdle)
		c.logger.Error("start failed", "error", err)
		c.emit(&events.ErrorEvent{
			BaseEvent: events.NewControllerEvent(events.EventError),
			Message:   err.Error(),
			Severity:  events.SeverityError,
		})
		return err
	}

	c.runID = uuid.NewString()
	c.round++
	c.confirmed = false
	c.ticks = 0
	c.failures = 0
	c.store.SetRound(c.round)
	c.arm(s)

	c.logger.Info("run started", "run_id", c.runID, "round", c.round, "total_rounds", s.TotalRounds, "mode", s.Mode)
	c.emit(&events.RunStartEvent{
		BaseEvent:   events.NewControllerEvent(events.EventRunStart),
		RunID:       c.runID,
		Mode:        s.Mode,
		TotalRounds: s.TotalRounds,
	})
	c.emitRoundStart(events.RoundInitial)
	return nil
}

// Continue re-arms the heartbeat for a run that was stopped mid-budget,
// without starting a new session. The session is assumed to be running.
func (c *Controller) Continue(ctx context.Context) error {
	s := c.Settings()
	if !s.Target.Complete() {
		return ErrMissingRoles
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return ErrNotIdle
	}
	if c.round == 0 {
		return ErrNothingToContinue
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.gen++
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.confirmed = true
	c.ticks = 0
	c.failures = 0
	c.arm(s)

	c.logger.Info("run continued", "run_id", c.runID, "round", c.round, "total_rounds", s.TotalRounds)
	c.emit(&events.RunStartEvent{
		BaseEvent:   events.NewControllerEvent(events.EventRunStart),
		RunID:       c.runID,
		Mode:        s.Mode,
		TotalRounds: s.TotalRounds,
		Continued:   true,
	})
	return nil
}

// Stop disarms the loop and keeps the round counter so the run can be
// continued. Results of probes or starts still in flight are discarded.
// Stop on an idle controller does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.gen++
	hb := c.disarmLocked()
	c.setStateLocked(StateIdle)
	c.logger.Info("run stopped", "run_id", c.runID, "round", c.round)
	c.emit(&events.RunStopEvent{
		BaseEvent: events.NewControllerEvent(events.EventRunStop),
		RunID:     c.runID,
		Round:     c.round,
		Reason:    "operator",
	})
	c.mu.Unlock()

	if hb != nil {
		hb.Cancel()
	}
}

// Reset returns the round counter to 0. Only allowed while idle.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.resetLocked()
	return nil
}

// Restore sets the round counter from persisted state so a later Continue
// resumes where a previous process left off. Only allowed while idle.
func (c *Controller) Restore(round int) error {
	if round < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRounds, round)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.round = round
	c.store.SetRound(round)
	c.logger.Info("round restored", "round", round)
	return nil
}

// Close tears the controller down: it cancels any armed heartbeat and
// in-flight backend call and waits for the loop goroutines to exit. Close
// runs once; later calls return immediately. It must not be called from a
// tick.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.gen++
		hb := c.disarmLocked()
		if c.state != StateIdle {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()

		if hb != nil {
			hb.Cancel()
		}
		c.cancel()
		c.wg.Wait()
		c.logger.Debug("controller closed")
	})
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Round returns the current round.
func (c *Controller) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() Status {
	s := c.Settings()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:               c.state,
		Round:               c.round,
		TotalRounds:         s.TotalRounds,
		Mode:                s.Mode,
		PostAction:          s.PostAction,
		Confirmed:           c.confirmed,
		RunID:               c.runID,
		ConsecutiveFailures: c.failures,
		SkippedTicks:        c.skipped,
	}
	if c.hb != nil {
		st.Interval = c.hb.Period()
		st.SkippedTicks += c.hb.Skipped()
	}
	return st
}

func (c *Controller) startSession(ctx context.Context, s Settings) error {
	ack, err := c.dispatcher.StartSession(ctx, s.Target, s.sessionConfig())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if !ack.OK {
		if ack.Message != "" {
			return fmt.Errorf("%w: %s", ErrRejected, ack.Message)
		}
		return ErrRejected
	}
	return nil
}

// arm creates and starts a heartbeat bound to the current generation.
// Caller holds c.mu.
func (c *Controller) arm(s Settings) {
	interval := s.Interval
	if interval <= 0 {
		interval = config.Default().Heartbeat.Interval()
	}
	gen := c.gen
	hb := heartbeat.New(interval,
		c.probe,
		func(r heartbeat.Result[bool]) { c.handleTick(gen, r) },
		heartbeat.WithLogger(c.logger),
		heartbeat.WithSkipHook(c.observer.TickSkipped),
	)
	c.hb = hb
	c.setStateLocked(StateActive)
	c.store.SetActive(true)

	if err := hb.Start(c.ctx); err != nil {
		c.logger.Error("heartbeat start failed", "error", err)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		hb.Wait()
	}()
}

// disarmLocked detaches the heartbeat and clears the active flag. The
// caller cancels the returned scheduler. Caller holds c.mu.
func (c *Controller) disarmLocked() *heartbeat.Scheduler[bool] {
	hb := c.hb
	c.hb = nil
	if hb != nil {
		c.skipped += hb.Skipped()
	}
	c.store.SetActive(false)
	return hb
}

func (c *Controller) resetLocked() {
	prev := c.round
	c.round = 0
	c.confirmed = false
	c.ticks = 0
	c.failures = 0
	c.runID = ""
	c.store.SetRound(0)
	c.logger.Info("round counter reset", "previous_round", prev)
	c.emit(&events.RunResetEvent{
		BaseEvent:     events.NewControllerEvent(events.EventRunReset),
		PreviousRound: prev,
	})
}

// probe asks the backend whether the current session is active, using the
// target in effect at tick time.
func (c *Controller) probe(ctx context.Context) (bool, error) {
	s := c.settings.Load()
	return c.dispatcher.IsActive(ctx, s.Target.Activity())
}

// tickAction is what a tick decided to do once c.mu is released.
type tickAction int

const (
	tickNone tickAction = iota
	tickStartRound
	tickFinish
)

// handleTick applies one heartbeat result. Results from a generation other
// than the current one are discarded.
func (c *Controller) handleTick(gen uint64, r heartbeat.Result[bool]) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("tick panic", "seq", r.Seq, "panic", p)
			c.emit(&events.ErrorEvent{
				BaseEvent: events.NewControllerEvent(events.EventError),
				Message:   fmt.Sprintf("tick panic: %v", p),
				Severity:  events.SeverityError,
			})
		}
	}()

	c.observer.Probe(r.Value, r.Err)
	s := c.Settings()

	action, reason := c.decide(gen, r, s)
	switch action {
	case tickStartRound:
		c.startRound(gen, s, reason)
	case tickFinish:
		c.runPostAction(s)
	}
}

// decide applies a probe result to the round state under c.mu and reports
// which follow-up, if any, must run without the lock.
func (c *Controller) decide(gen uint64, r heartbeat.Result[bool], s Settings) (tickAction, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.state != StateActive {
		return tickNone, ""
	}

	if r.Err != nil {
		c.failures++
		log := c.logger.Warn
		if c.failures >= failureEscalation {
			log = c.logger.Error
		}
		log("activity probe failed", "round", c.round, "consecutive", c.failures, "error", r.Err)
		c.emit(&events.HeartbeatErrorEvent{
			BaseEvent:   events.NewControllerEvent(events.EventHeartbeatFail),
			Round:       c.round,
			Error:       r.Err.Error(),
			Consecutive: c.failures,
		})
		return tickNone, ""
	}
	c.failures = 0
	c.ticks++

	if r.Value {
		phase := events.PhaseInProgress
		if !c.confirmed {
			c.confirmed = true
			phase = events.PhaseEntered
			c.logger.Info("session entered", "round", c.round)
		} else {
			c.logger.Debug("session in progress", "round", c.round)
		}
		c.emitProbe(true, phase)
		return tickNone, ""
	}

	if c.round >= s.TotalRounds {
		hb := c.disarmLocked()
		c.gen++
		c.setStateLocked(StateIdle)
		if hb != nil {
			hb.Cancel()
		}
		c.emitProbe(false, events.PhaseEnded)
		c.logger.Info("task complete", "run_id", c.runID, "rounds", c.round, "total_rounds", s.TotalRounds)
		c.emit(&events.RunCompleteEvent{
			BaseEvent:   events.NewControllerEvent(events.EventRunComplete),
			RunID:       c.runID,
			Rounds:      c.round,
			TotalRounds: s.TotalRounds,
		})
		return tickFinish, ""
	}

	if !c.confirmed {
		if c.ticks <= s.GraceTicks {
			c.emitProbe(false, events.PhaseWaiting)
			return tickNone, ""
		}
		c.logger.Warn("session never entered, retrying round", "round", c.round, "ticks", c.ticks)
		c.emitProbe(false, events.PhaseWaiting)
		return tickStartRound, events.RoundRetry
	}

	c.emitProbe(false, events.PhaseEnded)
	return tickStartRound, events.RoundAdvance
}

// startRound issues the next start request and, if it is accepted and the
// run is still current, records the new round. A failed start changes
// nothing; the next inactive tick tries again.
func (c *Controller) startRound(gen uint64, s Settings, reason string) {
	err := c.startSession(c.ctx, s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateActive {
		c.logger.Info("discarding round start after stop", "error", err)
		return
	}
	if err != nil {
		c.logger.Warn("round start failed", "round", c.round, "reason", reason, "error", err)
		c.emit(&events.ErrorEvent{
			BaseEvent: events.NewControllerEvent(events.EventError),
			Message:   err.Error(),
			Severity:  events.SeverityWarning,
			Context:   map[string]string{"reason": reason},
		})
		return
	}

	if reason == events.RoundAdvance {
		c.round++
		c.store.SetRound(c.round)
		c.logger.Info("round advanced", "round", c.round, "total_rounds", s.TotalRounds)
	} else {
		c.logger.Info("round restarted", "round", c.round)
	}
	c.confirmed = false
	c.ticks = 0
	c.emitRoundStart(reason)
}

// runPostAction issues at most one terminal command after the budget is
// exhausted.
func (c *Controller) runPostAction(s Settings) {
	var err error
	switch s.PostAction {
	case config.PostActionFollowUp:
		_, err = c.dispatcher.StartFollowUpActivity(c.ctx, s.Target)
	case config.PostActionPowerOff:
		_, err = c.dispatcher.PowerOff(c.ctx)
	default:
		return
	}

	c.observer.PostAction(s.PostAction, err)
	ev := &events.PostActionEvent{
		BaseEvent: events.NewControllerEvent(events.EventPostAction),
		Action:    s.PostAction,
		Success:   err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
		c.logger.Error("post action failed", "action", s.PostAction, "error", err)
	} else {
		c.logger.Info("post action issued", "action", s.PostAction)
	}
	c.emit(ev)
}

// setStateLocked records a transition. Caller holds c.mu.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	c.observer.StateChanged(string(from), string(s))
	c.emit(&events.RunStateChangedEvent{
		BaseEvent: events.NewControllerEvent(events.EventRunStateChanged),
		From:      string(from),
		To:        string(s),
	})
}

func (c *Controller) emitRoundStart(reason string) {
	c.observer.RoundStarted(c.round, reason)
	c.emit(&events.RoundStartEvent{
		BaseEvent: events.NewControllerEvent(events.EventRoundStart),
		RunID:     c.runID,
		Round:     c.round,
		Reason:    reason,
	})
}

func (c *Controller) emitProbe(active bool, phase string) {
	c.emit(&events.SessionProbeEvent{
		BaseEvent: events.NewControllerEvent(events.EventSessionProbe),
		Round:     c.round,
		Active:    active,
		Phase:     phase,
	})
}

// emit sends an event to the router if available.
func (c *Controller) emit(event events.Event) {
	if c.router != nil {
		c.router.Emit(event)
	}
}
