// Package heartbeat provides a cancelable periodic prober.
//
// A Scheduler runs a probe every period and hands each result to a
// callback. Probes never overlap: the probe runs on the scheduler goroutine
// and ticks that come due while a probe is pending are skipped, not queued.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCanceled is returned by Start on a scheduler that was already canceled.
var ErrCanceled = errors.New("heartbeat canceled")

// ErrStarted is returned by Start when called twice.
var ErrStarted = errors.New("heartbeat already started")

// Result is one probe outcome.
type Result[T any] struct {
	Seq   uint64 // 1-based tick number
	Value T
	Err   error
	At    time.Time
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	logger *slog.Logger
	onSkip func()
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSkipHook registers a callback invoked for every tick dropped because a
// probe was still pending.
func WithSkipHook(fn func()) Option {
	return func(o *options) { o.onSkip = fn }
}

// Scheduler runs probe every period until canceled.
type Scheduler[T any] struct {
	period time.Duration
	probe  func(context.Context) (T, error)
	onTick func(Result[T])
	logger *slog.Logger
	onSkip func()

	// mu orders Cancel against each delivery's cancel check. It is never
	// held across onTick, so onTick may call Cancel.
	mu       sync.Mutex
	canceled bool
	started  bool

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	seq     uint64
	skipped atomic.Uint64
}

// New creates a stopped Scheduler. period must be positive.
func New[T any](period time.Duration, probe func(context.Context) (T, error), onTick func(Result[T]), opts ...Option) *Scheduler[T] {
	if period <= 0 {
		panic(fmt.Sprintf("heartbeat: non-positive period %v", period))
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler[T]{
		period: period,
		probe:  probe,
		onTick: onTick,
		logger: o.logger.With("component", "heartbeat"),
		onSkip: o.onSkip,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Period returns the fixed probe period.
func (s *Scheduler[T]) Period() time.Duration {
	return s.period
}

// Start launches the scheduler goroutine. The first probe runs one period
// after Start. ctx bounds the scheduler and is passed to every probe;
// Cancel does not abort a probe that is already running.
func (s *Scheduler[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return ErrCanceled
	}
	if s.started {
		return ErrStarted
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// Cancel stops the scheduler. A tick already scheduled is dropped and the
// result of a probe in flight is discarded. A delivery that passed its
// cancel check before Cancel took the lock still runs, possibly after Cancel
// returns; callers that must ignore it should guard onTick themselves, or
// call Wait. After Wait returns no delivery is running or will run.
// Cancel is idempotent, does not wait for the goroutine to exit, and is
// safe to call from onTick.
func (s *Scheduler[T]) Cancel() {
	s.mu.Lock()
	s.canceled = true
	started := s.started
	s.mu.Unlock()

	s.once.Do(func() {
		close(s.stop)
		if !started {
			close(s.done)
		}
	})
}

// Canceled reports whether Cancel has been called.
func (s *Scheduler[T]) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Wait blocks until the scheduler goroutine has exited. Must not be called
// from onTick.
func (s *Scheduler[T]) Wait() {
	<-s.done
}

// Skipped returns the number of ticks dropped because a probe was pending.
func (s *Scheduler[T]) Skipped() uint64 {
	return s.skipped.Load()
}

func (s *Scheduler[T]) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.Canceled() {
			return
		}

		s.seq++
		res := Result[T]{Seq: s.seq}
		res.Value, res.Err = s.runProbe(ctx)
		res.At = time.Now()

		if !s.deliver(res) {
			return
		}

		// Drop a tick that came due while the probe was pending.
		select {
		case <-ticker.C:
			s.skipped.Add(1)
			if s.onSkip != nil {
				s.onSkip()
			}
		default:
		}
	}
}

func (s *Scheduler[T]) runProbe(ctx context.Context) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return s.probe(ctx)
}

// deliver hands res to onTick unless the scheduler was canceled. The check
// and the call are not atomic with respect to Cancel. Returns false when the
// loop should exit.
func (s *Scheduler[T]) deliver(res Result[T]) bool {
	s.mu.Lock()
	canceled := s.canceled
	s.mu.Unlock()
	if canceled {
		return false
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tick handler panic", "seq", res.Seq, "panic", r)
			}
		}()
		s.onTick(res)
	}()
	return true
}
