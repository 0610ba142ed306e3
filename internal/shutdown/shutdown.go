// Package shutdown runs a long-lived component until a termination signal
// and then tears it down in order.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Signals are the signals that trigger a graceful shutdown.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Sequence is an ordered list of teardown steps. Steps run in reverse
// registration order, so later components stop before the ones they use.
type Sequence struct {
	mu    sync.Mutex
	steps []step
	ran   bool
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// Add registers a teardown step.
func (s *Sequence) Add(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{name: name, fn: fn})
}

// AddFunc registers a step that cannot fail.
func (s *Sequence) AddFunc(name string, fn func()) {
	s.Add(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Run executes every step once, newest first, and joins their errors. A
// step that outlives ctx is abandoned and reported as context.DeadlineExceeded.
// Later calls return nil.
func (s *Sequence) Run(ctx context.Context, logger *slog.Logger) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil
	}
	s.ran = true
	steps := s.steps
	s.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		done := make(chan error, 1)
		start := time.Now()
		go func() { done <- st.fn(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				logger.Error("shutdown step failed", "step", st.name, "error", err)
				errs = append(errs, err)
				continue
			}
			logger.Debug("shutdown step done", "step", st.name, "duration", time.Since(start))
		case <-ctx.Done():
			logger.Warn("shutdown step timed out", "step", st.name)
			errs = append(errs, ctx.Err())
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}

// Run calls runner with a context canceled on SIGINT/SIGTERM or when parent
// is done, then runs seq with up to timeout to finish. A runner error other
// than context.Canceled is returned together with teardown errors.
func Run(
	parent context.Context,
	logger *slog.Logger,
	timeout time.Duration,
	runner func(ctx context.Context) error,
	seq *Sequence,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := signal.NotifyContext(parent, Signals...)
	defer stop()

	runErr := runner(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if ctx.Err() != nil && parent.Err() == nil {
		logger.Info("shutdown signal received")
	}

	if seq == nil {
		return runErr
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := seq.Run(shutdownCtx, logger); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("shutdown complete")
	return runErr
}
