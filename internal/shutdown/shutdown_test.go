package shutdown

import (
	"context"
	"errors"
	"reflect"
	"syscall"
	"testing"
	"time"
)

func TestSequence_ReverseOrder(t *testing.T) {
	var seq Sequence
	var order []string
	for _, name := range []string{"store", "controller", "daemon"} {
		seq.AddFunc(name, func() { order = append(order, name) })
	}

	if err := seq.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := []string{"daemon", "controller", "store"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}

	if err := seq.Run(context.Background(), nil); err != nil {
		t.Errorf("second Run() = %v", err)
	}
	if len(order) != 3 {
		t.Errorf("steps ran twice: %v", order)
	}
}

func TestSequence_JoinsErrors(t *testing.T) {
	var seq Sequence
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := false
	seq.Add("a", func(context.Context) error { return errA })
	seq.AddFunc("middle", func() { ran = true })
	seq.Add("b", func(context.Context) error { return errB })

	err := seq.Run(context.Background(), nil)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() = %v, want both errors", err)
	}
	if !ran {
		t.Error("a failing step must not skip the rest")
	}
}

func TestSequence_Timeout(t *testing.T) {
	var seq Sequence
	firstRan := false
	seq.AddFunc("first", func() { firstRan = true })
	seq.AddFunc("slow", func() { time.Sleep(time.Second) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := seq.Run(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want deadline exceeded", err)
	}
	if firstRan {
		t.Error("steps after a timed out step must not run")
	}
}

func TestRun_RunnerReturns(t *testing.T) {
	var seq Sequence
	cleaned := false
	seq.AddFunc("cleanup", func() { cleaned = true })

	boom := errors.New("boom")
	err := Run(context.Background(), nil, time.Second, func(context.Context) error { return boom }, &seq)
	if !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want boom", err)
	}
	if !cleaned {
		t.Error("teardown must run after the runner returns")
	}
}

func TestRun_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seq Sequence
	cleaned := make(chan struct{})
	seq.AddFunc("cleanup", func() { close(cleaned) })

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Run(ctx, nil, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, &seq)
	if err != nil {
		t.Errorf("Run() = %v, want nil for cancellation", err)
	}
	select {
	case <-cleaned:
	default:
		t.Error("teardown did not run")
	}
}

func TestRun_Signal(t *testing.T) {
	var seq Sequence
	cleaned := false
	seq.AddFunc("cleanup", func() { cleaned = true })

	err := Run(context.Background(), nil, time.Second, func(ctx context.Context) error {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("signal not delivered")
		}
	}, &seq)
	if err != nil {
		t.Errorf("Run() = %v", err)
	}
	if !cleaned {
		t.Error("teardown did not run")
	}
}

func TestRun_NilSequence(t *testing.T) {
	if err := Run(context.Background(), nil, time.Second, func(context.Context) error { return nil }, nil); err != nil {
		t.Errorf("Run() = %v", err)
	}
}
