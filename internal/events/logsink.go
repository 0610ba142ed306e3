package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink consumes events from the router.
type Sink interface {
	Start(ctx context.Context, events <-chan Event) error
	Stop() error
}

// Rotation controls size-based rotation of the event log.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogSink writes events to a JSON lines file for debugging and analysis.
// The file rotates by size; `gamepilot events` reads it back with Tail.
type LogSink struct {
	path     string
	rotation Rotation
	writer   *lumberjack.Logger
	encoder  *json.Encoder
	mu       sync.Mutex
	done     chan struct{}
	logger   *slog.Logger
}

// NewLogSink creates a new LogSink that writes to the specified path.
func NewLogSink(path string, rotation Rotation) *LogSink {
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 100
	}
	return &LogSink{
		path:     path,
		rotation: rotation,
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "logsink"),
	}
}

// Start opens the log file and begins processing events.
// It runs until the context is canceled or the events channel is closed.
func (s *LogSink) Start(ctx context.Context, events <-chan Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	w := &lumberjack.Logger{
		Filename:   s.path,
		MaxSize:    s.rotation.MaxSizeMB,
		MaxBackups: s.rotation.MaxBackups,
		MaxAge:     s.rotation.MaxAgeDays,
		Compress:   s.rotation.Compress,
	}

	s.mu.Lock()
	s.writer = w
	s.encoder = json.NewEncoder(w)
	s.mu.Unlock()

	go s.run(ctx, events)
	return nil
}

func (s *LogSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.write(event)
		}
	}
}

func (s *LogSink) write(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return
	}

	if err := s.encoder.Encode(event); err != nil {
		s.logger.Error("failed to write event", "type", event.Type(), "error", err)
	}
}

// Stop closes the log file.
func (s *LogSink) Stop() error {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		err := s.writer.Close()
		s.writer = nil
		s.encoder = nil
		return err
	}
	return nil
}

// Path returns the log file path.
func (s *LogSink) Path() string {
	return s.path
}

// tailPollInterval is the fallback read interval when file events are missed.
const tailPollInterval = time.Second

// Tail reads events from a log file written by LogSink and calls fn for each
// one in order. With follow set, it keeps reading appended lines until ctx is
// done, and reopens the file when it is rotated. Lines that fail to parse or
// carry an unknown type are skipped.
func Tail(ctx context.Context, path string, follow bool, fn func(Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	var partial []byte

	drain := func() error {
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				partial = append(partial, line...)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			ev, perr := ParseEvent(partial)
			partial = partial[:0]
			if perr == nil && ev != nil {
				fn(ev)
			}
		}
	}

	if err := drain(); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()
	target := filepath.Clean(path)

	reopen := func() error {
		nf, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		_ = f.Close()
		f = nf
		reader = bufio.NewReader(f)
		partial = partial[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// Rotated: finish the old file, then switch to the new one.
				if err := drain(); err != nil {
					return err
				}
				if err := reopen(); err != nil {
					return err
				}
			}
			if err := drain(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}
}
