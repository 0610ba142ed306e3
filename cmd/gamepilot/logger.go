package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/npratt/gamepilot/internal/config"
)

// FileLoggerResult contains the results of setting up logging for daemon mode.
type FileLoggerResult struct {
	Logger   *slog.Logger
	LogFile  io.WriteCloser
	FilePath string
}

// Close closes the log file if it was opened.
func (r *FileLoggerResult) Close() error {
	if r.LogFile != nil {
		return r.LogFile.Close()
	}
	return nil
}

// SetupFileLogger creates a logger that writes JSON lines to a rotating file.
// A background daemon has no terminal, so everything it logs goes here.
func SetupFileLogger(path string, level slog.Leveler, rotationCfg config.LogRotationConfig) (*FileLoggerResult, error) {
	if path == "" {
		return nil, fmt.Errorf("debug log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotationCfg.MaxSizeMB,
		MaxBackups: rotationCfg.MaxBackups,
		MaxAge:     rotationCfg.MaxAgeDays,
		Compress:   rotationCfg.Compress,
	}

	return &FileLoggerResult{
		Logger:   SetupLoggerWithWriter(writer, level, false),
		LogFile:  writer,
		FilePath: path,
	}, nil
}

// SetupConsoleLogger creates the stderr logger. A terminal gets the text
// handler; anything else (pipes, log collectors) gets JSON.
func SetupConsoleLogger(f *os.File, level slog.Leveler) *slog.Logger {
	return SetupLoggerWithWriter(f, level, term.IsTerminal(int(f.Fd())))
}

// SetupLoggerWithWriter creates a logger on an arbitrary writer.
func SetupLoggerWithWriter(w io.Writer, level slog.Leveler, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if text {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
