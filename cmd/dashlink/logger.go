package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/npratt/dashlink/internal/config"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLoggerResult contains the results of setting up file logging.
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

// SetupFileLogger creates a JSON logger that writes to a rotating file
// instead of stderr. The parent directory is created if needed.
func SetupFileLogger(path string, level slog.Leveler, rotationCfg config.LogRotationConfig) (*FileLoggerResult, error) {
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
		Logger:   slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})),
		LogFile:  writer,
		FilePath: path,
	}, nil
}

// SetupStderrLogger creates the console logger. Terminals get the text
// handler; anything else gets JSON lines.
func SetupStderrLogger(level slog.Leveler) *slog.Logger {
	return SetupLoggerWithWriter(os.Stderr, level, term.IsTerminal(int(os.Stderr.Fd())))
}

// SetupLoggerWithWriter creates a logger that writes to the given writer.
func SetupLoggerWithWriter(w io.Writer, level slog.Leveler, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if text {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
