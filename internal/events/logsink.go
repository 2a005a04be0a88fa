package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/npratt/dashlink/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink consumes events from the router.
type Sink interface {
	Start(ctx context.Context, events <-chan Event) error
	Stop() error
}

// LogSink writes telemetry events as JSON lines to a rotating file.
type LogSink struct {
	path     string
	rotation config.LogRotationConfig
	logger   *slog.Logger

	mu      sync.Mutex
	writer  io.WriteCloser
	encoder *json.Encoder
	done    chan struct{}
	started bool
}

// NewLogSink creates a LogSink for path, rotated per rotation.
func NewLogSink(path string, rotation config.LogRotationConfig, logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{
		path:     path,
		rotation: rotation,
		logger:   logger.With("component", "logsink"),
		done:     make(chan struct{}),
	}
}

// Start opens the log file and begins processing events.
// It runs until the context is canceled or the events channel is closed.
func (s *LogSink) Start(ctx context.Context, events <-chan Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create telemetry directory: %w", err)
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
	s.started = true
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
		s.logger.Warn("failed to write telemetry event", "event_type", event.Type(), "error", err)
	}
}

// Stop waits for the run loop to exit and closes the file.
// Stop on a sink that was never started returns nil.
func (s *LogSink) Stop() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

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
