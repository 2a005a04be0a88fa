// Package shutdown runs the long-lived parts of a process together and
// stops all of them when a signal arrives or any one of them exits.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// DefaultSignals are the signals that trigger shutdown when none are given.
var DefaultSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Component is a named runner that blocks until its context is canceled
// or it finishes on its own.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor starts components and shuts them down together.
type Supervisor struct {
	logger     *slog.Logger
	timeout    time.Duration
	signals    []os.Signal
	components []Component
}

// New creates a Supervisor that waits up to timeout for components to exit
// once shutdown begins.
func New(logger *slog.Logger, timeout time.Duration, signals ...os.Signal) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	return &Supervisor{logger: logger, timeout: timeout, signals: signals}
}

// Add registers a component. Components start in registration order.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) *Supervisor {
	s.components = append(s.components, Component{Name: name, Run: run})
	return s
}

type exit struct {
	name string
	err  error
}

// Run starts every component and blocks until a signal arrives, ctx is
// canceled or a component returns. The remaining components are then
// canceled. Errors other than context.Canceled are joined and returned.
func (s *Supervisor) Run(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, s.signals...)
	defer signal.Stop(sigChan)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan exit, len(s.components))
	running := make(map[string]bool, len(s.components))
	for _, c := range s.components {
		running[c.Name] = true
		go func() {
			exits <- exit{name: c.Name, err: c.Run(runCtx)}
		}()
	}

	var errs []error
	record := func(e exit) {
		delete(running, e.name)
		if e.err != nil && !errors.Is(e.err, context.Canceled) {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, e.err))
		}
	}

	if len(running) > 0 {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, initiating shutdown", "signal", sig)
		case <-ctx.Done():
			s.logger.Info("context canceled, initiating shutdown")
		case e := <-exits:
			s.logger.Info("component exited, initiating shutdown", "component", e.name, "error", e.err)
			record(e)
		}
	}
	cancel()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for len(running) > 0 {
		select {
		case e := <-exits:
			record(e)
		case <-timer.C:
			names := make([]string, 0, len(running))
			for name := range running {
				names = append(names, name)
			}
			s.logger.Warn("shutdown timeout exceeded", "waiting_on", names)
			errs = append(errs, fmt.Errorf("shutdown timed out waiting for %s", strings.Join(names, ", ")))
			return errors.Join(errs...)
		}
	}

	s.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
