package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func blockUntilCanceled(canceled chan<- struct{}) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}
}

func runAsync(s *Supervisor, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_ComponentExitStopsOthers(t *testing.T) {
	canceled := make(chan struct{})
	s := New(testLogger(), time.Second).
		Add("agent", func(context.Context) error { return nil }).
		Add("daemon", blockUntilCanceled(canceled))

	if err := wait(t, runAsync(s, context.Background())); err != nil {
		t.Errorf("Run() error: %v", err)
	}
	select {
	case <-canceled:
	default:
		t.Error("daemon was not canceled")
	}
}

func TestRun_ReturnsComponentError(t *testing.T) {
	errBoom := errors.New("boom")
	s := New(testLogger(), time.Second).
		Add("agent", func(context.Context) error { return errBoom }).
		Add("daemon", blockUntilCanceled(make(chan struct{})))

	err := wait(t, runAsync(s, context.Background()))
	if !errors.Is(err, errBoom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if !strings.HasPrefix(err.Error(), "agent: ") {
		t.Errorf("error %q should name the component", err)
	}
}

func TestRun_ParentContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	canceled := make(chan struct{})
	s := New(testLogger(), time.Second).Add("agent", blockUntilCanceled(canceled))

	done := runAsync(s, ctx)
	cancel()

	if err := wait(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil for canceled components", err)
	}
}

func TestRun_Signal(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	s := New(testLogger(), time.Second, syscall.SIGUSR1).
		Add("agent", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(canceled)
			return nil
		})

	done := runAsync(s, context.Background())
	<-started

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	if err := wait(t, done); err != nil {
		t.Errorf("Run() error: %v", err)
	}
	select {
	case <-canceled:
	default:
		t.Error("agent was not canceled by the signal")
	}
}

func TestRun_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	s := New(testLogger(), 50*time.Millisecond).
		Add("agent", func(context.Context) error { return nil }).
		Add("stuck", func(context.Context) error {
			<-release
			return nil
		})

	err := wait(t, runAsync(s, context.Background()))
	if err == nil || !strings.Contains(err.Error(), "shutdown timed out waiting for stuck") {
		t.Errorf("Run() error = %v, want timeout naming stuck", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, time.Second)
	if s.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if len(s.signals) != len(DefaultSignals) {
		t.Errorf("signals = %v, want %v", s.signals, DefaultSignals)
	}
}
