package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npratt/dashlink/internal/config"
)

func TestDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{40, 10 * time.Second},
		{200, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestDelay_BaseAboveMax(t *testing.T) {
	p := Policy{MaxAttempts: 1, BaseDelay: 20 * time.Second, MaxDelay: 5 * time.Second}
	if got := p.Delay(0); got != 5*time.Second {
		t.Errorf("Delay(0) = %v, want cap of 5s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, false},
		{"zero attempts", Policy{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Second}, true},
		{"zero base", Policy{MaxAttempts: 3, MaxDelay: time.Second}, true},
		{"zero max", Policy{MaxAttempts: 3, BaseDelay: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.Default().API.Retry)
	want := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	if p != want {
		t.Errorf("FromConfig() = %+v, want %+v", p, want)
	}
}

func TestSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should return promptly when the context is canceled")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v", err)
	}
}
