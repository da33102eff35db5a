package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewGate_DefaultInterval(t *testing.T) {
	g := NewGate(0)
	if g.Interval() != DefaultIntervalMs*time.Millisecond {
		t.Errorf("Interval() = %v, want %v", g.Interval(), DefaultIntervalMs*time.Millisecond)
	}
}

func TestGate_Spacing(t *testing.T) {
	g := NewGate(50)
	ctx := context.Background()

	// First call consumes the initial token without blocking.
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	var last time.Time
	for i := 0; i < 4; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		now := time.Now()
		if !last.IsZero() {
			gap := now.Sub(last)
			if gap < 45*time.Millisecond {
				t.Errorf("consecutive Wait() returns %v apart, want >= 50ms", gap)
			}
		}
		last = now
	}
}

func TestGate_SetInterval(t *testing.T) {
	g := NewGate(500)
	g.SetInterval(10)

	if g.Interval() != 10*time.Millisecond {
		t.Fatalf("Interval() = %v after SetInterval(10)", g.Interval())
	}

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("3 waits at 10ms interval took %v", elapsed)
	}
}

func TestGate_SetInterval_IgnoresNonPositive(t *testing.T) {
	g := NewGate(100)
	g.SetInterval(0)
	g.SetInterval(-5)
	if g.Interval() != 100*time.Millisecond {
		t.Errorf("Interval() = %v, want unchanged 100ms", g.Interval())
	}
}

func TestGate_ContextCancellation(t *testing.T) {
	g := NewGate(5000)
	ctx := context.Background()

	// Exhaust the initial token.
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	if err := g.Wait(cancelled); err == nil {
		t.Error("Wait() with cancelled context should return an error")
	}
}
