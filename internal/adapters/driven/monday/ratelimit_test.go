package monday

import (
	"context"
	"testing"
	"time"
)

func TestRateGateSpacesCalls(t *testing.T) {
	gate := newRateGate(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := gate.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)

	// First call is immediate, the next two each wait one interval.
	if elapsed < 40*time.Millisecond {
		t.Errorf("three gated calls took %v, want >= 40ms", elapsed)
	}
}

func TestRateGateCancelled(t *testing.T) {
	gate := newRateGate(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := gate.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cancel()
	if err := gate.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait after cancel = %v, want context.Canceled", err)
	}
}

func TestBackoffHonorsServerHint(t *testing.T) {
	p := DefaultBackoff()
	hint := 7 * time.Second

	d := p.Delay(1, hint)
	if d < hint {
		t.Errorf("Delay with 7s hint = %v, want >= 7s", d)
	}
	maxJitter := time.Duration(float64(hint) * p.JitterFrac)
	if d > hint+maxJitter {
		t.Errorf("Delay with 7s hint = %v, want <= %v", d, hint+maxJitter)
	}
}

func TestBackoffExponential(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

	wants := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond, // capped
	}
	for i, want := range wants {
		if got := p.Delay(i+1, 0); got != want {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, want)
		}
	}
}
