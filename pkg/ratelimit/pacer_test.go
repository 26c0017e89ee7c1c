package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPacerFirstCallDoesNotWait(t *testing.T) {
	p := NewPacer(500*time.Millisecond, zerolog.Nop())

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("First Wait took %v, expected no delay", elapsed)
	}
}

func TestPacerEnforcesInterval(t *testing.T) {
	p := NewPacer(100*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// Three dispatches: only the second and third are delayed.
	if elapsed < 200*time.Millisecond {
		t.Errorf("Three calls took %v, expected at least 200ms", elapsed)
	}
}

func TestPacerZeroIntervalDisabled(t *testing.T) {
	p := NewPacer(0, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Disabled pacer waited %v", elapsed)
	}
}

func TestPacerContextCancellation(t *testing.T) {
	p := NewPacer(5*time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Wait(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}
