package client

import (
	"testing"
	"time"
)

func TestBackoffDelayBounds(t *testing.T) {
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 2 * time.Second, 3 * time.Second},
		{2, 4 * time.Second, 5 * time.Second},
		{3, 8 * time.Second, 9 * time.Second},
		{4, 16 * time.Second, 17 * time.Second},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := backoffDelay(tt.attempt)
			if got < tt.min || got >= tt.max {
				t.Errorf("backoffDelay(%d) = %v, want [%v, %v)", tt.attempt, got, tt.min, tt.max)
			}
		}
	}
}

func TestBackoffDelayZeroAttempt(t *testing.T) {
	if got := backoffDelay(0); got != 0 {
		t.Errorf("backoffDelay(0) = %v, want 0", got)
	}
	if got := backoffDelay(-1); got != 0 {
		t.Errorf("backoffDelay(-1) = %v, want 0", got)
	}
}
