package queue

import (
	"testing"
	"time"
)

func TestRetryPolicy_Next(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 4 * time.Second}

	for attempts := 1; attempts < 3; attempts++ {
		d, ok := p.Next(attempts)
		if !ok {
			t.Fatalf("attempt %d: expected a retry", attempts)
		}
		if d < 0 || d > 4*time.Second {
			t.Errorf("attempt %d: delay %v out of bounds", attempts, d)
		}
	}
	if _, ok := p.Next(3); ok {
		t.Error("expected no retry after max attempts")
	}
}

func TestCalculateBackoff_Capped(t *testing.T) {
	tests := []struct {
		name  string
		count int
		max   time.Duration
	}{
		{"first", 0, time.Minute},
		{"negative", -4, time.Minute},
		{"huge", 500, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 100 {
				d := calculateBackoff(tt.count, 30*time.Second, tt.max)
				if d < 0 || d > tt.max {
					t.Fatalf("delay %v out of [0, %v]", d, tt.max)
				}
			}
		})
	}
}
