package infra

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	min := 1 * time.Second
	max := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second}, // below 1 clamps to minWait
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 60 * time.Second},  // capped
		{100, 60 * time.Second}, // still capped, no overflow
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, min, max); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_SubSecondMin(t *testing.T) {
	got := Backoff(3, 50*time.Millisecond, 1*time.Second)
	if got != 200*time.Millisecond {
		t.Errorf("Backoff(3, 50ms, 1s) = %s, want 200ms", got)
	}
}
