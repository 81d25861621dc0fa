package limiter

import (
	"testing"
	"time"
)

func TestWindow_Aggregate(t *testing.T) {
	w := NewWindow(time.Minute)
	now := time.Now()

	w.Record(now, 10)
	w.Record(now.Add(time.Second), 20)

	if got := w.Aggregate(now.Add(2 * time.Second)); got != 30 {
		t.Errorf("Aggregate = %d, want 30", got)
	}
}

func TestWindow_StrictEviction(t *testing.T) {
	w := NewWindow(time.Minute)
	base := time.Now()

	w.Record(base, 10)
	w.Record(base.Add(30*time.Second), 20)

	// At base+61s the first sample is outside the retention.
	if got := w.Aggregate(base.Add(61 * time.Second)); got != 20 {
		t.Errorf("Aggregate after partial eviction = %d, want 20", got)
	}
	if w.Len() != 1 {
		t.Errorf("expected 1 live sample, got %d", w.Len())
	}

	// At base+91s everything is gone.
	if got := w.Aggregate(base.Add(91 * time.Second)); got != 0 {
		t.Errorf("Aggregate after full eviction = %d, want 0", got)
	}
}

func TestWindow_EvictionIsMonotonic(t *testing.T) {
	w := NewWindow(time.Minute)
	base := time.Now()

	w.Record(base, 10)
	w.Aggregate(base.Add(2 * time.Minute)) // evicts the sample

	// A query at an earlier instant must not resurrect it.
	if got := w.Aggregate(base.Add(30 * time.Second)); got != 0 {
		t.Errorf("evicted sample came back: Aggregate = %d", got)
	}
}

func TestWindow_TimeUntilFree(t *testing.T) {
	w := NewWindow(time.Minute)
	base := time.Now()

	w.Record(base, 100)
	w.Record(base.Add(10*time.Second), 50)

	// Need 100 units freed: the first sample expires at base+60s.
	now := base.Add(20 * time.Second)
	wait := w.TimeUntilFree(now, 100)
	want := base.Add(time.Minute).Sub(now)
	if wait < want {
		t.Errorf("TimeUntilFree = %s, want >= %s (must round up, never down)", wait, want)
	}
	if wait > want+5*time.Millisecond {
		t.Errorf("TimeUntilFree = %s, way past %s", wait, want)
	}

	// Need 120 units: must also wait for the second sample.
	wait = w.TimeUntilFree(now, 120)
	want = base.Add(10 * time.Second).Add(time.Minute).Sub(now)
	if wait < want {
		t.Errorf("TimeUntilFree(120) = %s, want >= %s", wait, want)
	}
}

func TestWindow_TimeUntilFree_MoreThanWindowHolds(t *testing.T) {
	w := NewWindow(time.Minute)
	now := time.Now()
	w.Record(now, 10)

	if wait := w.TimeUntilFree(now, 1000); wait != time.Minute {
		t.Errorf("TimeUntilFree beyond window contents = %s, want full retention", wait)
	}
}

func TestWindow_TimeUntilFree_ZeroNeeded(t *testing.T) {
	w := NewWindow(time.Minute)
	if wait := w.TimeUntilFree(time.Now(), 0); wait != 0 {
		t.Errorf("TimeUntilFree(0) = %s, want 0", wait)
	}
}
