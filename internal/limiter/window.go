package limiter

import (
	"time"

	"github.com/OscarNeto021/ROBO/pkg/safe"
)

type sample struct {
	at   time.Time
	cost int64
}

// Window is a sliding time window of (timestamp, cost) samples bounded
// by a retention duration. Samples are ordered by timestamp and
// eviction is monotonic. Not safe for concurrent use; the owning class
// state locks around it.
type Window struct {
	retention time.Duration
	samples   []sample
	total     int64
}

// NewWindow creates an empty window with the given retention.
func NewWindow(retention time.Duration) *Window {
	return &Window{retention: retention}
}

// Record appends a sample at now with the given cost.
func (w *Window) Record(now time.Time, cost int64) {
	w.samples = append(w.samples, sample{at: now, cost: cost})
	w.total = safe.Add(w.total, cost)
}

// Aggregate evicts expired samples and returns the current total cost
// inside the window.
func (w *Window) Aggregate(now time.Time) int64 {
	w.evict(now)
	return w.total
}

// evict drops samples older than the retention duration.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.retention)
	i := 0
	for i < len(w.samples) && !w.samples[i].at.After(cutoff) {
		w.total = safe.Sub(w.total, w.samples[i].cost)
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// TimeUntilFree returns how long until at least `needed` units of cost
// have aged out of the window, rounded UP to the next millisecond.
// False blocking is acceptable; undershooting the real limit is not.
func (w *Window) TimeUntilFree(now time.Time, needed int64) time.Duration {
	if needed <= 0 {
		return 0
	}

	var freed int64
	for _, s := range w.samples {
		freed = safe.Add(freed, s.cost)
		if freed >= needed {
			return roundUpMillis(s.at.Add(w.retention).Sub(now))
		}
	}

	// Even draining the whole window is not enough (a concurrent
	// admit raced us); wait out the full retention and re-check.
	return w.retention
}

// Retention returns the window's retention duration.
func (w *Window) Retention() time.Duration {
	return w.retention
}

// Len returns the number of live samples (for tests).
func (w *Window) Len() int {
	return len(w.samples)
}

func roundUpMillis(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	if rem := d % time.Millisecond; rem != 0 {
		d += time.Millisecond - rem
	}
	return d
}
