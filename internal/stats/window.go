package stats

import (
	"time"

	"liqrelay/internal/models"
)

type entry struct {
	at   time.Time
	side models.Side
}

// SlidingWindow keeps insertion-ordered (time, side) pairs no older than its
// duration. It is not safe for concurrent use; Aggregator serializes access.
type SlidingWindow struct {
	duration time.Duration
	entries  []entry
}

func NewSlidingWindow(d time.Duration) *SlidingWindow {
	return &SlidingWindow{duration: d}
}

func (w *SlidingWindow) Duration() time.Duration { return w.duration }

func (w *SlidingWindow) Add(at time.Time, side models.Side, now time.Time) {
	w.prune(now)
	w.entries = append(w.entries, entry{at: at, side: side})
}

// Counts prunes entries older than now-duration and counts what remains.
func (w *SlidingWindow) Counts(now time.Time) (buy, sell int) {
	w.prune(now)
	for _, e := range w.entries {
		if e.side == models.SideBuy {
			buy++
		} else {
			sell++
		}
	}
	return buy, sell
}

func (w *SlidingWindow) Len(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune drops stale entries. Producers run concurrently, so entries are
// insertion-ordered but not strictly time-ordered.
func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.duration)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
}
