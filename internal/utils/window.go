package utils

import (
	"sync"
	"time"
)

// SlidingWindow tracks event timestamps inside a trailing interval. The
// window length is supplied on each Add so callers with per-guild settings
// can change it without rebuilding the structure. An event exactly window-old
// is expired: the effective interval is (now-window, now].
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

func (w *SlidingWindow) Add(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.window = window
	w.pruneLocked(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

// Count prunes with the last window length seen by Add and returns the
// remaining number of hits.
func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	return len(w.hits)
}

func (w *SlidingWindow) pruneLocked(now time.Time) {
	if w.window <= 0 {
		return
	}
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
