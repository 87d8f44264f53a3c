package api

import (
	"sync"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
)

// RecentResults keeps the last n estimation results so the display and the
// statistics endpoint know how many sensors produced each trail point. It is
// a sonar.CycleSink and sits beside the tracker's position history.
type RecentResults struct {
	mu      sync.RWMutex
	results []sonar.EstimationResult
	next    int
	full    bool
}

// NewRecentResults returns a buffer holding at most capacity results. A
// non-positive capacity falls back to sonar.DefaultHistoryLength.
func NewRecentResults(capacity int) *RecentResults {
	if capacity <= 0 {
		capacity = sonar.DefaultHistoryLength
	}
	return &RecentResults{results: make([]sonar.EstimationResult, capacity)}
}

func (r *RecentResults) HandleCycle(c sonar.Cycle) {
	r.mu.Lock()
	r.results[r.next] = c.Result
	r.next = (r.next + 1) % len(r.results)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns the buffered results, oldest first.
func (r *RecentResults) Snapshot() []sonar.EstimationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		return append([]sonar.EstimationResult(nil), r.results[:r.next]...)
	}
	out := make([]sonar.EstimationResult, 0, len(r.results))
	out = append(out, r.results[r.next:]...)
	return append(out, r.results[:r.next]...)
}
