package token

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window request counter keyed by token ID. State
// is process-local and not persisted; a restart resets all counters. For
// multi-process deployments the counter would need to move into the shared
// token store.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time // overridable in tests
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow purges timestamps older than the trailing window, then decides:
// if the remaining count has reached limit, the request is rejected and
// not recorded; otherwise the current instant is appended and the request
// is accepted. The check-then-append is serialized per token ID, so
// concurrent callers presenting the same token cannot slip past the limit.
func (r *RateLimiter) Allow(tokenID string, limit int, windowDur time.Duration) bool {
	if limit <= 0 {
		return false
	}

	r.mu.Lock()
	w, ok := r.windows[tokenID]
	if !ok {
		w = &window{}
		r.windows[tokenID] = w
	}
	r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-windowDur)

	w.mu.Lock()
	defer w.mu.Unlock()

	keep := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.stamps = keep

	if len(w.stamps) >= limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Count returns the number of recorded requests for a token within the
// trailing window. Intended for diagnostics; it does not record anything.
func (r *RateLimiter) Count(tokenID string, windowDur time.Duration) int {
	r.mu.Lock()
	w, ok := r.windows[tokenID]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	cutoff := r.now().Add(-windowDur)

	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset drops all recorded state for a token.
func (r *RateLimiter) Reset(tokenID string) {
	r.mu.Lock()
	delete(r.windows, tokenID)
	r.mu.Unlock()
}
