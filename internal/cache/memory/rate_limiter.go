package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// sweepEvery is how many Allow calls pass between sweeps of idle keys.
const sweepEvery = 1024

type window struct {
	hits []time.Time
	span time.Duration
}

// RateLimiter is the single-process counterpart of the Redis limiter.
type RateLimiter struct {
	mu    sync.Mutex
	keys  map[string]*window
	calls int
	now   func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{keys: make(map[string]*window), now: time.Now}
}

// Allow admits the request when fewer than limit hits fall inside span.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, span time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.calls++; r.calls%sweepEvery == 0 {
		r.sweep(now)
	}

	w, ok := r.keys[key]
	if !ok {
		w = &window{}
		r.keys[key] = w
	}
	w.span = max(w.span, span)
	w.hits = trimBefore(w.hits, now.Add(-span))
	if len(w.hits) >= limit {
		return false, nil
	}
	w.hits = append(w.hits, now)
	return true, nil
}

// sweep drops keys whose last hit is older than the longest span they were
// counted over.
func (r *RateLimiter) sweep(now time.Time) {
	for k, w := range r.keys {
		if len(w.hits) == 0 || !w.hits[len(w.hits)-1].After(now.Add(-w.span)) {
			delete(r.keys, k)
		}
	}
}

// trimBefore drops the leading hits at or before cutoff. Hits are appended
// in time order.
func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
