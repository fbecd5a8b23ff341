package gate

import (
	"context"
	"sync"
	"time"
)

const DefaultWindow = time.Minute

// SlidingWindowLimiter counts hits per key over a sliding window. Allow
// prunes, counts and records under one lock so two concurrent callers can
// never both observe "under limit" for the last slot.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration, now func() time.Time) *SlidingWindowLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &SlidingWindowLimiter{
		window: window,
		limit:  limit,
		hits:   make(map[string][]time.Time),
		now:    now,
	}
}

func (l *SlidingWindowLimiter) Limit() int { return l.limit }

// prune must be called with mu held.
func (l *SlidingWindowLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		hits = append(hits[:0], hits[i:]...)
		if len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
	return hits
}

// Allow records a hit for key if it is under the limit.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.prune(key, now)
	if l.limit > 0 && len(hits) >= l.limit {
		return false
	}
	l.hits[key] = append(hits, now)
	return true
}

// Peek reports whether Allow would succeed, without recording a hit.
func (l *SlidingWindowLimiter) Peek(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.prune(key, l.now())
	return l.limit <= 0 || len(hits) < l.limit
}

func (l *SlidingWindowLimiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key, l.now()))
}

func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}

// PurgeExpired drops keys with no hits left in the window.
func (l *SlidingWindowLimiter) PurgeExpired(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key := range l.hits {
		if len(l.prune(key, now)) == 0 {
			removed++
		}
	}
	return removed
}
