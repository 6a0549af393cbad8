package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a per-process fixed-window limiter. Each subject has its
// own counter guarded by its own mutex, so distinct keys never contend.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	counters sync.Map // subject -> *windowCounter
}

type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	evicted     bool
}

// NewMemoryLimiter creates an in-memory limiter admitting limit requests per
// window for each subject.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) windowStart(t time.Time) time.Time {
	w := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/w)*w)
}

// Admit implements Limiter. A context cancelled before the counter is touched
// leaves the counter unchanged.
func (l *MemoryLimiter) Admit(ctx context.Context, subject string) (Decision, error) {
	now := l.now()
	start := l.windowStart(now)

	wc := l.counter(subject, start)
	defer wc.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	if !wc.windowStart.Equal(start) {
		wc.count = 0
		wc.windowStart = start
	}

	allowed := wc.count < l.limit
	if allowed {
		wc.count++
	}

	remaining := l.limit - wc.count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := start.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	d := Decision{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
	if !allowed {
		d.RetryAfter = resetAfter
	}
	return d, nil
}

// counter returns the locked live counter for subject.
func (l *MemoryLimiter) counter(subject string, start time.Time) *windowCounter {
	for {
		v, _ := l.counters.LoadOrStore(subject, &windowCounter{windowStart: start})
		wc := v.(*windowCounter)
		wc.mu.Lock()
		if !wc.evicted {
			return wc
		}
		// Lost a race with Cleanup; the next LoadOrStore sees a fresh counter.
		wc.mu.Unlock()
	}
}

// Cleanup drops counters whose window has ended.
func (l *MemoryLimiter) Cleanup() {
	current := l.windowStart(l.now())
	l.counters.Range(func(k, v any) bool {
		wc := v.(*windowCounter)
		wc.mu.Lock()
		if wc.windowStart.Before(current) {
			wc.evicted = true
			l.counters.CompareAndDelete(k, v)
		}
		wc.mu.Unlock()
		return true
	})
}

// Run calls Cleanup every interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// size returns the number of tracked subjects.
func (l *MemoryLimiter) size() int {
	n := 0
	l.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
