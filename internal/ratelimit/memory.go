package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter is a process-local sliding window limiter. Each identifier
// keeps the millisecond timestamps of its accepted attempts; expired ones are
// dropped lazily on the next Check for that identifier.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string][]int64
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return newMemoryLimiter(time.Now)
}

func newMemoryLimiter(nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}

	return &MemoryLimiter{
		entries: make(map[string][]int64),
		now:     nowFn,
	}
}

// Check never returns a non-nil error.
func (l *MemoryLimiter) Check(_ context.Context, identifier string, maxAttempts int, window time.Duration) (Result, error) {
	if !ValidArgs(identifier, maxAttempts, window) {
		return Denied(), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	cutoff := now - window.Milliseconds()

	stored := l.entries[identifier]
	inWindow := make([]int64, 0, len(stored)+1)
	for _, ts := range stored {
		if ts > cutoff {
			inWindow = append(inWindow, ts)
		}
	}

	if len(inWindow) >= maxAttempts {
		return Denied(), nil
	}

	inWindow = append(inWindow, now)
	l.entries[identifier] = inWindow

	return Result{Success: true, Remaining: maxAttempts - len(inWindow)}, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, identifier string) error {
	l.mu.Lock()
	delete(l.entries, identifier)
	l.mu.Unlock()
	return nil
}

// Len returns the number of identifiers currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops identifiers whose newest attempt is older than maxWindow and
// returns how many were removed.
func (l *MemoryLimiter) Prune(maxWindow time.Duration) int {
	if maxWindow <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UnixMilli() - maxWindow.Milliseconds()
	removed := 0
	for identifier, stamps := range l.entries {
		if len(stamps) == 0 || stamps[len(stamps)-1] <= cutoff {
			delete(l.entries, identifier)
			removed++
		}
	}
	return removed
}

// StartJanitor prunes stale identifiers every interval until ctx is done.
func (l *MemoryLimiter) StartJanitor(ctx context.Context, every time.Duration, maxWindow time.Duration) {
	if every <= 0 || maxWindow <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune(maxWindow)
			}
		}
	}()
}
