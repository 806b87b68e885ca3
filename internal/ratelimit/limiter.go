package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most max requests per client within any rolling
// window. Each client is tracked independently; state is a short slice of
// admission timestamps pruned on every check. Operations never fail.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	now    func() time.Time

	admissions map[string][]time.Time
}

// New creates a sliding-window limiter. A nil clock uses time.Now.
func New(window time.Duration, max int, now func() time.Time) *SlidingWindow {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{
		window:     window,
		max:        max,
		now:        now,
		admissions: make(map[string][]time.Time),
	}
}

// Allow reports whether the client may proceed, recording the admission
// when it does.
func (l *SlidingWindow) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	minAllowed := now.Add(-l.window)

	history := l.admissions[clientID]
	pruned := history[:0]
	for _, ts := range history {
		if !ts.Before(minAllowed) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.max {
		l.admissions[clientID] = pruned
		return false
	}

	l.admissions[clientID] = append(pruned, now)
	return true
}

// Prune drops clients with no admissions inside the window. Callers may run
// it periodically to keep memory bounded under many distinct clients.
func (l *SlidingWindow) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	minAllowed := l.now().Add(-l.window)
	for client, history := range l.admissions {
		live := false
		for _, ts := range history {
			if !ts.Before(minAllowed) {
				live = true
				break
			}
		}
		if !live {
			delete(l.admissions, client)
		}
	}
}
