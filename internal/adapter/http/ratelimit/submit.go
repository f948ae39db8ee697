package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count        int
	start        time.Time
	blockedUntil time.Time
}

// SubmitLimiter allows each user a fixed number of job submissions per
// window. A user who goes over is blocked for blockDuration.
type SubmitLimiter struct {
	mu            sync.Mutex
	windows       map[string]*window
	max           int
	windowLength  time.Duration
	blockDuration time.Duration
	now           func() time.Time
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewSubmitLimiter(max int, windowLength, blockDuration time.Duration) *SubmitLimiter {
	l := &SubmitLimiter{
		windows:       make(map[string]*window),
		max:           max,
		windowLength:  windowLength,
		blockDuration: blockDuration,
		now:           time.Now,
		stop:          make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Allow records one submission by userID. When it is refused, the returned
// duration says how long the user has to wait.
func (l *SubmitLimiter) Allow(userID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[userID]
	if !ok {
		w = &window{start: now}
		l.windows[userID] = w
	}

	if now.Before(w.blockedUntil) {
		return false, w.blockedUntil.Sub(now)
	}
	if now.Sub(w.start) >= l.windowLength {
		w.count = 0
		w.start = now
	}

	w.count++
	if w.count > l.max {
		w.blockedUntil = now.Add(l.blockDuration)
		return false, l.blockDuration
	}
	return true, 0
}

// Close stops the background cleanup.
func (l *SubmitLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *SubmitLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *SubmitLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for userID, w := range l.windows {
		if now.Sub(w.start) > l.windowLength*2 && now.After(w.blockedUntil) {
			delete(l.windows, userID)
		}
	}
}
