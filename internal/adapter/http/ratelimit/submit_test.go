package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, max int, windowLength, block time.Duration) (*SubmitLimiter, *clock) {
	t.Helper()
	l := NewSubmitLimiter(max, windowLength, block)
	t.Cleanup(l.Close)
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l.now = c.now
	return l, c
}

func TestSubmitLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute, 5*time.Minute)

	for i := 0; i < 3; i++ {
		allowed, wait := l.Allow("user-1")
		assert.True(t, allowed)
		assert.Zero(t, wait)
	}

	allowed, wait := l.Allow("user-1")
	assert.False(t, allowed)
	assert.Equal(t, 5*time.Minute, wait)
}

func TestSubmitLimiter_BlockCountsDown(t *testing.T) {
	l, c := newTestLimiter(t, 1, time.Minute, 10*time.Minute)

	l.Allow("user-1")
	l.Allow("user-1")
	c.advance(4 * time.Minute)

	allowed, wait := l.Allow("user-1")
	assert.False(t, allowed)
	assert.Equal(t, 6*time.Minute, wait)

	c.advance(6 * time.Minute)
	allowed, _ = l.Allow("user-1")
	assert.True(t, allowed)
}

func TestSubmitLimiter_WindowResets(t *testing.T) {
	l, c := newTestLimiter(t, 2, time.Minute, time.Hour)

	l.Allow("user-1")
	l.Allow("user-1")
	c.advance(time.Minute)

	allowed, _ := l.Allow("user-1")
	assert.True(t, allowed)
}

func TestSubmitLimiter_UsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute, time.Minute)

	l.Allow("user-1")
	allowed, _ := l.Allow("user-1")
	assert.False(t, allowed)

	allowed, _ = l.Allow("user-2")
	assert.True(t, allowed)
}

func TestSubmitLimiter_Prune(t *testing.T) {
	l, c := newTestLimiter(t, 1, time.Minute, time.Minute)

	l.Allow("idle")
	l.Allow("blocked")
	l.Allow("blocked")
	c.advance(90 * time.Second)
	l.Allow("active")
	c.advance(45 * time.Second)

	l.prune()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.windows, "idle")
	assert.NotContains(t, l.windows, "blocked")
	assert.Contains(t, l.windows, "active")
}

func TestSubmitLimiter_ConcurrentAccess(t *testing.T) {
	l := NewSubmitLimiter(100, time.Minute, time.Minute)
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Allow("concurrent")
			}
		}()
	}
	wg.Wait()

	l.mu.Lock()
	w, ok := l.windows["concurrent"]
	l.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 100, w.count)
}

func TestSubmitLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewSubmitLimiter(1, time.Minute, time.Minute)
	l.Close()
	l.Close()
}
