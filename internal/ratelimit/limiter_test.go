package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestExactlyMaxAdmittedPerWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(60*time.Second, 3, clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Allow("1.2.3.4"), "request max+1 must be rejected")
}

func TestWindowElapsesThenAdmitsAgain(t *testing.T) {
	clock := newFakeClock()
	l := New(60*time.Second, 2, clock.Now)

	assert.True(t, l.Allow("c"))
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))

	clock.Advance(61 * time.Second)
	assert.True(t, l.Allow("c"), "after the window fully elapses the next request is admitted")
}

func TestPartialWindowSlide(t *testing.T) {
	clock := newFakeClock()
	l := New(60*time.Second, 2, clock.Now)

	assert.True(t, l.Allow("c"))
	clock.Advance(30 * time.Second)
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))

	// First admission slides out; one slot frees up.
	clock.Advance(31 * time.Second)
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))
}

func TestClientsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(60*time.Second, 1, clock.Now)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "client b has its own window")
}

func TestPruneDropsIdleClients(t *testing.T) {
	clock := newFakeClock()
	l := New(60*time.Second, 1, clock.Now)

	l.Allow("a")
	l.Allow("b")
	clock.Advance(2 * time.Minute)
	l.Allow("b")

	l.Prune()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.admissions, "a")
	assert.Contains(t, l.admissions, "b")
}
