package web

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiterWithClock(3, time.Minute, clock)
	defer rl.stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "other clients have their own window")

	clock.Advance(time.Minute + time.Second)
	assert.True(t, rl.allow("10.0.0.1"), "window reset")
}

func TestRateLimiter_Prune(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiterWithClock(1, time.Minute, clock)
	defer rl.stop()

	rl.allow("10.0.0.1")
	clock.Advance(90 * time.Second)
	rl.allow("10.0.0.2")
	clock.Advance(45 * time.Second)

	rl.prune()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "10.0.0.1")
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.0.2.1", clientIP("192.0.2.1:1234"))
	assert.Equal(t, "2001:db8::1", clientIP("[2001:db8::1]:443"))
	assert.Equal(t, "203.0.113.7", clientIP("203.0.113.7"))
}
