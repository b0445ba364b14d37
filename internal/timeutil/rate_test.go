package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSchedule(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	rl := NewRateLimiter(clock, 100.0) // 10ms period

	start := clock.Now()
	for i := 0; i < 5; i++ {
		rl.Sleep()
	}

	assert.Equal(t, 50*time.Millisecond, clock.Now().Sub(start))
	assert.Equal(t, uint64(0), rl.LateTicks())
	assert.Equal(t, uint64(0), rl.SkippedTicks())
}

func TestRateLimiterOverrunSkipsAhead(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	rl := NewRateLimiter(clock, 100.0) // 10ms period

	rl.Sleep() // establish schedule

	// Simulate a loop body that ran 35ms over.
	clock.Advance(45 * time.Millisecond)
	before := clock.Now()
	rl.Sleep()

	assert.Equal(t, uint64(1), rl.LateTicks())
	// 35ms late at 10ms period: 3 missed + 1 conservative.
	assert.Equal(t, uint64(4), rl.SkippedTicks())
	assert.Equal(t, 35*time.Millisecond, rl.LastLate())
	assert.Equal(t, 35*time.Millisecond, rl.MaxLate())

	// Schedule restarted from "now", not burst catch-up.
	assert.Equal(t, 10*time.Millisecond, clock.Now().Sub(before))
}

func TestRateLimiterSetHz(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	rl := NewRateLimiter(clock, 100.0)

	rl.Sleep()
	rl.SetHz(10.0)

	before := clock.Now()
	rl.Sleep()
	assert.Equal(t, 100*time.Millisecond, clock.Now().Sub(before))

	rl.SetHz(-5)
	assert.Equal(t, 1.0, rl.Hz())
}

func TestMockClockSleepAdvances(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.Sleep(3 * time.Second)
	clock.Sleep(-time.Second) // negative sleeps do not rewind

	require.Equal(t, time.Unix(3, 0), clock.Now())
	assert.Len(t, clock.Sleeps(), 2)
}
