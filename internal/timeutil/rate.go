package timeutil

import (
	"math"
	"sync/atomic"
	"time"
)

// RateLimiter paces a fixed-rate loop on a monotonic schedule. The schedule
// line is next += period; when the loop overruns by a full period or more
// the limiter skips the missed ticks and restarts the schedule from "now"
// rather than bursting to catch up, which would overload the I/O pipelines
// downstream.
//
// Usage:
//
//	rl := timeutil.NewRateLimiter(clock, 200.0)
//	for !stop.Stopped() {
//		... do work ...
//		rl.Sleep()
//	}
type RateLimiter struct {
	clock Clock
	hz    atomic.Uint64 // float64 bits
	next  time.Time
	init  bool

	lateTicks    atomic.Uint64
	skippedTicks atomic.Uint64
	lastLate     atomic.Int64 // duration
	maxLate      atomic.Int64 // duration
}

// NewRateLimiter creates a limiter ticking at hz on the given clock.
func NewRateLimiter(clock Clock, hz float64) *RateLimiter {
	rl := &RateLimiter{clock: clock}
	rl.SetHz(hz)
	return rl
}

// SetHz changes the tick rate. Values at or below zero fall back to 1 Hz.
// Safe to call between ticks for config hot-reload.
func (rl *RateLimiter) SetHz(hz float64) {
	if hz <= 0 {
		hz = 1.0
	}
	rl.hz.Store(floatBits(hz))
}

// Hz returns the current tick rate.
func (rl *RateLimiter) Hz() float64 {
	return floatFromBits(rl.hz.Load())
}

// Reset restarts the schedule and clears the lateness counters. Called
// implicitly by the first Sleep.
func (rl *RateLimiter) Reset() {
	rl.next = rl.clock.Now()
	rl.init = true
	rl.lateTicks.Store(0)
	rl.skippedTicks.Store(0)
	rl.lastLate.Store(0)
	rl.maxLate.Store(0)
}

// Sleep blocks until the next tick, handling overruns as described on the
// type.
func (rl *RateLimiter) Sleep() {
	if !rl.init {
		rl.Reset()
	}

	period := time.Duration(float64(time.Second) / rl.Hz())
	rl.next = rl.next.Add(period)

	now := rl.clock.Now()
	if now.After(rl.next) {
		late := now.Sub(rl.next)
		rl.lastLate.Store(int64(late))
		if late > time.Duration(rl.maxLate.Load()) {
			rl.maxLate.Store(int64(late))
		}
		rl.lateTicks.Add(1)

		// Estimate missed periods, conservatively counting the current one.
		missed := uint64(late/period) + 1
		rl.skippedTicks.Add(missed)

		// Restart the schedule from now.
		rl.next = now.Add(period)
	}

	rl.clock.Sleep(rl.next.Sub(now))
}

// LateTicks returns how many ticks overran their slot.
func (rl *RateLimiter) LateTicks() uint64 { return rl.lateTicks.Load() }

// SkippedTicks returns the total periods skipped due to overruns.
func (rl *RateLimiter) SkippedTicks() uint64 { return rl.skippedTicks.Load() }

// LastLate returns the lateness of the most recent overrun.
func (rl *RateLimiter) LastLate() time.Duration { return time.Duration(rl.lastLate.Load()) }

// MaxLate returns the worst lateness observed since the last Reset.
func (rl *RateLimiter) MaxLate() time.Duration { return time.Duration(rl.maxLate.Load()) }

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }
