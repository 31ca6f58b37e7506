package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst
type Limiter struct {
	bucket *rate.Limiter
	now    func() time.Time
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return newLimiterWithClock(perSecond, burst, time.Now)
}

func newLimiterWithClock(perSecond float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:    now,
	}
}

func (l *Limiter) Allow() bool {
	return l.bucket.AllowN(l.now(), 1)
}

// Verdict is what a Guard decides for one inbound message
type Verdict int

const (
	// Process the message
	Accept Verdict = iota
	// Drop the message silently
	Drop
	// Drop the message and log a warning
	DropAndWarn
	// Close the connection
	Disconnect
)

// Guard wraps a Limiter with the per-connection escalation policy:
// over-limit messages are dropped, every warnEvery-th drop is reported,
// and after maxViolations drops the connection is closed.
type Guard struct {
	limiter       *Limiter
	violations    int
	warnEvery     int
	maxViolations int
}

func NewGuard(limiter *Limiter, warnEvery, maxViolations int) *Guard {
	if warnEvery <= 0 {
		warnEvery = 1
	}
	return &Guard{limiter: limiter, warnEvery: warnEvery, maxViolations: maxViolations}
}

func (g *Guard) Check() Verdict {
	if g.limiter.Allow() {
		return Accept
	}

	g.violations++
	if g.maxViolations > 0 && g.violations > g.maxViolations {
		return Disconnect
	}
	if g.violations%g.warnEvery == 1 || g.warnEvery == 1 {
		return DropAndWarn
	}
	return Drop
}

// Violations is the number of messages rejected so far
func (g *Guard) Violations() int {
	return g.violations
}
