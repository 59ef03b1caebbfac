package marketdata

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/models"
)

// RateLimiter guards outbound provider calls with two budgets: a per-minute
// token bucket and a per-day counter that resets at UTC midnight. Budgets
// are not persisted; a restart re-seeds them conservatively from zero usage.
type RateLimiter struct {
	minute *rate.Limiter
	clock  common.Clock

	mu       sync.Mutex
	perDay   int
	dayUsed  int
	dayStart time.Time // UTC midnight of the current counting day
}

// NewRateLimiter creates a limiter with the given per-minute and per-day
// budgets. A perDay of 0 disables the daily cap.
func NewRateLimiter(perMinute, perDay int, clock common.Clock) *RateLimiter {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &RateLimiter{
		// Burst equals the budget so a full idle minute can be spent at once.
		minute: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		clock:  clock,
		perDay: perDay,
	}
}

// TryAcquire takes one token without blocking. It reports false when either
// budget is exhausted; a false return consumes nothing.
func (l *RateLimiter) TryAcquire() bool {
	if !l.reserveDay() {
		return false
	}
	if !l.minute.AllowN(l.clock.Now(), 1) {
		l.refundDay()
		return false
	}
	return true
}

// WaitAcquire blocks until a token is available or the deadline passes.
// Used by the background refresher, which would rather wait out the minute
// bucket than skip a ticker.
func (l *RateLimiter) WaitAcquire(ctx context.Context, deadline time.Time) error {
	if !l.reserveDay() {
		return models.NewError(models.KindRateLimited, "daily provider budget exhausted")
	}

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := l.minute.Wait(waitCtx); err != nil {
		l.refundDay()
		return models.WrapError(models.KindRateLimited, "provider budget wait", err)
	}
	return nil
}

// reserveDay claims one unit of the daily budget, rolling the counter over
// at UTC midnight.
func (l *RateLimiter) reserveDay() bool {
	if l.perDay <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.clock.Now().UTC().Truncate(24 * time.Hour)
	if !today.Equal(l.dayStart) {
		l.dayStart = today
		l.dayUsed = 0
	}
	if l.dayUsed >= l.perDay {
		return false
	}
	l.dayUsed++
	return true
}

func (l *RateLimiter) refundDay() {
	if l.perDay <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dayUsed > 0 {
		l.dayUsed--
	}
}

// Remaining reports the unused daily budget, or -1 when the daily cap is
// disabled.
func (l *RateLimiter) Remaining() int {
	if l.perDay <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.clock.Now().UTC().Truncate(24 * time.Hour)
	if !today.Equal(l.dayStart) {
		return l.perDay
	}
	return l.perDay - l.dayUsed
}
